// Package sse provides the Server-Sent Events feed of gateway activity:
// completed turns, policy reloads, and prompt changes.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds writes to a single client so a stale connection
// cannot stall the feed.
const WriteTimeout = 2 * time.Second

// Event types published on the feed.
const (
	EventTurnCompleted  = "turn_completed"
	EventPolicyReloaded = "policy_reloaded"
	EventPromptUpdated  = "prompt_updated"
)

// Event is one feed entry.
type Event struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	Module    string    `json:"module,omitempty"`
	PromptID  string    `json:"prompt_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one connected feed subscriber.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
}

// Broadcaster manages feed subscribers and event fan-out.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*Client)}
}

// AddClient registers a subscriber connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("client_id", id).Int("total_clients", count).Msg("event feed client connected")
	return client, nil
}

// RemoveClient unregisters a subscriber.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	close(client.Done)
	log.Debug().Str("client_id", client.ID).Int("total_clients", count).Msg("event feed client disconnected")
}

func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if exists {
		select {
		case <-client.Done:
		default:
			close(client.Done)
		}
	}
}

// Publish sends an event to all subscribers. Writes run concurrently
// with per-client timeouts; clients that fail or stall are dropped.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal feed event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadCh := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				b.writeToClient(c, message, deadCh)
			}(client)
		}
	}
	wg.Wait()
	close(deadCh)

	for id := range deadCh {
		b.removeClientByID(id)
	}
}

func (b *Broadcaster) writeToClient(client *Client, message string, deadCh chan<- string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := client.Writer.Write([]byte(message)); err != nil {
			log.Debug().Str("client_id", client.ID).Err(err).Msg("event feed write failed")
			deadCh <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(WriteTimeout):
		log.Warn().Str("client_id", client.ID).Dur("timeout", WriteTimeout).Msg("event feed write timed out")
		deadCh <- client.ID
	case <-client.Done:
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Handle serves a feed subscription until the client disconnects.
func (b *Broadcaster) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client_id\":%q}\n\n", client.ID)
	client.Flusher.Flush()

	<-r.Context().Done()
}
