package sse

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRemoveClient(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()

	client, err := b.AddClient(rec)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ClientCount())

	b.RemoveClient(client)
	assert.Equal(t, 0, b.ClientCount())

	select {
	case <-client.Done:
	default:
		t.Fatal("Done channel not closed on removal")
	}
}

func TestPublishReachesAllClients(t *testing.T) {
	b := NewBroadcaster()

	recs := make([]*httptest.ResponseRecorder, 3)
	for i := range recs {
		recs[i] = httptest.NewRecorder()
		_, err := b.AddClient(recs[i])
		require.NoError(t, err)
	}

	b.Publish(Event{Type: EventTurnCompleted, ChatID: "chat-1", Module: "contract_drafting"})

	for _, rec := range recs {
		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, "data: "))
		assert.Contains(t, body, `"type":"turn_completed"`)
		assert.Contains(t, body, `"chat_id":"chat-1"`)
		assert.Contains(t, body, `"module":"contract_drafting"`)
	}
}

func TestPublishSetsTimestamp(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()
	_, err := b.AddClient(rec)
	require.NoError(t, err)

	b.Publish(Event{Type: EventPolicyReloaded})
	assert.Contains(t, rec.Body.String(), `"timestamp"`)
}

func TestPublishNoClients(t *testing.T) {
	b := NewBroadcaster()
	// Must not panic or block
	b.Publish(Event{Type: EventPromptUpdated, PromptID: "core"})
}

// lockedRecorder makes the recorder safe under concurrent publishes.
type lockedRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *lockedRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *lockedRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func TestPublishConcurrent(t *testing.T) {
	b := NewBroadcaster()
	rec := &lockedRecorder{ResponseRecorder: httptest.NewRecorder()}
	_, err := b.AddClient(rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(Event{Type: EventTurnCompleted, Timestamp: time.Now()})
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	body := rec.Body.String()
	rec.mu.Unlock()
	assert.Equal(t, 10, strings.Count(body, "data: "))
}
