package session

import "sync"

// ChatLocks serializes turns per chat within one process. Redis WATCH
// guards cross-process races; this guard keeps a single replica from
// interleaving read-modify-write cycles on the same chat.
type ChatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func NewChatLocks() *ChatLocks {
	return &ChatLocks{locks: make(map[string]*chatLock)}
}

// Active returns the number of chats with a held or contended lock.
func (c *ChatLocks) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// Lock blocks until the chat's lock is held and returns the unlock
// function. Lock entries are dropped once no turn holds or waits on
// them, so the map stays proportional to in-flight chats.
func (c *ChatLocks) Lock(chatID string) func() {
	c.mu.Lock()
	l, ok := c.locks[chatID]
	if !ok {
		l = &chatLock{}
		c.locks[chatID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, chatID)
		}
		c.mu.Unlock()
	}
}
