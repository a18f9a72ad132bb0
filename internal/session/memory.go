package session

import (
	"context"
	"sync"
	"time"

	"github.com/parslaw/dadgar/pkg/models"
)

// MemoryStore keeps session state in a map with version checks. Used
// in tests and throwaway installs; state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.SessionState)}
}

func (s *MemoryStore) Load(_ context.Context, chatID string) (*models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[chatID]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.History = append(models.ChatMessages(nil), st.History...)
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, st *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.sessions[st.ChatID]; ok && stored.Version != st.Version {
		return ErrVersionConflict
	}
	st.Version++
	st.UpdatedAt = time.Now()
	cp := *st
	cp.History = append(models.ChatMessages(nil), st.History...)
	s.sessions[st.ChatID] = &cp
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	return nil
}
