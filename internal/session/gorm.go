package session

import (
	"context"

	dbgorm "github.com/parslaw/dadgar/internal/db/gorm"
	"github.com/parslaw/dadgar/pkg/models"
)

// GormStore persists session state in the service's sqlite database.
// Per-chat locks in the turn pipeline serialize writers within one
// process, so no version check is needed here.
type GormStore struct {
	inner *dbgorm.SessionStore
}

func NewGormStore(inner *dbgorm.SessionStore) *GormStore {
	return &GormStore{inner: inner}
}

func (s *GormStore) Load(ctx context.Context, chatID string) (*models.SessionState, error) {
	return s.inner.Load(ctx, chatID)
}

func (s *GormStore) Save(ctx context.Context, st *models.SessionState) error {
	st.Version++
	return s.inner.Save(ctx, st)
}

// Close is a no-op; the underlying database is owned by the service.
func (s *GormStore) Close() error { return nil }
