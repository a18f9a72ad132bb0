// Package session provides pluggable durable storage for per-chat
// state, with sqlite, redis, and in-memory drivers.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/parslaw/dadgar/internal/config"
	dbgorm "github.com/parslaw/dadgar/internal/db/gorm"
	"github.com/parslaw/dadgar/pkg/models"
)

// ErrVersionConflict is returned when a save races a concurrent writer
// of the same chat. Callers reload and retry.
var ErrVersionConflict = errors.New("session version conflict")

// Store persists chat session state. Load returns (nil, nil) for an
// unknown chat. Save bumps the state's Version; drivers with shared
// backends reject stale versions with ErrVersionConflict.
type Store interface {
	Load(ctx context.Context, chatID string) (*models.SessionState, error)
	Save(ctx context.Context, st *models.SessionState) error
	Close() error
}

// Open builds a Store from the configured driver. The gorm driver
// shares the service database; redis keeps state in its own keyspace
// so several gateway replicas can share chats.
func Open(settings *config.Settings, db *dbgorm.Store) (Store, error) {
	switch settings.SessionDriver {
	case "", "gorm":
		return NewGormStore(dbgorm.NewSessionStore(db)), nil
	case "redis":
		if settings.RedisAddr == "" {
			return nil, fmt.Errorf("session driver redis requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		return NewRedisStore(client, 0), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", settings.SessionDriver)
	}
}
