package session

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/parslaw/dadgar/pkg/models"
)

const (
	chatKeyPrefix = "dadgar:chat:"
	defaultTTL    = 7 * 24 * time.Hour
)

// RedisStore keeps session state in Redis with optimistic locking, for
// installs where several gateway replicas serve the same chats.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Load returns (nil, nil) for an unknown chat and refreshes the key's
// TTL on every read so active chats never expire mid-conversation.
func (s *RedisStore) Load(ctx context.Context, chatID string) (*models.SessionState, error) {
	key := s.key(chatID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st models.SessionState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return nil, models.ErrMalformedSessionState
	}
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return &st, nil
}

// Save persists the state under WATCH so a concurrent writer of the
// same chat forces ErrVersionConflict instead of a lost update.
func (s *RedisStore) Save(ctx context.Context, st *models.SessionState) error {
	key := s.key(st.ChatID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var stored models.SessionState
			if jerr := json.Unmarshal([]byte(val), &stored); jerr == nil && stored.Version != st.Version {
				return ErrVersionConflict
			}
		}

		st.Version++
		st.UpdatedAt = time.Now()
		newVal, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(chatID string) string {
	return chatKeyPrefix + chatID
}
