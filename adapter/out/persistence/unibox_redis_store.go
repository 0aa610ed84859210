package persistence

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"unibox_server/core/port/out"
)

// =============================================================================
// Redis Token Store
// =============================================================================

const sessionKey = "unibox:session"

// RedisStore persists the session as a single JSON value. Selected when
// REDIS_URL is configured; useful when several instances share one session.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Load returns the stored session, or (nil, nil) when the key is absent.
func (s *RedisStore) Load(ctx context.Context) (*out.SessionState, error) {
	data, err := s.client.Get(ctx, sessionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state out.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save writes the session JSON. No TTL: the session lives until cleared.
func (s *RedisStore) Save(ctx context.Context, state *out.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey, data, 0).Err()
}

// Clear deletes the session key.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, sessionKey).Err()
}

// Ping reports backend reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ out.TokenStorePort = (*RedisStore)(nil)
