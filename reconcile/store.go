package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrStoreMiss = errors.New("store: key not found")

// Store holds run-scoped state (live session snapshots, cached summaries)
// keyed per tenant. Implementations must be safe for concurrent use; no
// process-wide singletons, every consumer receives its own handle.
type Store interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type redisStore struct {
	client func() *redis.Client
	prefix string
}

// NewRedisStore returns a Store backed by redis. All keys are namespaced
// under the given prefix so tenants on a shared instance never collide.
func NewRedisStore(rdb *redis.Client, prefix string) Store {
	return &redisStore{client: func() *redis.Client { return rdb }, prefix: prefix}
}

// NewLazyRedisStore resolves the client on every call. Routes are registered
// before the redis connection is up; this keeps construction order loose.
func NewLazyRedisStore(provider func() *redis.Client, prefix string) Store {
	return &redisStore{client: provider, prefix: prefix}
}

func (s *redisStore) rdb() (*redis.Client, error) {
	rdb := s.client()
	if rdb == nil {
		return nil, errors.New("store: redis is not connected")
	}
	return rdb, nil
}

func (s *redisStore) fullKey(key string) string {
	return s.prefix + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string, dest any) error {
	rdb, err := s.rdb()
	if err != nil {
		return err
	}
	raw, err := rdb.Get(ctx, s.fullKey(key)).Result()
	if err == redis.Nil {
		return ErrStoreMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (s *redisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	rdb, err := s.rdb()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, s.fullKey(key), raw, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	rdb, err := s.rdb()
	if err != nil {
		return err
	}
	return rdb.Del(ctx, s.fullKey(key)).Err()
}
