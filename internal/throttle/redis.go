package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Store backed by Redis SET NX PX, for deployments where
// several API instances must share cooldown state. Expiry is handled by
// Redis TTLs, so Sweep is a no-op.
//
// SET NX is atomic, so unlike MemoryStore two concurrent callers cannot both
// pass the ShouldFire check for the same key.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed Store. keyPrefix namespaces throttle
// keys within the Redis keyspace (e.g. "trekmate:throttle").
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "trekmate:throttle"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// ShouldFire implements Store. The key is created with NX so only the first
// caller within the window observes true; the TTL equals the window.
func (s *RedisStore) ShouldFire(ctx context.Context, key Key, window time.Duration) (bool, error) {
	k := fmt.Sprintf("%s:%s", s.keyPrefix, key.String())
	ok, err := s.client.SetNX(ctx, k, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("throttle: redis SETNX %s: %w", k, err)
	}
	return ok, nil
}

// Sweep is a no-op: Redis expires entries via TTL.
func (s *RedisStore) Sweep(_ context.Context) error {
	return nil
}
