package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the idempotency bucket with Redis's SET ... NX EX,
// which is itself an atomic create-if-absent-with-TTL primitive — no
// WATCH/MULTI transaction is needed for this store, unlike the rate
// limiter's shared bucket which has to read-modify-write.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces keys, e.g.
// "idemp/" so the idempotency bucket and rate-limit bucket (which share
// a Redis deployment per the IDEMPOTENCY_BUCKET/RATE_LIMIT_BUCKET
// configuration options) never collide.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idemp/"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Claim implements Store.
func (s *RedisStore) Claim(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key.String(), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
