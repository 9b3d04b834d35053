// Package kv wraps the Redis client used as the lightweight key-value store
// for everything that does not belong in Postgres: per-domain
// circuit-breaker state shared across replicas (C3) and alert cooldown
// gates (C9).
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin, typed wrapper around *redis.Client so callers depend on
// a small interface-shaped surface instead of the full Redis client.
type Store struct {
	rdb *redis.Client
}

// New wraps an already-connected Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SetNX sets key to a sentinel value with the given TTL only if it does not
// already exist, returning whether the set happened. Used for cooldown gates
// and other "only once per window" checks.
func (s *Store) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Get returns the string value at key, or ok=false if it is unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes value at key with the given TTL (zero means no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Incr increments key and, on its first increment, applies ttl.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		s.rdb.Expire(ctx, key, ttl)
	}
	return n, nil
}

// Del removes key, used to reset a breaker once a domain recovers.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
