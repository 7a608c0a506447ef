// Package kv provides the key-value abstraction shared by the
// resumable event stream (C7) and the rate limiter (C8): string get/set
// with TTL, list append/range/remove, and key deletion. Two
// implementations back it: RedisStore for production and MemoryStore
// (xsync-backed) for single-process deployments and tests.
package kv

import (
	"context"
	"time"
)

// Store is the minimal surface both the stream buffer and the rate
// limiter need. All keys are expected to carry a TTL; callers set it on
// every write that can create a key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error
	LRange(ctx context.Context, key string) ([]string, error)
	LRem(ctx context.Context, key, value string) error

	// Incr atomically increments an integer counter key, creating it
	// if absent, applies the given TTL, and returns the new value. The
	// rate limiter keeps its buckets with Get/Set and does not call it.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
