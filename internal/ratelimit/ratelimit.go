// Package ratelimit implements C8: a token bucket per
// (key_id, feature, bucket_kind) that refills continuously, backed by
// the shared kv.Store so buckets are authoritative across processes
// when Redis is configured and fall back to an in-process store
// otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"cee/internal/kv"
)

// BucketKind distinguishes request-scoped admission from
// stream-scoped admission; each has its own default RPM.
type BucketKind string

const (
	BucketRequest BucketKind = "request"
	BucketStream  BucketKind = "stream"

	DefaultRequestRPM = 120
	DefaultStreamRPM  = 20
)

// Decision is tryConsumeToken's verdict.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds float64
	KeyID             string
}

// RPMResolver looks up the effective RPM for a feature, allowing
// per-feature environment overrides (e.g. CEE_DRAFT_RATE_LIMIT_RPM) to
// take precedence over the bucket-kind default.
type RPMResolver func(feature string, kind BucketKind) int

// Limiter evaluates and updates token buckets.
type Limiter struct {
	store   kv.Store
	resolve RPMResolver
}

func New(store kv.Store, resolve RPMResolver) *Limiter {
	return &Limiter{store: store, resolve: resolve}
}

type bucketState struct {
	Tokens     float64
	LastRefill int64 // unix nano
}

func bucketKey(keyID, feature string, kind BucketKind) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", keyID, feature, kind)
}

// TryConsumeToken evaluates one request against the bucket for
// (keyID, feature, kind), refilling continuously since the bucket's
// last observed state, and consumes one token if available.
func (l *Limiter) TryConsumeToken(ctx context.Context, keyID, feature string, kind BucketKind, now time.Time) (Decision, error) {
	rpm := l.resolve(feature, kind)
	if rpm <= 0 {
		if kind == BucketStream {
			rpm = DefaultStreamRPM
		} else {
			rpm = DefaultRequestRPM
		}
	}
	capacity := float64(rpm)
	refillPerSec := capacity / 60.0

	key := bucketKey(keyID, feature, kind)
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	var st bucketState
	if ok {
		st = decodeState(raw)
	} else {
		st = bucketState{Tokens: capacity, LastRefill: now.UnixNano()}
	}

	elapsed := time.Duration(now.UnixNano() - st.LastRefill).Seconds()
	if elapsed > 0 {
		st.Tokens = math.Min(capacity, st.Tokens+elapsed*refillPerSec)
		st.LastRefill = now.UnixNano()
	}

	if st.Tokens >= 1.0 {
		st.Tokens -= 1.0
		if err := l.store.Set(ctx, key, encodeState(st), time.Hour); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, KeyID: keyID}, nil
	}

	deficit := 1.0 - st.Tokens
	retryAfter := deficit / refillPerSec
	if err := l.store.Set(ctx, key, encodeState(st), time.Hour); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter, KeyID: keyID}, nil
}

// Stats reports the backend type currently in use.
func (l *Limiter) Stats() string {
	switch l.store.(type) {
	case *kv.RedisStore:
		return "redis"
	case *kv.MemoryStore:
		return "memory"
	default:
		return "custom"
	}
}

func encodeState(st bucketState) string {
	return fmt.Sprintf("%f:%d", st.Tokens, st.LastRefill)
}

func decodeState(raw string) bucketState {
	var tokens float64
	var lastRefill int64
	if _, err := fmt.Sscanf(raw, "%f:%d", &tokens, &lastRefill); err != nil {
		return bucketState{}
	}
	return bucketState{Tokens: tokens, LastRefill: lastRefill}
}
