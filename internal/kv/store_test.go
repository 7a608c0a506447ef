package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func testStoreContract(t *testing.T, newStore func() Store) {
	t.Run("get/set roundtrip", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
		v, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("del removes key", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
		require.NoError(t, s.Del(ctx, "k"))
		_, ok, _ := s.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("list push/range/rem", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		require.NoError(t, s.RPush(ctx, "list", time.Minute, "a", "b", "c"))
		vals, err := s.LRange(ctx, "list")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, vals)

		require.NoError(t, s.LRem(ctx, "list", "b"))
		vals, err = s.LRange(ctx, "list")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, vals)
	})

	t.Run("incr counts up from zero", func(t *testing.T) {
		s := newStore()
		ctx := context.Background()
		n, err := s.Incr(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = s.Incr(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, func() Store { return NewMemoryStore() })
}

func TestRedisStoreContract(t *testing.T) {
	testStoreContract(t, func() Store { return newTestRedisStore(t) })
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
