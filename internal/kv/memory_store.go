package kv

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	value     string
	list      []string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a single-process Store backed by xsync's lock-free
// concurrent map, for deployments (and tests) that run without Redis.
// There is no background sweep; an expired entry is treated as absent
// and removed when its key is next accessed, which is enough for a
// request-scoped resumable stream.
type MemoryStore struct {
	m *xsync.MapOf[string, *entry]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: xsync.NewMapOf[string, *entry]()}
}

func (s *MemoryStore) load(key string) (*entry, bool) {
	e, ok := s.m.Load(key)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		s.m.Delete(key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := s.load(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.m.Store(key, e)
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.m.Delete(k)
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	e, ok := s.load(key)
	if !ok {
		return nil
	}
	e.expiresAt = time.Now().Add(ttl)
	s.m.Store(key, e)
	return nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, ttl time.Duration, values ...string) error {
	e, ok := s.load(key)
	if !ok {
		e = &entry{}
	}
	e.list = append(e.list, values...)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.m.Store(key, e)
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string) ([]string, error) {
	e, ok := s.load(key)
	if !ok {
		return nil, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (s *MemoryStore) LRem(_ context.Context, key, value string) error {
	e, ok := s.load(key)
	if !ok {
		return nil
	}
	for i, v := range e.list {
		if v == value {
			e.list = append(e.list[:i], e.list[i+1:]...)
			break
		}
	}
	s.m.Store(key, e)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	actual, _ := s.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded || old.expired(time.Now()) {
			old = &entry{value: "0"}
		}
		n := parseCount(old.value) + 1
		old.value = formatCount(n)
		if ttl > 0 {
			old.expiresAt = time.Now().Add(ttl)
		}
		return old, false
	})
	return parseCount(actual.value), nil
}

func parseCount(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func formatCount(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
