// Package stream implements C7: a resumable event stream over the kv
// store. Events buffer under TTL-scoped keys so a client that
// disconnects mid-request can resume from its last seen sequence
// number instead of replaying the whole pipeline.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cee/internal/kv"
)

// Priority classifies events for eviction ordering: CRITICAL events are
// never evicted; the rest evict LOW first, then MEDIUM, then HIGH.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

var evictionOrder = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Status is the lifecycle state of a StreamState.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is one unit of pipeline progress pushed to a stream.
type Event struct {
	Seq      int64           `json:"seq"`
	Type     string          `json:"type"`
	Priority Priority        `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
}

// StreamState is the TTL-scoped bookkeeping record for one request's
// resumable stream.
type StreamState struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	LastSeq         int64     `json:"last_seq"`
	BufferSizeBytes int64     `json:"buffer_size_bytes"`
	BufferEventCount int      `json:"buffer_event_count"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

// Limits bounds buffer growth.
type Limits struct {
	MaxEvents    int
	MaxSizeBytes int64
	StateTTL     time.Duration
	SnapshotTTL  time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxEvents:    256,
		MaxSizeBytes: int64(1.5 * 1024 * 1024),
		StateTTL:     900 * time.Second,
		SnapshotTTL:  900 * time.Second,
	}
}

// Buffer is the stream buffer, bound to one kv.Store and one Limits
// configuration.
type Buffer struct {
	store  kv.Store
	limits Limits
}

func NewBuffer(store kv.Store, limits Limits) *Buffer {
	return &Buffer{store: store, limits: limits}
}

func stateKey(id string) string    { return "sse:state:" + id }
func bufferKey(id string) string   { return "sse:buffer:" + id }
func snapshotKey(id string) string { return "sse:snapshot:" + id }
func metaKey(id string, p Priority) string {
	return fmt.Sprintf("sse:meta:%s:%s", id, p)
}

type metaEntry struct {
	Seq    int64
	Base64 string
}

func (m metaEntry) marshal() string {
	b, _ := json.Marshal(struct {
		Seq    int64  `json:"seq"`
		Base64 string `json:"base64"`
	}{m.Seq, m.Base64})
	return string(b)
}

func unmarshalMeta(s string) (metaEntry, bool) {
	var out struct {
		Seq    int64  `json:"seq"`
		Base64 string `json:"base64"`
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return metaEntry{}, false
	}
	return metaEntry{Seq: out.Seq, Base64: out.Base64}, true
}

// Init creates a new active StreamState for id.
func (b *Buffer) Init(ctx context.Context, id string) error {
	st := StreamState{ID: id, Status: StatusActive}
	return b.saveState(ctx, st)
}

func (b *Buffer) loadState(ctx context.Context, id string) (StreamState, bool, error) {
	raw, ok, err := b.store.Get(ctx, stateKey(id))
	if err != nil || !ok {
		return StreamState{}, ok, err
	}
	var st StreamState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return StreamState{}, false, err
	}
	return st, true, nil
}

func (b *Buffer) saveState(ctx context.Context, st StreamState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return b.store.Set(ctx, stateKey(st.ID), string(raw), b.limits.StateTTL)
}

// BufferEvent implements the resumable-stream write path: load state
// (abort silently if absent), serialize and base64-encode the event,
// evict lowest-priority buffered events if the new one would overflow
// size or count limits, and only then append. Every eviction emits a
// SseBufferTrimmed notification carrying the evicted event's own seq,
// so last_seq only advances for events that actually made it into the
// buffer — including the drop-incoming case, where the incoming event
// itself never gets a seq and last_seq is left untouched.
func (b *Buffer) BufferEvent(ctx context.Context, id string, evtType string, priority Priority, payload any) error {
	st, ok, err := b.loadState(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	nextSeq := st.LastSeq + 1
	evt := Event{Seq: nextSeq, Type: evtType, Priority: priority, Payload: raw, At: time.Now()}
	evtBytes, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(evtBytes)
	size := int64(len(encoded))

	for st.BufferSizeBytes+size > b.limits.MaxSizeBytes || st.BufferEventCount >= b.limits.MaxEvents {
		evictedSeq, evictedSize, evicted, err := b.evictLowestPriority(ctx, id)
		if err != nil {
			return err
		}
		if !evicted {
			if err := b.emitTrimmed(ctx, id, st.LastSeq, "critical_size_or_count_limit", true); err != nil {
				return err
			}
			return b.saveState(ctx, st)
		}
		st.BufferEventCount--
		reason := "count_limit"
		if st.BufferSizeBytes+size > b.limits.MaxSizeBytes {
			reason = "size_limit"
		}
		st.BufferSizeBytes -= evictedSize
		if err := b.emitTrimmed(ctx, id, evictedSeq, reason, false); err != nil {
			return err
		}
	}

	st.LastSeq = nextSeq
	if err := b.store.RPush(ctx, bufferKey(id), b.limits.StateTTL, encoded); err != nil {
		return err
	}
	if priority != PriorityCritical {
		m := metaEntry{Seq: evt.Seq, Base64: encoded}
		if err := b.store.RPush(ctx, metaKey(id, priority), b.limits.StateTTL, m.marshal()); err != nil {
			return err
		}
	}

	st.BufferSizeBytes += size
	st.BufferEventCount++
	if evtType == "heartbeat" {
		st.LastHeartbeatAt = time.Now()
	}
	return b.saveState(ctx, st)
}

// emitTrimmed appends a synthetic SseBufferTrimmed event carrying seq
// (the evicted event's own seq, or the unchanged last_seq when nothing
// could be evicted). It never advances st.LastSeq and never counts
// toward st.BufferSizeBytes/BufferEventCount: it is a system
// notification, not a quota-consuming buffered event.
func (b *Buffer) emitTrimmed(ctx context.Context, id string, seq int64, reason string, droppedIncoming bool) error {
	payload := map[string]any{"reason": reason, "dropped_incoming": droppedIncoming}
	raw, _ := json.Marshal(payload)
	evt := Event{Seq: seq, Type: "SseBufferTrimmed", Priority: PriorityCritical, Payload: raw, At: time.Now()}
	evtBytes, _ := json.Marshal(evt)
	encoded := base64.StdEncoding.EncodeToString(evtBytes)
	return b.store.RPush(ctx, bufferKey(id), b.limits.StateTTL, encoded)
}

// evictLowestPriority removes one event from the lowest-occupied
// priority tier (LOW, then MEDIUM, then HIGH) and returns its seq and
// encoded size. Returns evicted=false if no non-CRITICAL event remains
// to evict.
func (b *Buffer) evictLowestPriority(ctx context.Context, id string) (seq, size int64, evicted bool, err error) {
	for _, p := range evictionOrder {
		key := metaKey(id, p)
		entries, err := b.store.LRange(ctx, key)
		if err != nil {
			return 0, 0, false, err
		}
		if len(entries) == 0 {
			continue
		}
		victim := entries[0]
		if err := b.store.LRem(ctx, key, victim); err != nil {
			return 0, 0, false, err
		}
		m, ok := unmarshalMeta(victim)
		if !ok {
			continue
		}
		if err := b.store.LRem(ctx, bufferKey(id), m.Base64); err != nil {
			return 0, 0, false, err
		}
		return m.Seq, int64(len(m.Base64)), true, nil
	}
	return 0, 0, false, nil
}

// GetBufferedEvents returns every buffered event with seq > fromSeq, in
// FIFO order. Malformed entries are dropped rather than failing the
// whole read.
func (b *Buffer) GetBufferedEvents(ctx context.Context, id string, fromSeq int64) ([]Event, error) {
	raw, err := b.store.LRange(ctx, bufferKey(id))
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, encoded := range raw {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		var evt Event
		if err := json.Unmarshal(decoded, &evt); err != nil {
			continue
		}
		if evt.Seq > fromSeq {
			out = append(out, evt)
		}
	}
	return out, nil
}

// MarkComplete sets the stream status, persists the final snapshot, and
// resets TTL to the snapshot TTL on both state and snapshot keys.
func (b *Buffer) MarkComplete(ctx context.Context, id string, payload any, status Status) error {
	st, ok, err := b.loadState(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		st = StreamState{ID: id}
	}
	st.Status = status

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, snapshotKey(id), string(raw), b.limits.SnapshotTTL); err != nil {
		return err
	}
	st.Status = status
	if err := b.store.Set(ctx, stateKey(id), mustJSON(st), b.limits.SnapshotTTL); err != nil {
		return err
	}
	return nil
}

// RenewSnapshot extends the snapshot TTL during live streaming.
func (b *Buffer) RenewSnapshot(ctx context.Context, id string) error {
	return b.store.Expire(ctx, snapshotKey(id), b.limits.SnapshotTTL)
}

// Cleanup deletes state, buffer, and all priority meta keys, keeping
// only the snapshot.
func (b *Buffer) Cleanup(ctx context.Context, id string) error {
	keys := []string{stateKey(id), bufferKey(id)}
	for _, p := range []Priority{PriorityHigh, PriorityMedium, PriorityLow} {
		keys = append(keys, metaKey(id, p))
	}
	return b.store.Del(ctx, keys...)
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// NewRequestID mints a fresh stream identifier.
func NewRequestID() string {
	return uuid.NewString()
}
