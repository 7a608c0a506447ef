package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cee/internal/kv"
)

func newTestBuffer() *Buffer {
	return NewBuffer(kv.NewMemoryStore(), DefaultLimits())
}

func TestBufferEventRequiresInit(t *testing.T) {
	b := newTestBuffer()
	ctx := context.Background()
	err := b.BufferEvent(ctx, "missing", "stage.started", PriorityHigh, map[string]string{"a": "b"})
	require.NoError(t, err)
	events, err := b.GetBufferedEvents(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBufferAndReadEventsSince(t *testing.T) {
	b := newTestBuffer()
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "req1"))

	require.NoError(t, b.BufferEvent(ctx, "req1", "stage.started", PriorityHigh, map[string]string{"stage": "parse"}))
	require.NoError(t, b.BufferEvent(ctx, "req1", "stage.completed", PriorityMedium, map[string]string{"stage": "parse"}))

	all, err := b.GetBufferedEvents(ctx, "req1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, int64(2), all[1].Seq)

	since1, err := b.GetBufferedEvents(ctx, "req1", 1)
	require.NoError(t, err)
	require.Len(t, since1, 1)
	assert.Equal(t, int64(2), since1[0].Seq)
}

func TestBufferEvictsLowestPriorityFirst(t *testing.T) {
	b := newTestBuffer()
	b.limits.MaxEvents = 2
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "req2"))

	require.NoError(t, b.BufferEvent(ctx, "req2", "e1", PriorityLow, map[string]string{"i": "1"}))
	require.NoError(t, b.BufferEvent(ctx, "req2", "e2", PriorityHigh, map[string]string{"i": "2"}))
	require.NoError(t, b.BufferEvent(ctx, "req2", "e3", PriorityHigh, map[string]string{"i": "3"}))

	all, err := b.GetBufferedEvents(ctx, "req2", 0)
	require.NoError(t, err)
	types := make([]string, len(all))
	for i, e := range all {
		types[i] = e.Type
	}
	assert.NotContains(t, types, "e1")
	assert.Contains(t, types, "e2")
	assert.Contains(t, types, "e3")
}

func TestBufferOverflowEmitsTrimmedForEvictedSeq(t *testing.T) {
	b := newTestBuffer()
	b.limits.MaxEvents = 3
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "req5"))

	require.NoError(t, b.BufferEvent(ctx, "req5", "e1", PriorityLow, map[string]string{"i": "1"}))
	require.NoError(t, b.BufferEvent(ctx, "req5", "e2", PriorityLow, map[string]string{"i": "2"}))
	require.NoError(t, b.BufferEvent(ctx, "req5", "e3", PriorityLow, map[string]string{"i": "3"}))
	require.NoError(t, b.BufferEvent(ctx, "req5", "e4", PriorityLow, map[string]string{"i": "4"}))

	all, err := b.GetBufferedEvents(ctx, "req5", 0)
	require.NoError(t, err)

	var trimmed *Event
	for i := range all {
		if all[i].Type == "SseBufferTrimmed" {
			trimmed = &all[i]
		}
	}
	require.NotNil(t, trimmed)
	assert.Equal(t, int64(1), trimmed.Seq)
	assert.Contains(t, string(trimmed.Payload), `"reason":"count_limit"`)

	st, ok, err := b.loadState(ctx, "req5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), st.LastSeq)
	assert.Equal(t, 3, st.BufferEventCount)
}

func TestBufferAllCriticalOverflowDropsIncomingAndLeavesLastSeqUnchanged(t *testing.T) {
	b := newTestBuffer()
	b.limits.MaxEvents = 3
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "req6"))

	require.NoError(t, b.BufferEvent(ctx, "req6", "e1", PriorityCritical, map[string]string{"i": "1"}))
	require.NoError(t, b.BufferEvent(ctx, "req6", "e2", PriorityCritical, map[string]string{"i": "2"}))
	require.NoError(t, b.BufferEvent(ctx, "req6", "e3", PriorityCritical, map[string]string{"i": "3"}))
	require.NoError(t, b.BufferEvent(ctx, "req6", "e4", PriorityCritical, map[string]string{"i": "4"}))

	st, ok, err := b.loadState(ctx, "req6")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), st.LastSeq)
	assert.Equal(t, 3, st.BufferEventCount)

	all, err := b.GetBufferedEvents(ctx, "req6", 0)
	require.NoError(t, err)
	var trimmed *Event
	for i := range all {
		if all[i].Type == "SseBufferTrimmed" {
			trimmed = &all[i]
		}
	}
	require.NotNil(t, trimmed)
	assert.Contains(t, string(trimmed.Payload), `"dropped_incoming":true`)
}

func TestMarkCompleteWritesSnapshot(t *testing.T) {
	b := newTestBuffer()
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "req3"))
	require.NoError(t, b.MarkComplete(ctx, "req3", map[string]string{"result": "ok"}, StatusCompleted))

	raw, ok, err := b.store.Get(ctx, snapshotKey("req3"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "result")
}

func TestCleanupRemovesStateAndBuffer(t *testing.T) {
	b := newTestBuffer()
	ctx := context.Background()
	require.NoError(t, b.Init(ctx, "req4"))
	require.NoError(t, b.BufferEvent(ctx, "req4", "e1", PriorityHigh, map[string]string{}))
	require.NoError(t, b.Cleanup(ctx, "req4"))

	_, ok, err := b.store.Get(ctx, stateKey("req4"))
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := b.GetBufferedEvents(ctx, "req4", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
