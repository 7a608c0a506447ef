package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cee/internal/stream"
)

func newTestClient(hub *Hub, id string) *Client {
	return &Client{hub: hub, id: id, subs: newSubscriptions(), send: make(chan *WSEvent, sendBufferSize)}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.byRequestID)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubRegisterClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub, "client-1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubUnregisterClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub, "client-1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubSubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "client-1")

	hub.Subscribe(client, "req-123")
	assert.True(t, client.shouldReceive("req-123"))

	hub.Unsubscribe(client, "req-123")
	assert.False(t, client.shouldReceive("req-123"))
}

func TestHubBroadcastOnlyReachesSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	time.Sleep(10 * time.Millisecond)

	client1 := newTestClient(hub, "client-1")
	client2 := newTestClient(hub, "client-2")
	hub.Register(client1)
	hub.Register(client2)
	time.Sleep(10 * time.Millisecond)

	hub.Subscribe(client1, "req-123")
	hub.Subscribe(client2, "req-456")

	event := NewWSEvent("req-123", stream.Event{Seq: 1, Type: "repair.applied", Priority: stream.PriorityMedium})
	hub.Broadcast("req-123", event)

	select {
	case received := <-client1.send:
		assert.Equal(t, int64(1), received.Seq)
		assert.Equal(t, "req-123", received.RequestID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client1 did not receive event")
	}

	select {
	case <-client2.send:
		t.Fatal("client2 should not receive event for a different request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterCleansUpSubscriptions(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	time.Sleep(10 * time.Millisecond)

	client := newTestClient(hub, "client-1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	hub.Subscribe(client, "req-123")
	hub.mu.RLock()
	_, ok := hub.byRequestID["req-123"][client]
	hub.mu.RUnlock()
	require.True(t, ok)

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, exists := hub.byRequestID["req-123"]
	hub.mu.RUnlock()
	assert.False(t, exists)
}

func TestHubUnsubscribePreservesOtherSubscribers(t *testing.T) {
	hub := NewHub()
	client1 := newTestClient(hub, "client-1")
	client2 := newTestClient(hub, "client-2")

	hub.Subscribe(client1, "req-123")
	hub.Subscribe(client2, "req-123")

	hub.Unsubscribe(client1, "req-123")

	assert.False(t, client1.shouldReceive("req-123"))
	assert.True(t, client2.shouldReceive("req-123"))
}

func TestHubUnregisterUnknownClientDoesNotPanic(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	time.Sleep(10 * time.Millisecond)

	unknown := newTestClient(hub, "unknown")
	assert.NotPanics(t, func() {
		hub.Unregister(unknown)
		time.Sleep(10 * time.Millisecond)
	})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubImplementsBroadcaster(t *testing.T) {
	var _ Broadcaster = NewHub()
}
