// Package websocket is the optional live-transport adapter for the
// resumable event stream (internal/stream). It only re-broadcasts
// events already written to the KV buffer to subscribed connections —
// the buffer remains the source of truth, and a client that misses a
// broadcast (disconnected, slow) can always recover via
// stream.GetBufferedEvents.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"cee/internal/stream"
)

const sendBufferSize = 64

// Upgrader is shared by callers that accept incoming connections.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WSEvent is the wire shape broadcast to subscribed clients.
type WSEvent struct {
	RequestID string          `json:"request_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Priority  stream.Priority `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
}

// NewWSEvent adapts a buffered stream event for transport.
func NewWSEvent(requestID string, e stream.Event) *WSEvent {
	return &WSEvent{RequestID: requestID, Seq: e.Seq, Type: e.Type, Priority: e.Priority, Payload: e.Payload}
}

// Broadcaster re-broadcasts events for a request to subscribed clients.
type Broadcaster interface {
	Broadcast(requestID string, event *WSEvent)
}

type broadcastMsg struct {
	requestID string
	event     *WSEvent
}

// subscriptions tracks which request IDs one client is watching.
type subscriptions struct {
	mu       sync.RWMutex
	requests map[string]bool
}

func newSubscriptions() *subscriptions {
	return &subscriptions{requests: make(map[string]bool)}
}

// Client is one live connection. conn is nil in tests that exercise the
// hub's fan-out logic directly without a real socket.
type Client struct {
	hub  *Hub
	id   string
	conn *websocket.Conn
	subs *subscriptions
	send chan *WSEvent
}

// NewClient wraps an accepted websocket connection.
func NewClient(hub *Hub, id string, conn *websocket.Conn) *Client {
	return &Client{hub: hub, id: id, conn: conn, subs: newSubscriptions(), send: make(chan *WSEvent, sendBufferSize)}
}

// WritePump drains send onto the socket until it closes. Run in its own
// goroutine per client.
func (c *Client) WritePump() {
	for event := range c.send {
		if c.conn == nil {
			continue
		}
		if err := c.conn.WriteJSON(event); err != nil {
			log.Error().Err(err).Str("client_id", c.id).Msg("websocket write failed")
			return
		}
	}
}

func (c *Client) shouldReceive(requestID string) bool {
	c.subs.mu.RLock()
	defer c.subs.mu.RUnlock()
	return c.subs.requests[requestID]
}

// Hub fans buffered stream events out to subscribed clients. It
// implements Broadcaster.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg

	byRequestID map[string]map[*Client]bool

	mu sync.RWMutex
}

// NewHub constructs an idle hub; call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *broadcastMsg, 256),
		byRequestID: make(map[string]map[*Client]bool),
	}
}

// Run is the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

// Register enqueues a client for registration.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister enqueues a client for removal.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	c.subs.mu.RLock()
	for reqID := range c.subs.requests {
		if clients, ok := h.byRequestID[reqID]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.byRequestID, reqID)
			}
		}
	}
	c.subs.mu.RUnlock()
}

// Broadcast sends one event to every client subscribed to requestID.
func (h *Hub) Broadcast(requestID string, event *WSEvent) {
	h.broadcast <- &broadcastMsg{requestID: requestID, event: event}
}

func (h *Hub) broadcastEvent(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.byRequestID[msg.requestID]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- msg.event:
		default:
			log.Warn().Str("client_id", client.id).Str("request_id", msg.requestID).Msg("websocket client buffer full, dropping event")
		}
	}
}

// Subscribe adds requestID to a client's watch list.
func (h *Hub) Subscribe(c *Client, requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()

	c.subs.requests[requestID] = true
	if h.byRequestID[requestID] == nil {
		h.byRequestID[requestID] = make(map[*Client]bool)
	}
	h.byRequestID[requestID][c] = true
}

// Unsubscribe removes requestID from a client's watch list.
func (h *Hub) Unsubscribe(c *Client, requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.subs.mu.Lock()
	defer c.subs.mu.Unlock()

	delete(c.subs.requests, requestID)
	if clients, ok := h.byRequestID[requestID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byRequestID, requestID)
		}
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
