// Package api implements the HTTP introspection surface: /healthz,
// /metrics, and a websocket /events broadcast of the telemetry bus. It is
// entirely optional — run starts it only when config.HTTP.Addr is set;
// tick and reconcile never start it.
package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nearautopilot/internal/telemetry"
)

// Keepalive timing. The autopilot emits events in a burst once per tick
// and is silent for the rest of the interval, so a connection spends most
// of its life idle; pings bridge those idle stretches. pongWait must
// comfortably exceed the default tick interval plus one ping period.
const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 90 * time.Second
)

// clientBuffer bounds how many marshaled events may queue for one client.
// A full tick produces far fewer events than this, so a client that is a
// whole buffer behind is stalled and gets dropped rather than letting it
// back-pressure Broadcast (and, through it, the telemetry bus's
// synchronous subscriber delivery).
const clientBuffer = 64

// Hub fans telemetry events out to connected websocket clients.
//
// There is no central dispatch goroutine: with one event burst per tick
// and a handful of operator clients at most, Broadcast can walk the client
// set under a mutex and queue onto each client's buffered channel
// directly. Each client owns two goroutines — a write loop draining its
// queue and a read loop watching for the peer going away.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With("component", "api-hub"),
	}
}

// Broadcast queues evt for every connected client. A client whose buffer
// is already full is stalled; it is dropped on the spot so one dead
// connection cannot delay the orchestrator's Emit calls.
func (h *Hub) Broadcast(evt telemetry.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropping stalled events client")
		}
	}
}

// ServeConn takes ownership of conn: it queues the backlog, registers the
// client, and starts its read/write loops. The connection is closed when
// the peer goes away, stops answering pings, or falls a full buffer
// behind.
func (h *Hub) ServeConn(conn *websocket.Conn, backlog []telemetry.Event) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	// The backlog is replayed before registration, so these sends can
	// never race Broadcast; clientBuffer exceeds any backlog the handler
	// passes.
	for _, evt := range backlog {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("events client connected", "count", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// drop removes c from the set and closes its queue, exactly once even
// when the read loop, the write loop, and Broadcast race to evict it.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("events client disconnected", "count", count)
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by Broadcast or the read loop.
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readLoop discards inbound frames — the events surface is broadcast-only
// — and exists to answer pings and to notice the peer disconnecting.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
