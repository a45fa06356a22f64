package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nearautopilot/internal/telemetry"
)

func dialEventsHub(t *testing.T, hub *Hub, backlog []telemetry.Event) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.ServeConn(conn, backlog)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) telemetry.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt telemetry.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return evt
}

func TestHubReplaysBacklogThenBroadcasts(t *testing.T) {
	t.Parallel()
	hub := NewHub(testLogger())

	backlog := []telemetry.Event{{Type: "tick_started"}}
	conn := dialEventsHub(t, hub, backlog)

	if evt := readEvent(t, conn); evt.Type != "tick_started" {
		t.Fatalf("backlog event type = %q, want tick_started", evt.Type)
	}

	hub.Broadcast(telemetry.Event{Type: "bid_placed"})
	if evt := readEvent(t, conn); evt.Type != "bid_placed" {
		t.Fatalf("broadcast event type = %q, want bid_placed", evt.Type)
	}
}

func TestHubDropsStalledClient(t *testing.T) {
	t.Parallel()
	hub := NewHub(testLogger())

	// Register a client with no write loop draining it, so its queue fills
	// deterministically. Once full, Broadcast must evict it rather than
	// block the telemetry bus.
	c := &client{send: make(chan []byte, clientBuffer)}
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(telemetry.Event{Type: "tick_started"})
	}

	hub.mu.Lock()
	remaining := len(hub.clients)
	hub.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("stalled client still registered after overflow, %d clients", remaining)
	}
	if _, open := <-c.send; !open {
		t.Fatal("expected the dropped client's queue to still hold its buffered events before closing")
	}
}
