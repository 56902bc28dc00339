package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/fernvale/ble-scanner-core/internal/infrastructure/config"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/logging"
)

func newTestHub() *Hub {
	cfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	return NewHub(cfg, logging.Default())
}

// newTestWSConn dials a throwaway WebSocket connection so hub tests have
// a real conn to close when a client is dropped.
func newTestWSConn(t *testing.T) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := upgrader.Upgrade(w, r, nil); err != nil {
			t.Errorf("Upgrade() unexpected error: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Handshake response
	}
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck // Test teardown
	})
	return conn
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	client := &WSClient{hub: hub, conn: newTestWSConn(t), send: make(chan []byte, 1)}

	hub.Register(client)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d, want 1", got)
	}

	hub.Unregister(client)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d, want 0", got)
	}

	// A second unregister must not close the send channel again.
	hub.Unregister(client)
}

// A slow client whose buffer fills is dropped by the first broadcast
// that cannot queue. A second broadcast may have snapshotted the client
// list before the drop and still calls trySend on the now-closed
// channel; that send must be absorbed, not panic.
func TestTrySend_SlowClientDroppedDuringConcurrentBroadcast(t *testing.T) {
	hub := newTestHub()
	client := &WSClient{hub: hub, conn: newTestWSConn(t), send: make(chan []byte, 1)}
	hub.Register(client)

	// Fill the buffer so the next queue attempt drops the client.
	client.send <- []byte(`{"type":"device_updated"}`)

	client.trySend([]byte(`{"type":"device_updated"}`))
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() after drop = %d, want 0", got)
	}

	// The in-flight broadcast that saw the client before the drop.
	client.trySend([]byte(`{"type":"device_discovered"}`))
}

// Shutdown closes every client's send channel; broadcasts already past
// the snapshot must survive it.
func TestTrySend_AfterCloseAll(t *testing.T) {
	hub := newTestHub()
	client := &WSClient{hub: hub, conn: newTestWSConn(t), send: make(chan []byte, wsSendBufferSize)}
	hub.Register(client)

	hub.closeAll()
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() after closeAll = %d, want 0", got)
	}

	client.trySend([]byte(`{"type":"device_updated"}`))
}
