package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janovincze/mnemosyne/internal/snapshot"
)

func newTestHub(t *testing.T) (*ProgressHub, *snapshot.Tracker, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tracker := snapshot.NewTracker("orders-prod")
	hub := NewProgressHub(tracker, logger)
	hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.HandleWebSocket(w, r); err != nil {
			t.Logf("websocket upgrade failed: %v", err)
		}
	}))

	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return hub, tracker, server
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ProgressMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}

	var msg ProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestProgressHub_SendsCurrentStateOnConnect(t *testing.T) {
	_, tracker, server := newTestHub(t)

	tracker.Begin()
	tracker.SetMarker(4711)

	conn := dialHub(t, server)

	msg := readMessage(t, conn)
	if msg.Type != "connected" {
		t.Errorf("expected first message type 'connected', got '%s'", msg.Type)
	}
	if msg.Progress.SourceID != "orders-prod" {
		t.Errorf("expected source 'orders-prod', got '%s'", msg.Progress.SourceID)
	}
	if msg.Progress.Marker != 4711 {
		t.Errorf("expected marker 4711, got %d", msg.Progress.Marker)
	}
}

func TestProgressHub_BroadcastsTransitions(t *testing.T) {
	_, tracker, server := newTestHub(t)

	conn := dialHub(t, server)

	// Drain the connection message
	if msg := readMessage(t, conn); msg.Type != "connected" {
		t.Fatalf("expected 'connected' message, got '%s'", msg.Type)
	}

	tracker.Begin()

	// The tracker notifies on Begin; the hub relays it to the subscriber
	msg := readMessage(t, conn)
	if msg.Type != "progress" {
		t.Errorf("expected message type 'progress', got '%s'", msg.Type)
	}
	if msg.Progress.Phase != snapshot.PhasePlanning {
		t.Errorf("expected phase '%s', got '%s'", snapshot.PhasePlanning, msg.Progress.Phase)
	}
}

func TestProgressHub_RemovesClosedConnections(t *testing.T) {
	hub, tracker, server := newTestHub(t)

	conn := dialHub(t, server)
	if msg := readMessage(t, conn); msg.Type != "connected" {
		t.Fatalf("expected 'connected' message, got '%s'", msg.Type)
	}
	conn.Close()

	// Broadcasts to the closed connection drop it from the hub
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tracker.SetPhase(snapshot.PhaseCopyingData)

		hub.mu.RLock()
		remaining := len(hub.connections)
		hub.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("closed connection was not removed from the hub")
}

func TestProgressHub_CloseIsIdempotent(t *testing.T) {
	hub, _, _ := newTestHub(t)

	hub.Close()
	hub.Close()
}
