package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janovincze/mnemosyne/internal/metrics"
	"github.com/janovincze/mnemosyne/internal/snapshot"
)

// ProgressMessage is one frame of the WebSocket progress stream.
type ProgressMessage struct {
	// Type is the message type (connected, progress).
	Type string `json:"type"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
	// Progress is the snapshot attempt view.
	Progress snapshot.Progress `json:"progress"`
}

// ProgressHub fans snapshot progress updates out to WebSocket subscribers.
// It holds a single tracker subscription and broadcasts every transition
// to all connected clients.
type ProgressHub struct {
	tracker *snapshot.Tracker
	// connections holds the active subscribers.
	connections map[*websocket.Conn]bool
	// mu protects the connections map.
	mu     sync.RWMutex
	logger *slog.Logger
	// upgrader upgrades HTTP connections to WebSocket.
	upgrader websocket.Upgrader

	runOnce   sync.Once
	closeOnce sync.Once
	unsub     func()
	done      chan struct{}
}

// NewProgressHub creates a new ProgressHub for the given tracker.
func NewProgressHub(tracker *snapshot.Tracker, logger *slog.Logger) *ProgressHub {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProgressHub{
		tracker:     tracker,
		connections: make(map[*websocket.Conn]bool),
		logger:      logger.With("component", "progress-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Cross-origin policy is enforced by the CORS middleware
				// on the REST routes; the stream is read-only.
				return true
			},
		},
		done: make(chan struct{}),
	}
}

// Run starts the broadcast loop. It is safe to call more than once.
func (h *ProgressHub) Run() {
	h.runOnce.Do(func() {
		updates, cancel := h.tracker.Subscribe()
		h.unsub = cancel

		go func() {
			for {
				select {
				case <-h.done:
					return
				case p, ok := <-updates:
					if !ok {
						return
					}
					h.broadcast(ProgressMessage{
						Type:      "progress",
						Timestamp: time.Now(),
						Progress:  p,
					})
				}
			}
		}()
	})
}

// broadcast sends a message to all subscribers, dropping dead connections.
func (h *ProgressHub) broadcast(msg ProgressMessage) {
	// Copy connection references while holding the lock to avoid data race
	h.mu.RLock()
	if len(h.connections) == 0 {
		h.mu.RUnlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.connections))
	for conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal progress message", "error", err)
		return
	}

	var toRemove []*websocket.Conn

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("failed to send progress message", "error", err)
			toRemove = append(toRemove, conn)
		}
	}

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, conn := range toRemove {
			delete(h.connections, conn)
		}
		metrics.MonitorSubscribers.Set(float64(len(h.connections)))
		h.mu.Unlock()
	}
}

// subscribe adds a WebSocket connection to the hub.
func (h *ProgressHub) subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	h.connections[conn] = true
	metrics.MonitorSubscribers.Set(float64(len(h.connections)))
	h.mu.Unlock()

	h.logger.Debug("client subscribed")
}

// unsubscribe removes a WebSocket connection from the hub.
func (h *ProgressHub) unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.connections, conn)
	metrics.MonitorSubscribers.Set(float64(len(h.connections)))
	h.mu.Unlock()

	h.logger.Debug("client unsubscribed")
}

// HandleWebSocket upgrades the request and streams progress updates until
// the client disconnects. This is the handler mounted at the WebSocket
// endpoint.
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	h.subscribe(conn)

	// Send the current view so late subscribers start from a full state
	msg := ProgressMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Progress:  h.tracker.Snapshot(),
	}
	if data, err := json.Marshal(msg); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}

	go h.handleConnection(conn)

	return nil
}

// handleConnection manages a WebSocket connection's lifecycle.
func (h *ProgressHub) handleConnection(conn *websocket.Conn) {
	defer func() {
		h.unsubscribe(conn)
		conn.Close()
	}()

	// Set up ping/pong to detect dead connections
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	// Read messages (mainly for ping/pong and close handling)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-h.done:
			return
		case <-readDone:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close stops the broadcast loop and closes all connections.
func (h *ProgressHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		if h.unsub != nil {
			h.unsub()
		}

		h.mu.Lock()
		for conn := range h.connections {
			conn.Close()
		}
		h.connections = make(map[*websocket.Conn]bool)
		metrics.MonitorSubscribers.Set(0)
		h.mu.Unlock()
	})
}
