package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/janovincze/mnemosyne/internal/cdc"
	"github.com/janovincze/mnemosyne/internal/cdc/health"
	"github.com/janovincze/mnemosyne/internal/cdc/offsetstore"
	"github.com/janovincze/mnemosyne/internal/config"
	"github.com/janovincze/mnemosyne/internal/snapshot"
)

func newTestServer(t *testing.T, store offsetstore.Store) (*Server, *snapshot.Tracker) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	manager := health.NewManager(health.DefaultManagerConfig(), logger)
	manager.Register(health.NewComponentChecker("source", func(_ context.Context) (health.Status, string, error) {
		return health.StatusHealthy, "connected", nil
	}))

	tracker := snapshot.NewTracker("orders-prod")

	server := NewServer(ServerConfig{
		Monitor: config.MonitorConfig{
			Enabled:      true,
			ListenAddr:   ":0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Version:        "0.1.0-test",
		MetricsEnabled: true,
		Logger:         logger,
		HealthManager:  manager,
		Tracker:        tracker,
		Store:          store,
		SourceID:       "orders-prod",
	})

	return server, tracker
}

func TestServer_HealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, offsetstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response healthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", response.Status)
	}

	if _, ok := response.Components["source"]; !ok {
		t.Error("expected 'source' component in health response")
	}
}

func TestServer_HealthEndpointUnhealthy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	manager := health.NewManager(health.DefaultManagerConfig(), logger)
	manager.Register(health.NewDatabaseChecker("store", func(_ context.Context) error {
		return context.DeadlineExceeded
	}))

	server := NewServer(ServerConfig{
		Monitor:       config.MonitorConfig{ListenAddr: ":0", CORSOrigins: []string{"*"}},
		Logger:        logger,
		HealthManager: manager,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestServer_LivenessEndpoint(t *testing.T) {
	server, _ := newTestServer(t, offsetstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestServer_ReadinessEndpoint(t *testing.T) {
	server, _ := newTestServer(t, offsetstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestServer_VersionEndpoint(t *testing.T) {
	server, _ := newTestServer(t, offsetstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/version", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Version != "0.1.0-test" {
		t.Errorf("expected version '0.1.0-test', got '%s'", response.Version)
	}
}

func TestServer_ProgressEndpoint(t *testing.T) {
	server, tracker := newTestServer(t, offsetstore.NewMemoryStore())

	tracker.Begin()
	tracker.SetTables([]cdc.TableID{
		{Schema: "INVENTORY", Table: "ORDERS"},
	})
	tracker.SetMarker(4711)
	tracker.AddRows(cdc.TableID{Schema: "INVENTORY", Table: "ORDERS"}, 250)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response snapshot.Progress
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.SourceID != "orders-prod" {
		t.Errorf("expected source 'orders-prod', got '%s'", response.SourceID)
	}
	if response.Marker != 4711 {
		t.Errorf("expected marker 4711, got %d", response.Marker)
	}
	if response.Rows != 250 {
		t.Errorf("expected 250 rows, got %d", response.Rows)
	}
	if len(response.Tables) != 1 || response.Tables[0].Table != "INVENTORY.ORDERS" {
		t.Errorf("unexpected tables in progress: %+v", response.Tables)
	}
}

func TestServer_OffsetEndpoint(t *testing.T) {
	store := offsetstore.NewMemoryStore()
	server, _ := newTestServer(t, store)

	// No offset recorded yet
	req := httptest.NewRequest(http.MethodGet, "/api/v1/offset", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d for missing offset, got %d", http.StatusNotFound, w.Code)
	}

	// Save an offset and fetch it
	saved := cdc.Offset{
		Marker:             9000,
		SnapshotInProgress: true,
		CapturedAt:         time.Now().UTC(),
	}
	if err := store.Save(context.Background(), "orders-prod", saved); err != nil {
		t.Fatalf("failed to save offset: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/offset", nil)
	w = httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response cdc.Offset
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Marker != 9000 {
		t.Errorf("expected marker 9000, got %d", response.Marker)
	}
	if !response.SnapshotInProgress {
		t.Error("expected snapshot_in_progress to be true")
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, offsetstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected Prometheus output to contain runtime metrics")
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	server, _ := newTestServer(t, offsetstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("Origin", "http://dashboard.example.com")
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected Access-Control-Allow-Origin '*', got '%s'", got)
	}
}
