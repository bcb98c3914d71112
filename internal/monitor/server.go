// Package monitor provides the read-only HTTP surface of the snapshot
// worker: health endpoints, the live progress view, the persisted offset,
// Prometheus metrics and a WebSocket progress stream.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janovincze/mnemosyne/internal/cdc/health"
	"github.com/janovincze/mnemosyne/internal/cdc/offsetstore"
	"github.com/janovincze/mnemosyne/internal/config"
	"github.com/janovincze/mnemosyne/internal/metrics"
	"github.com/janovincze/mnemosyne/internal/snapshot"
)

// Server is the monitor HTTP server.
type Server struct {
	cfg        config.MonitorConfig
	version    string
	logger     *slog.Logger
	health     *health.Manager
	tracker    *snapshot.Tracker
	store      offsetstore.Store
	sourceID   string
	hub        *ProgressHub
	httpServer *http.Server
	router     *gin.Engine
}

// ServerConfig holds monitor server construction options.
type ServerConfig struct {
	// Monitor is the HTTP listener configuration.
	Monitor config.MonitorConfig

	// Version is the worker version reported by the version endpoint.
	Version string

	// Environment selects the Gin mode ("production" enables release mode).
	Environment string

	// MetricsEnabled exposes the Prometheus endpoint when true.
	MetricsEnabled bool

	// Logger is the structured logger.
	Logger *slog.Logger

	// HealthManager is the health check manager.
	HealthManager *health.Manager

	// Tracker is the snapshot progress tracker.
	Tracker *snapshot.Tracker

	// Store is the offset store queried by the offset endpoint.
	Store offsetstore.Store

	// SourceID is the source whose offset and progress are served.
	SourceID string
}

// NewServer creates a new monitor server.
func NewServer(serverCfg ServerConfig) *Server {
	logger := serverCfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if serverCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	if serverCfg.MetricsEnabled {
		metrics.Register()
	}

	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  serverCfg.Monitor.CORSOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		cfg:      serverCfg.Monitor,
		version:  serverCfg.Version,
		logger:   logger.With("component", "monitor-server"),
		health:   serverCfg.HealthManager,
		tracker:  serverCfg.Tracker,
		store:    serverCfg.Store,
		sourceID: serverCfg.SourceID,
		router:   router,
	}

	if serverCfg.Tracker != nil {
		s.hub = NewProgressHub(serverCfg.Tracker, logger)
	}

	s.registerRoutes(serverCfg.MetricsEnabled)

	s.httpServer = &http.Server{
		Addr:         serverCfg.Monitor.ListenAddr,
		Handler:      router,
		ReadTimeout:  serverCfg.Monitor.ReadTimeout,
		WriteTimeout: serverCfg.Monitor.WriteTimeout,
		IdleTimeout:  serverCfg.Monitor.ReadTimeout * 4,
	}

	return s
}

// registerRoutes registers all monitor routes.
func (s *Server) registerRoutes(metricsEnabled bool) {
	s.router.GET("/health", s.getHealth)
	s.router.GET("/health/live", s.getLiveness)
	s.router.GET("/health/ready", s.getReadiness)

	if metricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/version", s.getVersion)
		v1.GET("/progress", s.getProgress)
		v1.GET("/offset", s.getOffset)
	}

	if s.hub != nil {
		s.router.GET("/ws/progress", func(c *gin.Context) {
			if err := s.hub.HandleWebSocket(c.Writer, c.Request); err != nil {
				s.logger.Warn("websocket upgrade failed", "error", err)
			}
		})
	}
}

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status     string                        `json:"status"`
	Components map[string]health.CheckResult `json:"components,omitempty"`
	Timestamp  time.Time                     `json:"timestamp"`
}

// getHealth returns the overall health status.
// GET /health
func (s *Server) getHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, healthResponse{
			Status:    string(health.StatusHealthy),
			Timestamp: time.Now(),
		})
		return
	}

	status := s.health.GetOverallStatus(c.Request.Context())

	statusCode := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthResponse{
		Status:     string(status.Status),
		Components: status.Components,
		Timestamp:  status.Timestamp,
	})
}

// getLiveness returns the liveness status.
// GET /health/live
func (s *Server) getLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// getReadiness returns the readiness status.
// GET /health/ready
func (s *Server) getReadiness(c *gin.Context) {
	if s.health == nil || s.health.IsReady(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status":    "not_ready",
		"timestamp": time.Now(),
	})
}

// getVersion returns the worker version.
// GET /api/v1/version
func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.version})
}

// getProgress returns the live view of the current snapshot attempt.
// GET /api/v1/progress
func (s *Server) getProgress(c *gin.Context) {
	if s.tracker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot tracker configured"})
		return
	}
	c.JSON(http.StatusOK, s.tracker.Snapshot())
}

// getOffset returns the persisted offset for the configured source.
// GET /api/v1/offset
func (s *Server) getOffset(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no offset store configured"})
		return
	}

	offset, err := s.store.Load(c.Request.Context(), s.sourceID)
	if err != nil {
		s.logger.Error("failed to load offset", "source", s.sourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load offset"})
		return
	}
	if offset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no offset recorded for source", "source": s.sourceID})
		return
	}

	c.JSON(http.StatusOK, offset)
}

// Start runs the progress hub and serves HTTP until the server is stopped.
func (s *Server) Start() error {
	s.logger.Info("starting monitor server", "addr", s.cfg.ListenAddr)

	if s.hub != nil {
		s.hub.Run()
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop gracefully stops the HTTP server and closes WebSocket connections.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping monitor server")

	if s.hub != nil {
		s.hub.Close()
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying Gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	log := logger.With("component", "monitor-http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
