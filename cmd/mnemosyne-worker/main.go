// Package main provides the entry point for the Mnemosyne snapshot worker.
// The worker takes a consistent snapshot of a relational source (Oracle or
// PostgreSQL), emits schema and row events to the configured sink, and
// persists the resume position so a streaming phase can pick up exactly
// where the snapshot left off.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/janovincze/mnemosyne/internal/cdc"
	"github.com/janovincze/mnemosyne/internal/cdc/health"
	"github.com/janovincze/mnemosyne/internal/cdc/offsetstore"
	"github.com/janovincze/mnemosyne/internal/cdc/sink"
	"github.com/janovincze/mnemosyne/internal/config"
	"github.com/janovincze/mnemosyne/internal/monitor"
	"github.com/janovincze/mnemosyne/internal/snapshot"
	"github.com/janovincze/mnemosyne/internal/snapshot/oracle"
	"github.com/janovincze/mnemosyne/internal/snapshot/postgres"
	"github.com/janovincze/mnemosyne/internal/vault"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting Mnemosyne snapshot worker",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"source", cfg.Snapshot.SourceID,
		"driver", cfg.Source.Driver,
		"mode", cfg.Snapshot.Mode,
	)

	// Resolve credentials through Vault, falling back to the environment
	vaultCfg := vault.LoadConfig()
	secrets, err := vault.NewSecretProvider(ctx, &vaultCfg, logger)
	if err != nil {
		return fmt.Errorf("create secret provider: %w", err)
	}
	defer secrets.Close()

	if cfg.Source.Password == "" {
		if password, err := secrets.GetSourcePassword(ctx); err == nil {
			cfg.Source.Password = password
		} else {
			logger.Warn("source password not resolved from secrets", "error", err)
		}
	}
	if cfg.Database.Password == "" {
		if password, err := secrets.GetDatabasePassword(ctx); err == nil {
			cfg.Database.Password = password
		} else {
			logger.Warn("database password not resolved from secrets", "error", err)
		}
	}

	// Create the snapshot source for the configured dialect
	src, err := newSource(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create snapshot source: %w", err)
	}
	defer src.Close()

	// Create the offset store
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create offset store: %w", err)
	}
	defer store.Close()

	// Create the event sink
	snk, err := newSink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create event sink: %w", err)
	}
	defer snk.Close()

	// Build the capture-set filter
	filter := cdc.TableFilter{
		Include: cfg.Snapshot.IncludeTables,
		Exclude: cfg.Snapshot.ExcludeTables,
	}
	if err := filter.Validate(); err != nil {
		return fmt.Errorf("invalid table filter: %w", err)
	}

	// Register health checks for the worker's dependencies
	healthManager := health.NewManager(health.DefaultManagerConfig(), logger)
	healthManager.Register(health.NewDatabaseChecker("source", src.Ping))
	healthManager.Register(health.NewDatabaseChecker("offset-store", store.Ping))

	tracker := snapshot.NewTracker(cfg.Snapshot.SourceID)

	runner := snapshot.NewRunner(src, store, snk, filter, tracker, snapshot.Config{
		SourceID:      cfg.Snapshot.SourceID,
		DataWorkers:   cfg.Snapshot.DataWorkers,
		BatchSize:     cfg.Snapshot.BatchSize,
		RowsPerSecond: cfg.Snapshot.RowsPerSecond,
		RowBurst:      cfg.Snapshot.RowBurst,
	}, logger)

	// Serve health, progress and metrics while the snapshot runs
	if cfg.Monitor.Enabled {
		server := monitor.NewServer(monitor.ServerConfig{
			Monitor:        cfg.Monitor,
			Version:        cfg.Version,
			Environment:    cfg.Environment,
			MetricsEnabled: cfg.Metrics.Enabled,
			Logger:         logger,
			HealthManager:  healthManager,
			Tracker:        tracker,
			Store:          store,
			SourceID:       cfg.Snapshot.SourceID,
		})

		go func() {
			if err := server.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		defer func() {
			if err := server.Stop(context.Background()); err != nil {
				logger.Warn("monitor server shutdown failed", "error", err)
			}
		}()
	}

	if cfg.Snapshot.Schedule != "" {
		return runScheduled(ctx, runner, cfg.Snapshot.Schedule, logger)
	}

	return runOnce(ctx, runner, logger)
}

// runOnce executes a single snapshot attempt and exits.
func runOnce(ctx context.Context, runner *snapshot.Runner, logger *slog.Logger) error {
	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("snapshot attempt: %w", err)
	}

	if result.Skipped {
		logger.Info("snapshot already completed, nothing to do")
		return nil
	}

	logger.Info("snapshot worker finished",
		"tables", result.Tables,
		"rows", result.Rows,
		"duration", result.Duration,
	)
	return nil
}

// runScheduled runs snapshot attempts on a cron schedule until the context
// is cancelled. Attempts never overlap; a tick that arrives while an attempt
// is still running is skipped.
func runScheduled(ctx context.Context, runner *snapshot.Runner, schedule string, logger *slog.Logger) error {
	var running sync.Mutex

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if !running.TryLock() {
			logger.Warn("skipping scheduled snapshot, previous attempt still running")
			return
		}
		defer running.Unlock()

		result, err := runner.Run(ctx)
		if err != nil {
			logger.Error("scheduled snapshot failed", "error", err)
			return
		}
		if result.Skipped {
			logger.Info("scheduled snapshot skipped, already completed")
			return
		}
		logger.Info("scheduled snapshot finished",
			"tables", result.Tables,
			"rows", result.Rows,
			"duration", result.Duration,
		)
	})
	if err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}

	logger.Info("running snapshots on schedule", "schedule", schedule)
	c.Start()

	<-ctx.Done()

	// Let an in-flight attempt observe the cancellation, then stop the cron
	stopCtx := c.Stop()
	<-stopCtx.Done()

	logger.Info("snapshot worker stopped gracefully")
	return nil
}

// newSource creates the snapshot source for the configured dialect.
func newSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (snapshot.Source, error) {
	switch cfg.Source.Driver {
	case "oracle":
		return oracle.New(oracle.Config{
			SourceID:         cfg.Snapshot.SourceID,
			DSN:              cfg.Source.DSN,
			Host:             cfg.Source.Host,
			Port:             cfg.Source.Port,
			ServiceName:      cfg.Source.ServiceName,
			User:             cfg.Source.User,
			Password:         cfg.Source.Password,
			DatabaseName:     cfg.Source.Database,
			PDBName:          cfg.Source.PDB,
			IncludeData:      cfg.Snapshot.IncludeData(),
			MarkerRetryLimit: cfg.Snapshot.MarkerRetryLimit,
			MarkerRetryPause: cfg.Snapshot.MarkerRetryPause,
		}, logger)

	case "postgres":
		return postgres.New(ctx, postgres.Config{
			SourceID:       cfg.Snapshot.SourceID,
			ConnectionURL:  cfg.Source.URL,
			DatabaseName:   cfg.Source.Database,
			IncludeData:    cfg.Snapshot.IncludeData(),
			ReaderPoolSize: cfg.Snapshot.DataWorkers,
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported source driver: %s", cfg.Source.Driver)
	}
}

// newStore creates the offset store backend.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (offsetstore.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return offsetstore.NewPostgresStore(ctx, offsetstore.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		}, logger)

	case "memory":
		return offsetstore.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newSink creates the event sink backend.
func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Sink.Driver {
	case "postgres":
		return sink.NewPostgresSink(ctx, sink.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		}, logger)

	case "log":
		return sink.NewLogSink(logger), nil

	default:
		return nil, fmt.Errorf("unsupported sink driver: %s", cfg.Sink.Driver)
	}
}
