// Package config provides configuration loading and management for Mnemosyne
// services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Mnemosyne services.
type Config struct {
	// Version is the application version
	Version string

	// Environment is the deployment environment (development, staging, production)
	Environment string

	// Source is the capture-source database configuration
	Source SourceConfig

	// Snapshot is the snapshot attempt configuration
	Snapshot SnapshotConfig

	// Database is the metadata database holding offsets and buffered events
	Database DatabaseConfig

	// Store selects the offset store backend
	Store StoreConfig

	// Sink selects the event sink backend
	Sink SinkConfig

	// Monitor is the monitor HTTP server configuration
	Monitor MonitorConfig

	// Health holds health check configuration
	Health HealthConfig

	// Metrics holds metrics configuration
	Metrics MetricsConfig
}

// SourceConfig holds the capture-source database configuration.
type SourceConfig struct {
	// Driver selects the dialect: "oracle" or "postgres"
	Driver string

	// Host is the source database host
	Host string

	// Port is the source database port
	Port int

	// ServiceName is the Oracle service name
	ServiceName string

	// User is the source database user
	User string

	// Password is the source database password
	Password string

	// Database is the logical database name used as the catalog
	Database string

	// PDB is the Oracle pluggable database to bind the attempt session to
	PDB string

	// DSN is a complete connection string; when set it takes precedence over
	// the individual fields
	DSN string

	// URL is the PostgreSQL connection URL for the postgres driver
	URL string
}

// SnapshotConfig holds snapshot attempt configuration.
type SnapshotConfig struct {
	// SourceID identifies the source; offsets are stored under this key
	SourceID string

	// Mode is the snapshot mode: "initial" (schema and data) or
	// "schema_only" (structure only)
	Mode string

	// IncludeTables lists the tables to capture as schema.table globs
	// (empty means all tables)
	IncludeTables []string

	// ExcludeTables lists tables to drop from the capture set
	ExcludeTables []string

	// DataWorkers is the number of tables read concurrently in the data phase
	DataWorkers int

	// BatchSize is the number of row events written to the sink per batch
	BatchSize int

	// RowsPerSecond throttles the data phase across all workers (0 disables)
	RowsPerSecond float64

	// RowBurst is the throttle burst size (0 defaults to BatchSize)
	RowBurst int

	// MarkerRetryLimit bounds the marker re-fetch loop on timestamp collisions
	MarkerRetryLimit int

	// MarkerRetryPause is the pause between marker re-fetches
	MarkerRetryPause time.Duration

	// Schedule is a cron expression for periodic snapshot refresh
	// (empty means one attempt and exit)
	Schedule string
}

// IncludeData reports whether the configured mode captures table data.
func (s SnapshotConfig) IncludeData() bool {
	return s.Mode != "schema_only"
}

// DatabaseConfig holds the metadata database connection configuration.
type DatabaseConfig struct {
	// Host is the database host
	Host string

	// Port is the database port
	Port int

	// Name is the database name
	Name string

	// User is the database user
	User string

	// Password is the database password
	Password string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full)
	SSLMode string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// StoreConfig selects the offset store backend.
type StoreConfig struct {
	// Driver is the store backend: "postgres" or "memory"
	Driver string
}

// SinkConfig selects the event sink backend.
type SinkConfig struct {
	// Driver is the sink backend: "postgres" or "log"
	Driver string
}

// MonitorConfig holds the monitor HTTP server configuration.
type MonitorConfig struct {
	// Enabled enables the monitor server
	Enabled bool

	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration

	// CORSOrigins is a list of allowed CORS origins (use "*" for all)
	CORSOrigins []string
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	// Enabled enables health check endpoints
	Enabled bool

	// ReadinessTimeout is how long to wait for readiness checks
	ReadinessTimeout time.Duration

	// CheckInterval is how often background health checks run
	CheckInterval time.Duration
}

// MetricsConfig holds metrics/observability configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection
	Enabled bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Version:     getEnv("MNEMOSYNE_VERSION", "0.1.0"),
		Environment: getEnv("MNEMOSYNE_ENV", "development"),

		Source: SourceConfig{
			Driver:      getEnv("MNEMOSYNE_SOURCE_DRIVER", "oracle"),
			Host:        getEnv("MNEMOSYNE_SOURCE_HOST", "localhost"),
			Port:        getIntEnv("MNEMOSYNE_SOURCE_PORT", 1521),
			ServiceName: getEnv("MNEMOSYNE_SOURCE_SERVICE_NAME", "ORCLCDB"),
			User:        getEnv("MNEMOSYNE_SOURCE_USER", "mnemosyne"),
			Password:    getEnv("MNEMOSYNE_SOURCE_PASSWORD", ""),
			Database:    getEnv("MNEMOSYNE_SOURCE_DATABASE", "ORCLCDB"),
			PDB:         getEnv("MNEMOSYNE_SOURCE_PDB", ""),
			DSN:         getEnv("MNEMOSYNE_SOURCE_DSN", ""),
			URL:         getEnv("MNEMOSYNE_SOURCE_URL", ""),
		},

		Snapshot: SnapshotConfig{
			SourceID:         getEnv("MNEMOSYNE_SNAPSHOT_SOURCE_ID", "default"),
			Mode:             getEnv("MNEMOSYNE_SNAPSHOT_MODE", "initial"),
			IncludeTables:    getSliceEnv("MNEMOSYNE_SNAPSHOT_INCLUDE_TABLES", nil),
			ExcludeTables:    getSliceEnv("MNEMOSYNE_SNAPSHOT_EXCLUDE_TABLES", nil),
			DataWorkers:      getIntEnv("MNEMOSYNE_SNAPSHOT_DATA_WORKERS", 1),
			BatchSize:        getIntEnv("MNEMOSYNE_SNAPSHOT_BATCH_SIZE", 1000),
			RowsPerSecond:    getFloatEnv("MNEMOSYNE_SNAPSHOT_ROWS_PER_SECOND", 0),
			RowBurst:         getIntEnv("MNEMOSYNE_SNAPSHOT_ROW_BURST", 0),
			MarkerRetryLimit: getIntEnv("MNEMOSYNE_SNAPSHOT_MARKER_RETRY_LIMIT", 100),
			MarkerRetryPause: getDurationEnv("MNEMOSYNE_SNAPSHOT_MARKER_RETRY_PAUSE", 100*time.Millisecond),
			Schedule:         getEnv("MNEMOSYNE_SNAPSHOT_SCHEDULE", ""),
		},

		Database: DatabaseConfig{
			Host:         getEnv("MNEMOSYNE_DB_HOST", "localhost"),
			Port:         getIntEnv("MNEMOSYNE_DB_PORT", 5432),
			Name:         getEnv("MNEMOSYNE_DB_NAME", "mnemosyne"),
			User:         getEnv("MNEMOSYNE_DB_USER", "mnemosyne"),
			Password:     getEnv("MNEMOSYNE_DB_PASSWORD", "mnemosyne"),
			SSLMode:      getEnv("MNEMOSYNE_DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("MNEMOSYNE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getIntEnv("MNEMOSYNE_DB_MAX_IDLE_CONNS", 5),
		},

		Store: StoreConfig{
			Driver: getEnv("MNEMOSYNE_STORE_DRIVER", "postgres"),
		},

		Sink: SinkConfig{
			Driver: getEnv("MNEMOSYNE_SINK_DRIVER", "postgres"),
		},

		Monitor: MonitorConfig{
			Enabled:      getBoolEnv("MNEMOSYNE_MONITOR_ENABLED", true),
			ListenAddr:   getEnv("MNEMOSYNE_MONITOR_LISTEN_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("MNEMOSYNE_MONITOR_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("MNEMOSYNE_MONITOR_WRITE_TIMEOUT", 15*time.Second),
			CORSOrigins:  getSliceEnv("MNEMOSYNE_MONITOR_CORS_ORIGINS", []string{"*"}),
		},

		Health: HealthConfig{
			Enabled:          getBoolEnv("MNEMOSYNE_HEALTH_ENABLED", true),
			ReadinessTimeout: getDurationEnv("MNEMOSYNE_HEALTH_READINESS_TIMEOUT", 5*time.Second),
			CheckInterval:    getDurationEnv("MNEMOSYNE_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},

		Metrics: MetricsConfig{
			Enabled: getBoolEnv("MNEMOSYNE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the cross-field constraints of the loaded configuration.
func (c *Config) Validate() error {
	switch c.Source.Driver {
	case "oracle", "postgres":
	default:
		return fmt.Errorf("config: unknown source driver %q", c.Source.Driver)
	}

	switch c.Snapshot.Mode {
	case "initial", "schema_only":
	default:
		return fmt.Errorf("config: unknown snapshot mode %q", c.Snapshot.Mode)
	}

	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Sink.Driver {
	case "postgres", "log":
	default:
		return fmt.Errorf("config: unknown sink driver %q", c.Sink.Driver)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range splitAndTrim(value, ",") {
			if v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
