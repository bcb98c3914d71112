package offsetstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// PostgresStore implements offset persistence using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig holds configuration for the PostgreSQL offset store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// NewPostgresStore creates a new PostgreSQL offset store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{
		db:     db,
		logger: logger.With("component", "offset-store"),
	}, nil
}

// Save persists the offset for a source, replacing any previous value.
func (s *PostgresStore) Save(ctx context.Context, sourceID string, offset cdc.Offset) error {
	transactionJSON, err := json.Marshal(offset.Transaction)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	query := `
		INSERT INTO mnemosyne.snapshot_offsets (source_id, marker, transaction_meta, snapshot_in_progress, captured_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id)
		DO UPDATE SET
			marker = EXCLUDED.marker,
			transaction_meta = EXCLUDED.transaction_meta,
			snapshot_in_progress = EXCLUDED.snapshot_in_progress,
			captured_at = EXCLUDED.captured_at
	`

	capturedAt := offset.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		sourceID,
		int64(offset.Marker),
		transactionJSON,
		offset.SnapshotInProgress,
		capturedAt,
	)
	if err != nil {
		return fmt.Errorf("save offset: %w", err)
	}

	s.logger.Debug("offset saved",
		"source_id", sourceID,
		"marker", offset.Marker,
		"snapshot_in_progress", offset.SnapshotInProgress,
	)

	return nil
}

// Load retrieves the offset for a source, or (nil, nil) if none exists.
func (s *PostgresStore) Load(ctx context.Context, sourceID string) (*cdc.Offset, error) {
	query := `
		SELECT marker, transaction_meta, snapshot_in_progress, captured_at
		FROM mnemosyne.snapshot_offsets
		WHERE source_id = $1
	`

	var offset cdc.Offset
	var marker int64
	var transactionJSON []byte

	err := s.db.QueryRowContext(ctx, query, sourceID).Scan(
		&marker,
		&transactionJSON,
		&offset.SnapshotInProgress,
		&offset.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load offset: %w", err)
	}

	offset.Marker = cdc.Marker(marker)

	if len(transactionJSON) > 0 {
		if err := json.Unmarshal(transactionJSON, &offset.Transaction); err != nil {
			s.logger.Warn("failed to unmarshal transaction metadata", "error", err)
		}
	}

	s.logger.Debug("offset loaded",
		"source_id", sourceID,
		"marker", offset.Marker,
	)

	return &offset, nil
}

// Delete removes the offset for a source.
func (s *PostgresStore) Delete(ctx context.Context, sourceID string) error {
	query := `DELETE FROM mnemosyne.snapshot_offsets WHERE source_id = $1`

	_, err := s.db.ExecContext(ctx, query, sourceID)
	if err != nil {
		return fmt.Errorf("delete offset: %w", err)
	}

	s.logger.Debug("offset deleted", "source_id", sourceID)

	return nil
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
