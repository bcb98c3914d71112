package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// PostgresSink buffers snapshot events in PostgreSQL tables for downstream
// consumers.
type PostgresSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig holds configuration for the PostgreSQL sink.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
}

// NewPostgresSink creates a new PostgreSQL sink.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresSink, error) {
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

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSink{
		db:     db,
		logger: logger.With("component", "postgres-sink"),
	}, nil
}

// WriteSchemaChange stores one structural-change event.
func (s *PostgresSink) WriteSchemaChange(ctx context.Context, event *cdc.SchemaChangeEvent) error {
	tableJSON, err := json.Marshal(event.Table)
	if err != nil {
		return fmt.Errorf("marshal table structure: %w", err)
	}

	query := `
		INSERT INTO mnemosyne.schema_changes (
			event_id, marker, catalog_name, schema_name, change_type,
			ddl, table_structure, from_snapshot, event_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		int64(event.Offset.Marker),
		event.Catalog,
		event.Schema,
		event.Type,
		event.DDL,
		tableJSON,
		event.FromSnapshot,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert schema change: %w", err)
	}

	s.logger.Debug("schema change written",
		"table", event.Table.ID.String(),
		"marker", event.Offset.Marker,
	)

	return nil
}

// WriteEvents stores a batch of row events in a single transaction.
func (s *PostgresSink) WriteEvents(ctx context.Context, events []cdc.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO mnemosyne.snapshot_events (
			event_id, marker, schema_name, table_name, operation,
			key_columns, after_data, event_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		keyColumnsJSON, err := jsonMarshalNullable(event.KeyColumns)
		if err != nil {
			return fmt.Errorf("marshal key columns: %w", err)
		}

		afterJSON, err := jsonMarshalNullable(event.After)
		if err != nil {
			return fmt.Errorf("marshal row data: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			event.ID,
			int64(event.Marker),
			event.Schema,
			event.Table,
			event.Operation,
			keyColumnsJSON,
			afterJSON,
			event.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("events written", "count", len(events))

	return nil
}

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// jsonMarshalNullable marshals v, returning nil for nil values so the column
// stores SQL NULL instead of the JSON literal "null".
func jsonMarshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Ensure PostgresSink implements Sink interface.
var _ Sink = (*PostgresSink)(nil)
