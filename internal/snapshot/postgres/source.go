package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/janovincze/mnemosyne/internal/cdc"
	"github.com/janovincze/mnemosyne/internal/snapshot"
)

// savepointName scopes the schema-snapshot locks on the attempt transaction.
const savepointName = "mnemosyne_schema_snapshot"

// snapshotNameAttribute is the transaction-metadata key carrying the
// exported snapshot identifier that data-phase sessions pin themselves to.
const snapshotNameAttribute = "snapshot_name"

// Source implements the snapshot extension points for PostgreSQL.
type Source struct {
	cfg    Config
	pool   *pgxpool.Pool
	logger *slog.Logger

	// connect opens the dedicated attempt session; replaced in tests.
	connect func(ctx context.Context) (Connection, error)

	conn         Connection
	snapshotName string
	txOpen       bool
	savepointSet bool
	locked       int
}

// New creates a PostgreSQL snapshot source.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection URL: %w", err)
	}
	if cfg.ReaderPoolSize > 0 {
		poolCfg.MaxConns = int32(cfg.ReaderPoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{
		cfg:    cfg,
		pool:   pool,
		logger: logger.With("component", "postgres-source", "source_id", cfg.SourceID),
	}
	s.connect = s.openSession

	return s, nil
}

// openSession opens the dedicated attempt session.
func (s *Source) openSession(ctx context.Context) (Connection, error) {
	conn, err := pgx.Connect(ctx, s.cfg.ConnectionURL)
	if err != nil {
		return nil, err
	}
	return newPgxConnection(conn), nil
}

// Name identifies the dialect.
func (s *Source) Name() string {
	return "postgres"
}

// SnapshottingTask decides what the attempt must do.
func (s *Source) SnapshottingTask(previous *cdc.Offset) snapshot.Task {
	return snapshot.Plan(previous, s.cfg.IncludeData)
}

// Prepare opens the attempt session and starts the repeatable-read snapshot
// transaction. The catalog is fixed per connection on PostgreSQL, so there
// is no container binding; the transaction itself is the scoped resource
// that Complete unwinds.
func (s *Source) Prepare(ctx context.Context) (*snapshot.Context, error) {
	sc := snapshot.NewContext(s.cfg.DatabaseName)

	conn, err := s.connect(ctx)
	if err != nil {
		return sc, fmt.Errorf("open attempt session: %w", err)
	}
	s.conn = conn

	name, err := conn.BeginSnapshotTransaction(ctx)
	if err != nil {
		return sc, err
	}
	s.txOpen = true
	s.snapshotName = name

	s.logger.Debug("snapshot transaction started", "snapshot_name", name)

	return sc, nil
}

// AllTableIDs lists the candidate tables as of call time.
func (s *Source) AllTableIDs(ctx context.Context, _ *snapshot.Context) ([]cdc.TableID, error) {
	return s.conn.TableNames(ctx)
}

// LockTablesForSchemaSnapshot establishes the savepoint and acquires an
// ACCESS SHARE lock on every captured table in order, checking for
// cancellation before each lock. ACCESS SHARE conflicts with the ACCESS
// EXCLUSIVE lock every DDL statement needs, so structure cannot change
// while the locks are held.
func (s *Source) LockTablesForSchemaSnapshot(ctx context.Context, sc *snapshot.Context) error {
	if err := s.conn.Savepoint(ctx, savepointName); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	s.savepointSet = true

	for _, id := range sc.CapturedTables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted while locking table %s: %w", id, err)
		}

		s.logger.Debug("locking table", "table", id.String())

		if err := s.conn.Execute(ctx, "LOCK TABLE "+quoteQualified(id)+" IN ACCESS SHARE MODE"); err != nil {
			return fmt.Errorf("lock table %s: %w", id, err)
		}
		s.locked++
	}

	return nil
}

// ReleaseSchemaSnapshotLocks rolls back to the savepoint, releasing all held
// locks. Idempotent; a no-op when the savepoint was never established.
func (s *Source) ReleaseSchemaSnapshotLocks(ctx context.Context, _ *snapshot.Context) error {
	if !s.savepointSet {
		return nil
	}

	if err := s.conn.RollbackToSavepoint(ctx, savepointName); err != nil {
		return fmt.Errorf("rollback to savepoint: %w", err)
	}

	s.logger.Debug("schema snapshot locks released", "locked_tables", s.locked)
	s.savepointSet = false
	s.locked = 0

	return nil
}

// DetermineSnapshotOffset resolves the snapshot LSN while the table locks
// are held. PostgreSQL needs no timestamp-collision loop: the held locks
// block DDL outright, and data consistency is pinned by the exported
// snapshot rather than by reading "as of" the marker.
func (s *Source) DetermineSnapshotOffset(ctx context.Context, sc *snapshot.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted while resolving snapshot offset: %w", err)
	}

	lsn, err := s.conn.CurrentLSN(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("snapshot offset resolved", "lsn", lsn, "snapshot_name", s.snapshotName)

	return sc.SetOffset(cdc.Offset{
		Marker: lsn,
		Transaction: cdc.TransactionMeta{
			Attributes: map[string]string{snapshotNameAttribute: s.snapshotName},
		},
		SnapshotInProgress: true,
		CapturedAt:         time.Now(),
	})
}

// ReadTableStructure reads the structure of the captured tables, restricted
// to the schemas that actually contain captured tables, checking for
// cancellation before each schema.
func (s *Source) ReadTableStructure(ctx context.Context, sc *snapshot.Context) error {
	captured := make(map[cdc.TableID]bool, len(sc.CapturedTables))
	for _, id := range sc.CapturedTables {
		captured[id] = true
	}

	marker := cdc.Marker(0)
	if off := sc.Offset(); off != nil {
		marker = off.Marker
	}

	for _, schema := range sc.Schemas() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted while reading structure of schema %s: %w", schema, err)
		}

		tables, err := s.conn.ReadSchema(ctx, schema)
		if err != nil {
			return err
		}

		for _, table := range tables {
			if !captured[table.ID] {
				continue
			}
			table.Marker = marker
			sc.TableSchemas[table.ID] = table
		}
	}

	for _, id := range sc.CapturedTables {
		if _, ok := sc.TableSchemas[id]; !ok {
			return fmt.Errorf("%w: %s", snapshot.ErrStructureIncomplete, id)
		}
	}

	return nil
}

// CreateTableEvent packages the synthesized definition text of one table
// into a structural-change event.
func (s *Source) CreateTableEvent(_ context.Context, sc *snapshot.Context, id cdc.TableID) (*cdc.SchemaChangeEvent, error) {
	offset := sc.Offset()
	if offset == nil {
		return nil, snapshot.ErrNoSnapshotOffset
	}

	table, ok := sc.TableSchemas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrStructureIncomplete, id)
	}

	return &cdc.SchemaChangeEvent{
		ID:           uuid.NewString(),
		Offset:       *offset,
		Catalog:      sc.CatalogName,
		Schema:       id.Schema,
		DDL:          synthesizeDDL(table),
		Table:        table,
		Type:         cdc.SchemaChangeCreate,
		FromSnapshot: true,
		Timestamp:    time.Now(),
	}, nil
}

// SnapshotSelect builds the read of one table. The statement itself carries
// no marker; every data-phase session pins itself to the exported snapshot
// stored in the offset, which corresponds exactly to the resolved LSN.
func (s *Source) SnapshotSelect(sc *snapshot.Context, id cdc.TableID) (string, error) {
	if sc.Offset() == nil {
		return "", snapshot.ErrNoSnapshotOffset
	}

	return "SELECT * FROM " + quoteQualified(id), nil
}

// OpenRowReader opens a data-phase session pinned to the exported snapshot
// of the attempt transaction.
func (s *Source) OpenRowReader(ctx context.Context, sc *snapshot.Context) (snapshot.RowReader, error) {
	offset := sc.Offset()
	if offset == nil {
		return nil, snapshot.ErrNoSnapshotOffset
	}
	name := offset.Transaction.Attributes[snapshotNameAttribute]
	if name == "" {
		return nil, ErrNoSnapshotName
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire row reader session: %w", err)
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin row reader transaction: %w", err)
	}

	quoted := strings.ReplaceAll(name, "'", "''")
	if _, err := tx.Exec(ctx, "SET TRANSACTION SNAPSHOT '"+quoted+"'"); err != nil {
		_ = tx.Rollback(ctx)
		conn.Release()
		return nil, fmt.Errorf("pin transaction snapshot %s: %w", name, err)
	}

	return &rowReader{conn: conn, tx: tx}, nil
}

// Complete ends the attempt transaction and closes the session. It runs on
// every exit path, including a failed Prepare.
func (s *Source) Complete(ctx context.Context, _ *snapshot.Context) error {
	if s.conn == nil {
		return nil
	}

	var txErr error
	if s.txOpen {
		txErr = s.conn.EndTransaction(ctx)
		s.txOpen = false
	}

	closeErr := s.conn.Close(ctx)
	s.conn = nil
	s.snapshotName = ""
	s.savepointSet = false
	s.locked = 0

	if txErr != nil {
		return fmt.Errorf("end attempt transaction: %w", txErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close attempt session: %w", closeErr)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Source) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Source) Close() error {
	s.pool.Close()
	return nil
}

// rowReader reads snapshot-pinned rows on its own pooled session.
type rowReader struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

// ReadRows executes the query and emits every row keyed by column name.
func (r *rowReader) ReadRows(ctx context.Context, query string, _ *cdc.TableSchema, emit func(values map[string]any) error) (int64, error) {
	rows, err := r.tx.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("execute snapshot select: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var count int64
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return count, fmt.Errorf("read row values: %w", err)
		}

		row := make(map[string]any, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}

		if err := emit(row); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("read rows: %w", err)
	}

	return count, nil
}

// Close ends the reader's transaction and releases its session.
func (r *rowReader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.tx.Rollback(ctx)
	r.conn.Release()
	if err != nil && err != pgx.ErrTxClosed {
		return err
	}
	return nil
}

// Ensure interfaces are implemented.
var (
	_ snapshot.Source    = (*Source)(nil)
	_ snapshot.RowReader = (*rowReader)(nil)
)
