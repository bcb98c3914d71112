package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/janovincze/mnemosyne/internal/cdc"
	"github.com/janovincze/mnemosyne/internal/metrics"
	"github.com/janovincze/mnemosyne/internal/snapshot"
)

// savepointName scopes the schema-snapshot locks. Rolling back to it
// releases the locks without ending the attempt transaction; no writes
// happen on the attempt session between savepoint creation and rollback.
const savepointName = "mnemosyne_schema_snapshot"

// rootContainer is the container the session is reset to on completion.
const rootContainer = "CDB$ROOT"

// Source implements the snapshot extension points for Oracle.
type Source struct {
	cfg    Config
	db     *sql.DB
	logger *slog.Logger

	// connect opens the dedicated attempt session; replaced in tests.
	connect func(ctx context.Context) (Connection, error)

	conn         Connection
	savepointSet bool
	locked       int
	pdbBinding   bool
}

// New creates an Oracle snapshot source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.ServiceName, cfg.User, cfg.Password, nil)
	}

	db, err := sql.Open("oracle", dsn)
	if err != nil {
		return nil, fmt.Errorf("open oracle database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "oracle-source", "source_id", cfg.SourceID),
	}
	s.connect = s.openSession

	return s, nil
}

// openSession pins one database/sql connection as the attempt session.
func (s *Source) openSession(ctx context.Context) (Connection, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return newSQLConnection(conn), nil
}

// Name identifies the dialect.
func (s *Source) Name() string {
	return "oracle"
}

// SnapshottingTask decides what the attempt must do.
func (s *Source) SnapshottingTask(previous *cdc.Offset) snapshot.Task {
	return snapshot.Plan(previous, s.cfg.IncludeData)
}

// Prepare opens the attempt session and binds it to the configured PDB. The
// attempt state is returned even when binding fails so Complete can unwind.
func (s *Source) Prepare(ctx context.Context) (*snapshot.Context, error) {
	catalog := s.cfg.DatabaseName
	if s.cfg.PDBName != "" {
		catalog = s.cfg.PDBName
	}
	sc := snapshot.NewContext(catalog)

	conn, err := s.connect(ctx)
	if err != nil {
		return sc, fmt.Errorf("open attempt session: %w", err)
	}
	s.conn = conn

	if s.cfg.PDBName != "" {
		// Mark the binding before attempting it: even a failed ALTER SESSION
		// leaves the scoping state uncertain, so Complete resets it.
		s.pdbBinding = true
		if err := conn.SetContainer(ctx, s.cfg.PDBName); err != nil {
			return sc, fmt.Errorf("bind session to pdb %s: %w", s.cfg.PDBName, err)
		}
		s.logger.Debug("session bound to pdb", "pdb", s.cfg.PDBName)
	}

	return sc, nil
}

// AllTableIDs lists the candidate tables as of call time.
func (s *Source) AllTableIDs(ctx context.Context, _ *snapshot.Context) ([]cdc.TableID, error) {
	return s.conn.TableNames(ctx)
}

// LockTablesForSchemaSnapshot establishes the savepoint and acquires an
// exclusive lock on every captured table in order, checking for cancellation
// before each lock. A cancellation mid-loop leaves already taken locks for
// ReleaseSchemaSnapshotLocks to undo.
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

		if err := s.conn.Execute(ctx, fmt.Sprintf("LOCK TABLE %s.%s IN EXCLUSIVE MODE", id.Schema, id.Table)); err != nil {
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

// DetermineSnapshotOffset resolves the snapshot SCN while the table locks
// are held. The SCN must represent a later timestamp than the latest DDL
// change to any captured table; because SCN-to-timestamp resolution is
// coarse, the current SCN is re-fetched until its timestamp diverges from
// the latest DDL timestamp. Without that, the later flashback query could
// fail with ORA-01466 for a table created at the same instant.
func (s *Source) DetermineSnapshotOffset(ctx context.Context, sc *snapshot.Context) error {
	latestDDL, hasDDL, err := s.conn.LatestDDLSCN(ctx, sc.CapturedTables)
	if err != nil {
		return err
	}

	var current cdc.Marker
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted while resolving snapshot offset: %w", err)
		}

		current, err = s.conn.CurrentSCN(ctx)
		if err != nil {
			return err
		}

		if !hasDDL {
			break
		}

		same, err := s.conn.SameTimestamp(ctx, latestDDL, current)
		if err != nil {
			return err
		}
		if !same {
			break
		}

		if attempt >= s.cfg.MarkerRetryLimit {
			return fmt.Errorf("%w: latest DDL SCN %d still shares a timestamp with current SCN %d after %d attempts",
				ErrMarkerRetriesExhausted, latestDDL, current, attempt)
		}

		metrics.SnapshotMarkerRetriesTotal.WithLabelValues(s.cfg.SourceID).Inc()
		s.logger.Debug("current SCN shares timestamp with latest DDL, re-fetching",
			"latest_ddl_scn", latestDDL,
			"current_scn", current,
			"attempt", attempt,
		)

		if s.cfg.MarkerRetryPause > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("interrupted while resolving snapshot offset: %w", ctx.Err())
			case <-time.After(s.cfg.MarkerRetryPause):
			}
		}
	}

	s.logger.Info("snapshot offset resolved", "scn", current, "latest_ddl_scn", latestDDL)

	return sc.SetOffset(cdc.Offset{
		Marker:             current,
		Transaction:        cdc.TransactionMeta{},
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

// CreateTableEvent materializes the canonical DDL of one table into a
// structural-change event.
func (s *Source) CreateTableEvent(ctx context.Context, sc *snapshot.Context, id cdc.TableID) (*cdc.SchemaChangeEvent, error) {
	offset := sc.Offset()
	if offset == nil {
		return nil, snapshot.ErrNoSnapshotOffset
	}

	ddl, err := s.conn.TableDDL(ctx, id)
	if err != nil {
		return nil, err
	}

	return &cdc.SchemaChangeEvent{
		ID:           uuid.NewString(),
		Offset:       *offset,
		Catalog:      sc.CatalogName,
		Schema:       id.Schema,
		DDL:          ddl,
		Table:        sc.TableSchemas[id],
		Type:         cdc.SchemaChangeCreate,
		FromSnapshot: true,
		Timestamp:    time.Now(),
	}, nil
}

// SnapshotSelect builds the flashback read of one table pinned to the
// resolved SCN. No locks are needed: the flashback mechanism guarantees
// consistency against the pinned SCN even with concurrent writers.
func (s *Source) SnapshotSelect(sc *snapshot.Context, id cdc.TableID) (string, error) {
	offset := sc.Offset()
	if offset == nil {
		return "", snapshot.ErrNoSnapshotOffset
	}

	return fmt.Sprintf("SELECT * FROM %s.%s AS OF SCN %d", id.Schema, id.Table, offset.Marker), nil
}

// OpenRowReader opens a data-phase session, bound to the same PDB as the
// attempt session.
func (s *Source) OpenRowReader(ctx context.Context, _ *snapshot.Context) (snapshot.RowReader, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open row reader session: %w", err)
	}

	if s.cfg.PDBName != "" {
		if _, err := conn.ExecContext(ctx, "ALTER SESSION SET CONTAINER = "+s.cfg.PDBName); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind row reader to pdb %s: %w", s.cfg.PDBName, err)
		}
	}

	return &rowReader{conn: conn}, nil
}

// Complete resets the session container and closes the attempt session. It
// runs on every exit path, including a failed Prepare, and tolerates a nil
// context value.
func (s *Source) Complete(ctx context.Context, _ *snapshot.Context) error {
	if s.conn == nil {
		return nil
	}

	var resetErr error
	if s.pdbBinding {
		if err := s.conn.SetContainer(ctx, rootContainer); err != nil {
			resetErr = fmt.Errorf("reset session to %s: %w", rootContainer, err)
		}
		s.pdbBinding = false
	}

	closeErr := s.conn.Close()
	s.conn = nil
	s.savepointSet = false
	s.locked = 0

	if resetErr != nil {
		return resetErr
	}
	if closeErr != nil {
		return fmt.Errorf("close attempt session: %w", closeErr)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}

// rowReader reads flashback query rows on its own session.
type rowReader struct {
	conn *sql.Conn
}

// ReadRows executes the query and emits every row keyed by column name.
func (r *rowReader) ReadRows(ctx context.Context, query string, _ *cdc.TableSchema, emit func(values map[string]any) error) (int64, error) {
	rows, err := r.conn.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("execute snapshot select: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("read result columns: %w", err)
	}

	var count int64
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return count, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = values[i]
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

// Close releases the reader's session.
func (r *rowReader) Close() error {
	return r.conn.Close()
}

// Ensure interfaces are implemented.
var (
	_ snapshot.Source    = (*Source)(nil)
	_ snapshot.RowReader = (*rowReader)(nil)
)
