package snapshot

import (
	"context"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// Source is the set of extension points a database dialect implements to take
// part in the snapshot sequence. The Runner calls them in a fixed order and
// owns all cleanup: ReleaseSchemaSnapshotLocks runs whenever locking was
// attempted, and Complete runs exactly once per attempt, success or failure.
//
// Cancellation is cooperative. Every operation receives a context and checks
// it before starting the next database round trip, never inside one.
type Source interface {
	// Name identifies the dialect, e.g. "oracle" or "postgres".
	Name() string

	// SnapshottingTask decides what the attempt must do given the previous
	// resume position. Pure; no side effects.
	SnapshottingTask(previous *cdc.Offset) Task

	// Prepare opens the dedicated attempt session and binds it to the target
	// sub-database container if one is configured. It returns the attempt
	// state even when binding fails, so that Complete can still unwind.
	Prepare(ctx context.Context) (*Context, error)

	// AllTableIDs lists the candidate tables in scope as of call time. No
	// capture-policy filtering happens here.
	AllTableIDs(ctx context.Context, sc *Context) ([]cdc.TableID, error)

	// LockTablesForSchemaSnapshot establishes a savepoint and acquires an
	// exclusive lock on every captured table, in order, checking for
	// cancellation before each lock.
	LockTablesForSchemaSnapshot(ctx context.Context, sc *Context) error

	// ReleaseSchemaSnapshotLocks releases all held locks by rolling back to
	// the savepoint. It is idempotent and safe to call when no lock was taken.
	ReleaseSchemaSnapshotLocks(ctx context.Context, sc *Context) error

	// DetermineSnapshotOffset resolves the snapshot marker while locks are
	// held and stores it on the context. The marker is guaranteed to be
	// strictly after the most recent structural change to any captured table.
	DetermineSnapshotOffset(ctx context.Context, sc *Context) error

	// ReadTableStructure populates sc.TableSchemas for exactly the captured
	// tables, checking for cancellation before each schema.
	ReadTableStructure(ctx context.Context, sc *Context) error

	// CreateTableEvent materializes the canonical definition text of one table
	// into a structural-change event. A missing definition for an enumerated
	// table is an invariant violation and fatal.
	CreateTableEvent(ctx context.Context, sc *Context, id cdc.TableID) (*cdc.SchemaChangeEvent, error)

	// SnapshotSelect builds the consistent read for one table, pinned to the
	// finalized offset marker. Calling it before the offset is resolved fails
	// with ErrNoSnapshotOffset.
	SnapshotSelect(sc *Context, id cdc.TableID) (string, error)

	// OpenRowReader opens an additional session for the data phase. Row reads
	// run outside the locks; the database's versioned-read mechanism keeps
	// them consistent against the pinned marker.
	OpenRowReader(ctx context.Context, sc *Context) (RowReader, error)

	// Complete unwinds session scoping and closes the attempt session. It
	// runs unconditionally, tolerates a nil or partially built context, and
	// must be safe after a failed Prepare.
	Complete(ctx context.Context, sc *Context) error

	// Ping verifies connectivity for health checking.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}

// RowReader reads the rows of marker-pinned snapshot selects on its own
// session. One reader serves one data-phase worker.
type RowReader interface {
	// ReadRows executes the query and calls emit once per row with the values
	// keyed by column name. It returns the number of rows read.
	ReadRows(ctx context.Context, query string, table *cdc.TableSchema, emit func(values map[string]any) error) (int64, error)

	// Close releases the reader's session.
	Close() error
}
