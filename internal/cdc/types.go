// Package cdc provides the shared types for relational change data capture:
// table identities, table structure, resume positions and the events produced
// by snapshotting and streaming.
package cdc

import (
	"time"
)

// Marker is a database-wide monotonically increasing version counter (an SCN
// on Oracle, an LSN on PostgreSQL). It totally orders committed changes and
// pins consistent reads to "the state as of change N".
type Marker uint64

// Operation represents the type of database operation captured by CDC.
type Operation string

const (
	// OperationRead represents a row read during a consistent snapshot.
	OperationRead Operation = "READ"
	// OperationInsert represents an INSERT operation.
	OperationInsert Operation = "INSERT"
	// OperationUpdate represents an UPDATE operation.
	OperationUpdate Operation = "UPDATE"
	// OperationDelete represents a DELETE operation.
	OperationDelete Operation = "DELETE"
)

// TableID identifies a table within the catalog in scope.
type TableID struct {
	// Schema is the owning schema (Oracle: the owner, PostgreSQL: the schema).
	Schema string `json:"schema"`

	// Table is the table name.
	Table string `json:"table"`
}

// String returns the fully qualified table name (schema.table).
func (id TableID) String() string {
	return id.Schema + "." + id.Table
}

// Column represents a column in a database table.
type Column struct {
	// Name is the column name.
	Name string `json:"name"`

	// Type is the database data type.
	Type string `json:"type"`

	// Position is the 1-based ordinal position of the column.
	Position int `json:"position"`

	// Nullable indicates if the column allows NULL values.
	Nullable bool `json:"nullable"`

	// PrimaryKey indicates if this column is part of the primary key.
	PrimaryKey bool `json:"primary_key"`

	// DefaultValue is the default value expression, if any.
	DefaultValue *string `json:"default_value,omitempty"`
}

// TableSchema represents the resolved structure of a database table.
type TableSchema struct {
	// ID identifies the table.
	ID TableID `json:"id"`

	// Columns is the list of columns in ordinal order.
	Columns []Column `json:"columns"`

	// CapturedAt is when this structure was read.
	CapturedAt time.Time `json:"captured_at"`

	// Marker is the snapshot marker the structure was read under.
	Marker Marker `json:"marker"`
}

// PrimaryKeyColumns returns the columns that are part of the primary key.
func (t *TableSchema) PrimaryKeyColumns() []Column {
	var pkColumns []Column
	for _, col := range t.Columns {
		if col.PrimaryKey {
			pkColumns = append(pkColumns, col)
		}
	}
	return pkColumns
}

// SchemaChangeType represents the kind of structural change carried by a
// SchemaChangeEvent.
type SchemaChangeType string

const (
	// SchemaChangeCreate represents a table creation.
	SchemaChangeCreate SchemaChangeType = "CREATE"
	// SchemaChangeAlter represents a table alteration.
	SchemaChangeAlter SchemaChangeType = "ALTER"
	// SchemaChangeDrop represents a table drop.
	SchemaChangeDrop SchemaChangeType = "DROP"
)

// SchemaChangeEvent describes the structure of one table at a point in the
// change sequence, together with the definition text that would recreate it.
type SchemaChangeEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Offset is the resume position at the time the structure was captured.
	Offset Offset `json:"offset"`

	// Catalog is the logical database the table lives in.
	Catalog string `json:"catalog"`

	// Schema is the owning schema of the table.
	Schema string `json:"schema"`

	// DDL is the canonical definition text of the table.
	DDL string `json:"ddl"`

	// Table is the resolved structure of the table.
	Table *TableSchema `json:"table"`

	// Type is the kind of structural change.
	Type SchemaChangeType `json:"type"`

	// FromSnapshot is true when the event was produced by a snapshot rather
	// than observed live on the change stream.
	FromSnapshot bool `json:"from_snapshot"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Event represents a single row-level event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Marker is the version counter the event is pinned to. For snapshot
	// reads this is the snapshot marker, identical across all tables of one
	// attempt.
	Marker Marker `json:"marker"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`

	// Schema is the owning schema of the table.
	Schema string `json:"schema"`

	// Table is the table name.
	Table string `json:"table"`

	// Operation is the type of operation (READ for snapshot rows).
	Operation Operation `json:"operation"`

	// After contains the row values keyed by column name.
	After map[string]any `json:"after,omitempty"`

	// KeyColumns contains the names of the primary key columns.
	KeyColumns []string `json:"key_columns,omitempty"`
}

// FullyQualifiedTable returns the fully qualified table name (schema.table).
func (e *Event) FullyQualifiedTable() string {
	return e.Schema + "." + e.Table
}

// TransactionMeta carries auxiliary transaction state alongside a resume
// position. A freshly snapshotted offset starts with empty metadata; the
// streaming side populates it while replaying in-flight transactions.
type TransactionMeta struct {
	// ID is the transaction identifier, if positioned inside one.
	ID string `json:"id,omitempty"`

	// Attributes holds dialect-specific transaction context, such as the
	// exported snapshot name on PostgreSQL.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Offset is the durable resume position recorded by a snapshot (or during
// streaming) that lets a future run continue without gap or duplication.
type Offset struct {
	// Marker is the version counter the position is anchored to.
	Marker Marker `json:"marker"`

	// Transaction is the auxiliary transaction metadata.
	Transaction TransactionMeta `json:"transaction"`

	// SnapshotInProgress is true while the snapshot that produced this
	// offset has not finished its data phase.
	SnapshotInProgress bool `json:"snapshot_in_progress"`

	// CapturedAt is when the position was resolved.
	CapturedAt time.Time `json:"captured_at"`
}

// MarkSnapshotComplete returns a copy of the offset with the snapshot phase
// recorded as finished.
func (o Offset) MarkSnapshotComplete() Offset {
	o.SnapshotInProgress = false
	return o
}
