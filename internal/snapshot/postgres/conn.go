package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// Connection is the narrow surface of a PostgreSQL session used by the
// snapshot source: raw statement execution, savepoint scoping, snapshot
// transaction control and catalog introspection.
type Connection interface {
	// Execute runs a statement that returns no rows.
	Execute(ctx context.Context, query string) error

	// Savepoint establishes a named rollback point on the attempt
	// transaction.
	Savepoint(ctx context.Context, name string) error

	// RollbackToSavepoint reverts to the named rollback point, releasing
	// locks taken since without ending the transaction.
	RollbackToSavepoint(ctx context.Context, name string) error

	// BeginSnapshotTransaction starts the repeatable-read read-only attempt
	// transaction and returns its exported snapshot identifier.
	BeginSnapshotTransaction(ctx context.Context) (string, error)

	// CurrentLSN reads the current WAL position.
	CurrentLSN(ctx context.Context) (cdc.Marker, error)

	// TableNames lists ordinary tables outside system schemas.
	TableNames(ctx context.Context) ([]cdc.TableID, error)

	// ReadSchema reads the column and constraint metadata of every table in
	// one schema.
	ReadSchema(ctx context.Context, schema string) ([]*cdc.TableSchema, error)

	// EndTransaction rolls the attempt transaction back. The transaction is
	// read-only, so rollback and commit are equivalent.
	EndTransaction(ctx context.Context) error

	// Close releases the session.
	Close(ctx context.Context) error
}

// pgxConnection implements Connection over a dedicated pgx session.
type pgxConnection struct {
	conn *pgx.Conn
}

func newPgxConnection(conn *pgx.Conn) *pgxConnection {
	return &pgxConnection{conn: conn}
}

// Execute runs a statement that returns no rows.
func (c *pgxConnection) Execute(ctx context.Context, query string) error {
	_, err := c.conn.Exec(ctx, query)
	return err
}

// Savepoint establishes a named rollback point.
func (c *pgxConnection) Savepoint(ctx context.Context, name string) error {
	return c.Execute(ctx, "SAVEPOINT "+name)
}

// RollbackToSavepoint reverts to the named rollback point.
func (c *pgxConnection) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.Execute(ctx, "ROLLBACK TO SAVEPOINT "+name)
}

// BeginSnapshotTransaction starts the attempt transaction and exports its
// snapshot.
func (c *pgxConnection) BeginSnapshotTransaction(ctx context.Context) (string, error) {
	if err := c.Execute(ctx, "BEGIN ISOLATION LEVEL REPEATABLE READ READ ONLY"); err != nil {
		return "", fmt.Errorf("begin snapshot transaction: %w", err)
	}

	var name string
	err := c.conn.QueryRow(ctx, "SELECT pg_export_snapshot()").Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoExportedSnapshot
		}
		return "", fmt.Errorf("export snapshot: %w", err)
	}
	if name == "" {
		return "", ErrNoExportedSnapshot
	}

	return name, nil
}

// CurrentLSN reads the current WAL position.
func (c *pgxConnection) CurrentLSN(ctx context.Context) (cdc.Marker, error) {
	var lsnText string
	err := c.conn.QueryRow(ctx, "SELECT pg_current_wal_lsn()::text").Scan(&lsnText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoCurrentLSN
		}
		return 0, fmt.Errorf("read current LSN: %w", err)
	}

	lsn, err := pglogrepl.ParseLSN(lsnText)
	if err != nil {
		return 0, fmt.Errorf("parse LSN %q: %w", lsnText, err)
	}

	return cdc.Marker(lsn), nil
}

// TableNames lists ordinary tables outside system schemas.
func (c *pgxConnection) TableNames(ctx context.Context) ([]cdc.TableID, error) {
	query := `
		SELECT n.nspname, c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
			AND n.nspname NOT IN ('pg_catalog', 'information_schema')
			AND n.nspname NOT LIKE 'pg_toast%'
			AND n.nspname NOT LIKE 'pg_temp%'
		ORDER BY n.nspname, c.relname
	`

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var ids []cdc.TableID
	for rows.Next() {
		var id cdc.TableID
		if err := rows.Scan(&id.Schema, &id.Table); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	return ids, nil
}

// ReadSchema reads column and primary-key metadata for every table in one
// schema.
func (c *pgxConnection) ReadSchema(ctx context.Context, schema string) ([]*cdc.TableSchema, error) {
	pkColumns, err := c.readPrimaryKeys(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT table_name, column_name, data_type, ordinal_position, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`

	rows, err := c.conn.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("read columns of schema %s: %w", schema, err)
	}
	defer rows.Close()

	now := time.Now()
	byTable := make(map[string]*cdc.TableSchema)
	var order []string

	for rows.Next() {
		var (
			tableName, columnName, dataType, isNullable string
			position                                    int
			defaultValue                                *string
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &position, &isNullable, &defaultValue); err != nil {
			return nil, fmt.Errorf("scan column of schema %s: %w", schema, err)
		}

		ts, ok := byTable[tableName]
		if !ok {
			ts = &cdc.TableSchema{
				ID:         cdc.TableID{Schema: schema, Table: tableName},
				CapturedAt: now,
			}
			byTable[tableName] = ts
			order = append(order, tableName)
		}

		col := cdc.Column{
			Name:       columnName,
			Type:       dataType,
			Position:   position,
			Nullable:   strings.EqualFold(isNullable, "YES"),
			PrimaryKey: pkColumns[tableName][columnName],
		}
		if defaultValue != nil {
			col.DefaultValue = defaultValue
		}
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of schema %s: %w", schema, err)
	}

	schemas := make([]*cdc.TableSchema, 0, len(order))
	for _, name := range order {
		schemas = append(schemas, byTable[name])
	}
	return schemas, nil
}

// readPrimaryKeys maps table name to the set of its primary key columns.
func (c *pgxConnection) readPrimaryKeys(ctx context.Context, schema string) (map[string]map[string]bool, error) {
	query := `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
	`

	rows, err := c.conn.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("read primary keys of schema %s: %w", schema, err)
	}
	defer rows.Close()

	pk := make(map[string]map[string]bool)
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, fmt.Errorf("scan primary key of schema %s: %w", schema, err)
		}
		if pk[tableName] == nil {
			pk[tableName] = make(map[string]bool)
		}
		pk[tableName][columnName] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read primary keys of schema %s: %w", schema, err)
	}

	return pk, nil
}

// EndTransaction rolls the attempt transaction back.
func (c *pgxConnection) EndTransaction(ctx context.Context) error {
	return c.Execute(ctx, "ROLLBACK")
}

// Close releases the session.
func (c *pgxConnection) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Ensure pgxConnection implements Connection interface.
var _ Connection = (*pgxConnection)(nil)
