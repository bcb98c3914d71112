package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// Connection is the narrow surface of an Oracle session used by the snapshot
// source: raw statement execution, savepoint scoping, container binding and
// data-dictionary introspection.
type Connection interface {
	// Execute runs a statement that returns no rows.
	Execute(ctx context.Context, query string, args ...any) error

	// Savepoint establishes a named rollback point on the session's
	// transaction. It does not lock anything itself.
	Savepoint(ctx context.Context, name string) error

	// RollbackToSavepoint reverts to the named rollback point, releasing
	// locks taken since without ending the transaction.
	RollbackToSavepoint(ctx context.Context, name string) error

	// SetContainer binds the session to the named container.
	SetContainer(ctx context.Context, name string) error

	// TableNames lists the ordinary (non-view) tables visible to the
	// session, excluding Oracle-internal schemas.
	TableNames(ctx context.Context) ([]cdc.TableID, error)

	// CurrentSCN reads the database's current system change number.
	CurrentSCN(ctx context.Context) (cdc.Marker, error)

	// LatestDDLSCN returns the SCN of the most recent structural change
	// across the given tables in a single aggregate lookup. The second
	// result is false when no table has a recorded structural change.
	LatestDDLSCN(ctx context.Context, tables []cdc.TableID) (cdc.Marker, bool, error)

	// SameTimestamp reports whether two SCNs map to the same wall-clock
	// timestamp (resolution is only about 3 seconds).
	SameTimestamp(ctx context.Context, a, b cdc.Marker) (bool, error)

	// ReadSchema reads the column and constraint metadata of every table in
	// one schema.
	ReadSchema(ctx context.Context, schema string) ([]*cdc.TableSchema, error)

	// TableDDL fetches the canonical definition text of one table.
	TableDDL(ctx context.Context, id cdc.TableID) (string, error)

	// Close releases the session.
	Close() error
}

// internalSchemas are Oracle-maintained schemas excluded from enumeration.
var internalSchemas = []string{
	"SYS", "SYSTEM", "OUTLN", "XDB", "CTXSYS", "MDSYS", "ORDSYS", "ORDDATA",
	"DBSNMP", "APPQOSSYS", "WMSYS", "GSMADMIN_INTERNAL", "OJVMSYS", "DVSYS",
	"AUDSYS", "LBACSYS", "OLAPSYS", "REMOTE_SCHEDULER_AGENT",
}

// sqlConnection implements Connection over a dedicated database/sql session.
type sqlConnection struct {
	conn *sql.Conn
}

func newSQLConnection(conn *sql.Conn) *sqlConnection {
	return &sqlConnection{conn: conn}
}

// Execute runs a statement that returns no rows.
func (c *sqlConnection) Execute(ctx context.Context, query string, args ...any) error {
	_, err := c.conn.ExecContext(ctx, query, args...)
	return err
}

// Savepoint establishes a named rollback point.
func (c *sqlConnection) Savepoint(ctx context.Context, name string) error {
	return c.Execute(ctx, "SAVEPOINT "+name)
}

// RollbackToSavepoint reverts to the named rollback point.
func (c *sqlConnection) RollbackToSavepoint(ctx context.Context, name string) error {
	return c.Execute(ctx, "ROLLBACK TO SAVEPOINT "+name)
}

// SetContainer binds the session to the named container.
func (c *sqlConnection) SetContainer(ctx context.Context, name string) error {
	return c.Execute(ctx, "ALTER SESSION SET CONTAINER = "+name)
}

// TableNames lists ordinary tables outside Oracle-internal schemas.
func (c *sqlConnection) TableNames(ctx context.Context) ([]cdc.TableID, error) {
	quoted := make([]string, len(internalSchemas))
	for i, s := range internalSchemas {
		quoted[i] = "'" + s + "'"
	}

	query := fmt.Sprintf(
		"SELECT owner, table_name FROM all_tables WHERE owner NOT IN (%s) ORDER BY owner, table_name",
		strings.Join(quoted, ", "),
	)

	rows, err := c.conn.QueryContext(ctx, query)
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

// CurrentSCN reads the current system change number.
func (c *sqlConnection) CurrentSCN(ctx context.Context) (cdc.Marker, error) {
	var scn int64
	err := c.conn.QueryRowContext(ctx, "SELECT CURRENT_SCN FROM V$DATABASE").Scan(&scn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoCurrentSCN
		}
		return 0, fmt.Errorf("read current SCN: %w", err)
	}
	return cdc.Marker(scn), nil
}

// LatestDDLSCN returns the SCN of the most recent structural change across
// the given tables.
func (c *sqlConnection) LatestDDLSCN(ctx context.Context, tables []cdc.TableID) (cdc.Marker, bool, error) {
	if len(tables) == 0 {
		return 0, false, nil
	}

	var sb strings.Builder
	sb.WriteString("SELECT TIMESTAMP_TO_SCN(MAX(last_ddl_time)) FROM all_objects WHERE ")

	args := make([]any, 0, len(tables)*2)
	for i, id := range tables {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		fmt.Fprintf(&sb, "(owner = :%d AND object_name = :%d)", len(args)+1, len(args)+2)
		args = append(args, id.Schema, id.Table)
	}

	var scn sql.NullInt64
	err := c.conn.QueryRowContext(ctx, sb.String(), args...).Scan(&scn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNoLatestDDLSCN
		}
		return 0, false, fmt.Errorf("read latest DDL SCN: %w", err)
	}
	if !scn.Valid {
		return 0, false, nil
	}

	return cdc.Marker(scn.Int64), true, nil
}

// SameTimestamp reports whether two SCNs map to the same timestamp.
func (c *sqlConnection) SameTimestamp(ctx context.Context, a, b cdc.Marker) (bool, error) {
	rows, err := c.conn.QueryContext(ctx,
		"SELECT 1 FROM DUAL WHERE SCN_TO_TIMESTAMP(:1) = SCN_TO_TIMESTAMP(:2)",
		int64(a), int64(b),
	)
	if err != nil {
		return false, fmt.Errorf("compare SCN timestamps: %w", err)
	}
	defer rows.Close()

	same := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("compare SCN timestamps: %w", err)
	}
	return same, nil
}

// ReadSchema reads column and primary-key metadata for every table in one
// schema.
func (c *sqlConnection) ReadSchema(ctx context.Context, schema string) ([]*cdc.TableSchema, error) {
	pkColumns, err := c.readPrimaryKeys(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT table_name, column_name, data_type, column_id, nullable, data_default
		FROM all_tab_columns
		WHERE owner = :1
		ORDER BY table_name, column_id
	`

	rows, err := c.conn.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("read columns of schema %s: %w", schema, err)
	}
	defer rows.Close()

	now := time.Now()
	byTable := make(map[string]*cdc.TableSchema)
	var order []string

	for rows.Next() {
		var (
			tableName, columnName, dataType string
			position                        int
			nullable                        string
			defaultValue                    sql.NullString
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &position, &nullable, &defaultValue); err != nil {
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
			Nullable:   nullable == "Y",
			PrimaryKey: pkColumns[tableName][columnName],
		}
		if defaultValue.Valid {
			v := strings.TrimSpace(defaultValue.String)
			col.DefaultValue = &v
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
func (c *sqlConnection) readPrimaryKeys(ctx context.Context, schema string) (map[string]map[string]bool, error) {
	query := `
		SELECT cc.table_name, cc.column_name
		FROM all_constraints con
		JOIN all_cons_columns cc
			ON con.owner = cc.owner AND con.constraint_name = cc.constraint_name
		WHERE con.constraint_type = 'P' AND con.owner = :1
	`

	rows, err := c.conn.QueryContext(ctx, query, schema)
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

// TableDDL fetches the canonical definition text of one table.
func (c *sqlConnection) TableDDL(ctx context.Context, id cdc.TableID) (string, error) {
	var ddl sql.NullString
	err := c.conn.QueryRowContext(ctx,
		"SELECT dbms_metadata.get_ddl('TABLE', :1, :2) FROM dual",
		id.Table, id.Schema,
	).Scan(&ddl)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrMissingTableDDL, id)
		}
		return "", fmt.Errorf("read DDL of %s: %w", id, err)
	}
	if !ddl.Valid || ddl.String == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingTableDDL, id)
	}

	return ddl.String, nil
}

// Close releases the session.
func (c *sqlConnection) Close() error {
	return c.conn.Close()
}

// Ensure sqlConnection implements Connection interface.
var _ Connection = (*sqlConnection)(nil)
