package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/janovincze/mnemosyne/internal/cdc"
	"github.com/janovincze/mnemosyne/internal/snapshot"
)

// fakeConnection implements Connection with scripted data-dictionary answers.
// SCN-to-timestamp buckets are simulated by integer division: two SCNs share
// a timestamp when they fall into the same bucket of 15.
type fakeConnection struct {
	executed   []string
	savepoints []string
	rollbacks  []string
	containers []string

	setContainerErr error
	lockErrFor      string

	tables    []cdc.TableID
	scns      []cdc.Marker
	scnIdx    int
	latestDDL cdc.Marker
	hasDDL    bool

	ddlLookups     int
	probeCalls     int
	schemaReads    []string
	schemasByOwner map[string][]*cdc.TableSchema
	ddlByTable     map[cdc.TableID]string

	closed bool
}

func (c *fakeConnection) Execute(_ context.Context, query string, _ ...any) error {
	c.executed = append(c.executed, query)
	if c.lockErrFor != "" && strings.Contains(query, c.lockErrFor) {
		return errors.New("ORA-00054: resource busy")
	}
	return nil
}

func (c *fakeConnection) Savepoint(_ context.Context, name string) error {
	c.savepoints = append(c.savepoints, name)
	return nil
}

func (c *fakeConnection) RollbackToSavepoint(_ context.Context, name string) error {
	c.rollbacks = append(c.rollbacks, name)
	return nil
}

func (c *fakeConnection) SetContainer(_ context.Context, name string) error {
	c.containers = append(c.containers, name)
	return c.setContainerErr
}

func (c *fakeConnection) TableNames(_ context.Context) ([]cdc.TableID, error) {
	return c.tables, nil
}

func (c *fakeConnection) CurrentSCN(_ context.Context) (cdc.Marker, error) {
	if c.scnIdx >= len(c.scns) {
		return 0, errors.New("fake: SCN script exhausted")
	}
	scn := c.scns[c.scnIdx]
	c.scnIdx++
	return scn, nil
}

func (c *fakeConnection) LatestDDLSCN(_ context.Context, tables []cdc.TableID) (cdc.Marker, bool, error) {
	if len(tables) == 0 {
		return 0, false, nil
	}
	c.ddlLookups++
	return c.latestDDL, c.hasDDL, nil
}

func (c *fakeConnection) SameTimestamp(_ context.Context, a, b cdc.Marker) (bool, error) {
	c.probeCalls++
	return a/15 == b/15, nil
}

func (c *fakeConnection) ReadSchema(_ context.Context, schema string) ([]*cdc.TableSchema, error) {
	c.schemaReads = append(c.schemaReads, schema)
	return c.schemasByOwner[schema], nil
}

func (c *fakeConnection) TableDDL(_ context.Context, id cdc.TableID) (string, error) {
	ddl, ok := c.ddlByTable[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingTableDDL, id)
	}
	return ddl, nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

var _ Connection = (*fakeConnection)(nil)

func newTestSource(conn *fakeConnection, mutate func(*Config)) *Source {
	cfg := DefaultConfig()
	cfg.DSN = "oracle://test"
	cfg.DatabaseName = "ORCLCDB"
	cfg.MarkerRetryPause = 0
	if mutate != nil {
		mutate(&cfg)
	}

	s := &Source{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s.connect = func(_ context.Context) (Connection, error) {
		return conn, nil
	}
	return s
}

func preparedContext(t *testing.T, s *Source, tables ...cdc.TableID) *snapshot.Context {
	t.Helper()
	sc, err := s.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}
	sc.CapturedTables = tables
	return sc
}

func TestSource_DetermineSnapshotOffset_RetriesOnTimestampCollision(t *testing.T) {
	// Latest DDL at SCN 100; the first current SCN 101 falls into the same
	// timestamp bucket, the re-fetched 115 does not.
	conn := &fakeConnection{
		latestDDL: 100,
		hasDDL:    true,
		scns:      []cdc.Marker{101, 115},
	}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s, cdc.TableID{Schema: "APP", Table: "ORDERS"})

	if err := s.DetermineSnapshotOffset(context.Background(), sc); err != nil {
		t.Fatalf("DetermineSnapshotOffset() failed: %v", err)
	}

	offset := sc.Offset()
	if offset == nil || offset.Marker != 115 {
		t.Fatalf("offset = %+v, want marker 115", offset)
	}
	if !offset.SnapshotInProgress {
		t.Error("resolved offset must be marked in progress")
	}
	if conn.scnIdx != 2 {
		t.Errorf("current SCN fetched %d times, want 2", conn.scnIdx)
	}
	if conn.probeCalls != 2 {
		t.Errorf("timestamp probe ran %d times, want 2", conn.probeCalls)
	}
	if conn.ddlLookups != 1 {
		t.Errorf("latest DDL looked up %d times, want 1", conn.ddlLookups)
	}
}

func TestSource_DetermineSnapshotOffset_NoCollisionResolvesFirstFetch(t *testing.T) {
	conn := &fakeConnection{
		latestDDL: 100,
		hasDDL:    true,
		scns:      []cdc.Marker{250},
	}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s, cdc.TableID{Schema: "APP", Table: "ORDERS"})

	if err := s.DetermineSnapshotOffset(context.Background(), sc); err != nil {
		t.Fatalf("DetermineSnapshotOffset() failed: %v", err)
	}
	if sc.Offset().Marker != 250 {
		t.Errorf("marker = %d, want 250", sc.Offset().Marker)
	}
	if conn.probeCalls != 1 {
		t.Errorf("timestamp probe ran %d times, want 1", conn.probeCalls)
	}
}

func TestSource_DetermineSnapshotOffset_EmptyCaptureSetSkipsProbe(t *testing.T) {
	conn := &fakeConnection{
		scns: []cdc.Marker{300},
	}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s)

	if err := s.DetermineSnapshotOffset(context.Background(), sc); err != nil {
		t.Fatalf("DetermineSnapshotOffset() failed: %v", err)
	}

	if sc.Offset().Marker != 300 {
		t.Errorf("marker = %d, want 300", sc.Offset().Marker)
	}
	if conn.ddlLookups != 0 {
		t.Errorf("latest DDL looked up %d times, want 0 for an empty capture set", conn.ddlLookups)
	}
	if conn.probeCalls != 0 {
		t.Errorf("timestamp probe ran %d times, want 0", conn.probeCalls)
	}
}

func TestSource_DetermineSnapshotOffset_RetryLimitExhausted(t *testing.T) {
	// Every scripted SCN stays inside the DDL timestamp bucket.
	conn := &fakeConnection{
		latestDDL: 100,
		hasDDL:    true,
		scns:      []cdc.Marker{101, 102, 103},
	}
	s := newTestSource(conn, func(c *Config) { c.MarkerRetryLimit = 3 })
	sc := preparedContext(t, s, cdc.TableID{Schema: "APP", Table: "ORDERS"})

	err := s.DetermineSnapshotOffset(context.Background(), sc)
	if !errors.Is(err, ErrMarkerRetriesExhausted) {
		t.Fatalf("DetermineSnapshotOffset() = %v, want ErrMarkerRetriesExhausted", err)
	}
	if conn.scnIdx != 3 {
		t.Errorf("current SCN fetched %d times, want 3", conn.scnIdx)
	}
	if sc.Offset() != nil {
		t.Error("no offset must be set after exhaustion")
	}
}

func TestSource_LockTables_ExclusiveLockPerTable(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s,
		cdc.TableID{Schema: "APP", Table: "ORDERS"},
		cdc.TableID{Schema: "APP", Table: "USERS"},
	)

	if err := s.LockTablesForSchemaSnapshot(context.Background(), sc); err != nil {
		t.Fatalf("LockTablesForSchemaSnapshot() failed: %v", err)
	}

	if len(conn.savepoints) != 1 || conn.savepoints[0] != savepointName {
		t.Errorf("savepoints = %v, want [%s]", conn.savepoints, savepointName)
	}

	wantLocks := []string{
		"LOCK TABLE APP.ORDERS IN EXCLUSIVE MODE",
		"LOCK TABLE APP.USERS IN EXCLUSIVE MODE",
	}
	if len(conn.executed) != len(wantLocks) {
		t.Fatalf("executed = %v, want %v", conn.executed, wantLocks)
	}
	for i := range wantLocks {
		if conn.executed[i] != wantLocks[i] {
			t.Errorf("executed[%d] = %q, want %q", i, conn.executed[i], wantLocks[i])
		}
	}

	if err := s.ReleaseSchemaSnapshotLocks(context.Background(), sc); err != nil {
		t.Fatalf("ReleaseSchemaSnapshotLocks() failed: %v", err)
	}
	if len(conn.rollbacks) != 1 || conn.rollbacks[0] != savepointName {
		t.Errorf("rollbacks = %v, want [%s]", conn.rollbacks, savepointName)
	}
}

func TestSource_LockTables_CancelledBeforeFirstLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := &fakeConnection{}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s, cdc.TableID{Schema: "APP", Table: "ORDERS"})

	err := s.LockTablesForSchemaSnapshot(ctx, sc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LockTablesForSchemaSnapshot() = %v, want context.Canceled", err)
	}
	if len(conn.executed) != 0 {
		t.Errorf("executed = %v, want no lock statements", conn.executed)
	}

	// Release after a cancelled lock attempt still unwinds the savepoint.
	if err := s.ReleaseSchemaSnapshotLocks(context.Background(), sc); err != nil {
		t.Fatalf("ReleaseSchemaSnapshotLocks() failed: %v", err)
	}
	if len(conn.rollbacks) != 1 {
		t.Errorf("rollbacks = %v, want one", conn.rollbacks)
	}
}

func TestSource_ReleaseLocks_NoOpWithoutSavepoint(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s)

	if err := s.ReleaseSchemaSnapshotLocks(context.Background(), sc); err != nil {
		t.Fatalf("ReleaseSchemaSnapshotLocks() failed: %v", err)
	}
	if len(conn.rollbacks) != 0 {
		t.Errorf("rollbacks = %v, want none before any savepoint", conn.rollbacks)
	}
}

func TestSource_ReadTableStructure_RestrictedToCapturedSchemas(t *testing.T) {
	orders := cdc.TableID{Schema: "APP", Table: "ORDERS"}
	users := cdc.TableID{Schema: "HR", Table: "USERS"}

	conn := &fakeConnection{
		schemasByOwner: map[string][]*cdc.TableSchema{
			"APP": {
				{ID: orders, Columns: []cdc.Column{{Name: "ID", PrimaryKey: true}}},
				{ID: cdc.TableID{Schema: "APP", Table: "AUDIT_LOG"}},
			},
			"HR": {
				{ID: users, Columns: []cdc.Column{{Name: "ID", PrimaryKey: true}}},
			},
		},
	}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s, orders, users)
	if err := sc.SetOffset(cdc.Offset{Marker: 777, SnapshotInProgress: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.ReadTableStructure(context.Background(), sc); err != nil {
		t.Fatalf("ReadTableStructure() failed: %v", err)
	}

	if len(conn.schemaReads) != 2 {
		t.Errorf("schema reads = %v, want exactly the two captured schemas", conn.schemaReads)
	}

	// Exactly the captured tables, no more: AUDIT_LOG is in the schema but
	// not in the capture set.
	if len(sc.TableSchemas) != 2 {
		t.Fatalf("len(TableSchemas) = %d, want 2", len(sc.TableSchemas))
	}
	for _, id := range []cdc.TableID{orders, users} {
		ts, ok := sc.TableSchemas[id]
		if !ok {
			t.Fatalf("structure of %s missing", id)
		}
		if ts.Marker != 777 {
			t.Errorf("structure of %s stamped with marker %d, want 777", id, ts.Marker)
		}
	}
}

func TestSource_ReadTableStructure_MissingTableFails(t *testing.T) {
	orders := cdc.TableID{Schema: "APP", Table: "ORDERS"}
	dropped := cdc.TableID{Schema: "APP", Table: "DROPPED"}

	conn := &fakeConnection{
		schemasByOwner: map[string][]*cdc.TableSchema{
			"APP": {{ID: orders}},
		},
	}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s, orders, dropped)

	err := s.ReadTableStructure(context.Background(), sc)
	if !errors.Is(err, snapshot.ErrStructureIncomplete) {
		t.Fatalf("ReadTableStructure() = %v, want ErrStructureIncomplete", err)
	}
}

func TestSource_SnapshotSelect(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSource(conn, nil)
	id := cdc.TableID{Schema: "APP", Table: "ORDERS"}
	sc := preparedContext(t, s, id)

	if _, err := s.SnapshotSelect(sc, id); !errors.Is(err, snapshot.ErrNoSnapshotOffset) {
		t.Fatalf("SnapshotSelect() before offset = %v, want ErrNoSnapshotOffset", err)
	}

	if err := sc.SetOffset(cdc.Offset{Marker: 4711, SnapshotInProgress: true}); err != nil {
		t.Fatal(err)
	}

	query, err := s.SnapshotSelect(sc, id)
	if err != nil {
		t.Fatalf("SnapshotSelect() failed: %v", err)
	}
	want := "SELECT * FROM APP.ORDERS AS OF SCN 4711"
	if query != want {
		t.Errorf("SnapshotSelect() = %q, want %q", query, want)
	}
}

func TestSource_CreateTableEvent(t *testing.T) {
	id := cdc.TableID{Schema: "APP", Table: "ORDERS"}
	conn := &fakeConnection{
		ddlByTable: map[cdc.TableID]string{
			id: `CREATE TABLE "APP"."ORDERS" ("ID" NUMBER)`,
		},
	}
	s := newTestSource(conn, nil)
	sc := preparedContext(t, s, id)
	sc.TableSchemas[id] = &cdc.TableSchema{ID: id}

	if _, err := s.CreateTableEvent(context.Background(), sc, id); !errors.Is(err, snapshot.ErrNoSnapshotOffset) {
		t.Fatalf("CreateTableEvent() before offset = %v, want ErrNoSnapshotOffset", err)
	}

	if err := sc.SetOffset(cdc.Offset{Marker: 4711, SnapshotInProgress: true}); err != nil {
		t.Fatal(err)
	}

	event, err := s.CreateTableEvent(context.Background(), sc, id)
	if err != nil {
		t.Fatalf("CreateTableEvent() failed: %v", err)
	}
	if event.DDL != `CREATE TABLE "APP"."ORDERS" ("ID" NUMBER)` {
		t.Errorf("DDL = %q", event.DDL)
	}
	if event.Offset.Marker != 4711 {
		t.Errorf("Offset.Marker = %d, want 4711", event.Offset.Marker)
	}
	if !event.FromSnapshot {
		t.Error("FromSnapshot = false, want true")
	}
	if event.Type != cdc.SchemaChangeCreate {
		t.Errorf("Type = %q, want CREATE", event.Type)
	}

	missing := cdc.TableID{Schema: "APP", Table: "GONE"}
	sc.CapturedTables = append(sc.CapturedTables, missing)
	if _, err := s.CreateTableEvent(context.Background(), sc, missing); !errors.Is(err, ErrMissingTableDDL) {
		t.Errorf("CreateTableEvent() for missing DDL = %v, want ErrMissingTableDDL", err)
	}
}

func TestSource_Prepare_BindsConfiguredPDB(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSource(conn, func(c *Config) { c.PDBName = "ORCLPDB1" })

	sc, err := s.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}
	if sc.CatalogName != "ORCLPDB1" {
		t.Errorf("CatalogName = %q, want ORCLPDB1", sc.CatalogName)
	}
	if len(conn.containers) != 1 || conn.containers[0] != "ORCLPDB1" {
		t.Errorf("containers = %v, want [ORCLPDB1]", conn.containers)
	}

	if err := s.Complete(context.Background(), sc); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if len(conn.containers) != 2 || conn.containers[1] != rootContainer {
		t.Errorf("containers = %v, want session reset to %s", conn.containers, rootContainer)
	}
	if !conn.closed {
		t.Error("attempt session not closed")
	}
}

func TestSource_Complete_ResetsContainerAfterFailedBind(t *testing.T) {
	conn := &fakeConnection{setContainerErr: errors.New("ORA-65011: pluggable database does not exist")}
	s := newTestSource(conn, func(c *Config) { c.PDBName = "NOPE" })

	sc, err := s.Prepare(context.Background())
	if err == nil {
		t.Fatal("Prepare() succeeded, want bind error")
	}
	if sc == nil {
		t.Fatal("Prepare() must return the attempt state even on failure")
	}

	conn.setContainerErr = nil
	if err := s.Complete(context.Background(), sc); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}

	// The failed bind leaves the scoping uncertain, so completion resets it.
	if len(conn.containers) != 2 || conn.containers[1] != rootContainer {
		t.Errorf("containers = %v, want reset to %s after failed bind", conn.containers, rootContainer)
	}
	if !conn.closed {
		t.Error("attempt session not closed")
	}
}

func TestSource_Complete_Idempotent(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSource(conn, nil)

	sc, err := s.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() failed: %v", err)
	}
	if err := s.Complete(context.Background(), sc); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if err := s.Complete(context.Background(), sc); err != nil {
		t.Fatalf("second Complete() failed: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"dsn alone suffices", func(c *Config) { c.DSN = "oracle://u:p@host:1521/svc" }, nil},
		{"host and service without dsn", func(c *Config) {
			c.Host = "db1"
			c.ServiceName = "ORCLCDB"
			c.User = "capture"
		}, nil},
		{"missing connection", func(*Config) {}, ErrMissingConnection},
		{"missing user", func(c *Config) {
			c.Host = "db1"
			c.ServiceName = "ORCLCDB"
		}, ErrMissingUser},
		{"invalid retry limit", func(c *Config) {
			c.DSN = "oracle://u:p@host:1521/svc"
			c.MarkerRetryLimit = 0
		}, ErrInvalidRetryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetermineSnapshotOffset_CancelledDuringPause(t *testing.T) {
	conn := &fakeConnection{
		latestDDL: 100,
		hasDDL:    true,
		scns:      []cdc.Marker{101, 102, 103, 104},
	}
	s := newTestSource(conn, func(c *Config) {
		c.MarkerRetryLimit = 50
		c.MarkerRetryPause = 50 * time.Millisecond
	})
	sc := preparedContext(t, s, cdc.TableID{Schema: "APP", Table: "ORDERS"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.DetermineSnapshotOffset(ctx, sc)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("DetermineSnapshotOffset() = %v, want context.DeadlineExceeded", err)
	}
}
