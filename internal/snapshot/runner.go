package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/janovincze/mnemosyne/internal/cdc"
	"github.com/janovincze/mnemosyne/internal/cdc/offsetstore"
	"github.com/janovincze/mnemosyne/internal/cdc/sink"
	"github.com/janovincze/mnemosyne/internal/metrics"
)

// cleanupTimeout bounds the unconditional cleanup calls (lock release,
// session unwind) that run with a fresh context so a cancelled attempt
// cannot skip them.
const cleanupTimeout = 30 * time.Second

// Config holds configuration for the snapshot runner.
type Config struct {
	// SourceID identifies the source; offsets are stored under this key.
	SourceID string

	// DataWorkers is the number of tables read concurrently in the data
	// phase. 1 reads tables one after the other.
	DataWorkers int

	// BatchSize is the number of row events written to the sink per batch.
	BatchSize int

	// RowsPerSecond throttles the data phase across all workers. 0 disables
	// throttling.
	RowsPerSecond float64

	// RowBurst is the throttle burst size. Defaults to BatchSize when 0.
	RowBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SourceID:    "default",
		DataWorkers: 1,
		BatchSize:   1000,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SourceID == "" {
		return errors.New("snapshot: source ID is required")
	}
	if c.DataWorkers < 1 {
		return errors.New("snapshot: data workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return errors.New("snapshot: batch size must be at least 1")
	}
	return nil
}

// Result summarizes one snapshot attempt.
type Result struct {
	// Task is what the planner decided to do.
	Task Task

	// Offset is the resolved resume position, nil when the attempt was
	// skipped.
	Offset *cdc.Offset

	// Tables is the number of captured tables.
	Tables int

	// Rows is the total number of rows read in the data phase.
	Rows int64

	// Skipped is true when a previous snapshot had already completed.
	Skipped bool

	// Duration is how long the attempt took.
	Duration time.Duration
}

// Runner drives the snapshot extension points in a fixed order: plan,
// prepare, enumerate, lock, resolve offset, read structure, emit schema
// events, release locks, copy data, complete. It owns all cleanup paths.
//
// The attempt session must see no writes between savepoint creation and lock
// release: releasing rolls back to the savepoint, which would silently
// discard them. Sources only read and lock on that session.
type Runner struct {
	source  Source
	store   offsetstore.Store
	sink    sink.Sink
	filter  cdc.TableFilter
	tracker *Tracker
	cfg     Config
	logger  *slog.Logger
}

// NewRunner creates a runner for one source.
func NewRunner(source Source, store offsetstore.Store, snk sink.Sink, filter cdc.TableFilter, tracker *Tracker, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NewTracker(cfg.SourceID)
	}

	return &Runner{
		source:  source,
		store:   store,
		sink:    snk,
		filter:  filter,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger.With("component", "snapshot-runner", "source_id", cfg.SourceID),
	}
}

// Tracker returns the progress tracker of this runner.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Run executes one snapshot attempt.
func (r *Runner) Run(ctx context.Context) (result *Result, err error) {
	start := time.Now()
	r.tracker.Begin()

	defer func() {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			r.tracker.Fail(PhaseInterrupted, err)
			metrics.SnapshotAttemptsTotal.WithLabelValues(r.cfg.SourceID, "interrupted").Inc()
			r.logger.Warn("snapshot interrupted", "error", err, "duration", time.Since(start))
		default:
			failedIn := r.tracker.Snapshot().Phase
			r.tracker.Fail(PhaseFailed, err)
			metrics.SnapshotAttemptsTotal.WithLabelValues(r.cfg.SourceID, "failed").Inc()
			metrics.SnapshotErrorsTotal.WithLabelValues(r.cfg.SourceID, string(failedIn)).Inc()
			r.logger.Error("snapshot failed", "error", err, "duration", time.Since(start))
		}
	}()

	r.logger.Info("snapshot step 1 - planning", "source", r.source.Name())

	previous, err := r.store.Load(ctx, r.cfg.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load previous offset: %w", err)
	}

	task := r.source.SnapshottingTask(previous)
	if task.SkipSnapshot() {
		r.logger.Info("previous snapshot already completed, nothing to do",
			"marker", previous.Marker,
		)
		r.tracker.SetPhase(PhaseCompleted)
		metrics.SnapshotAttemptsTotal.WithLabelValues(r.cfg.SourceID, "skipped").Inc()
		return &Result{Task: task, Skipped: true, Duration: time.Since(start)}, nil
	}

	r.logger.Info("snapshot step 2 - preparing session",
		"capture_schema", task.Schema,
		"capture_data", task.Data,
	)
	r.tracker.SetPhase(PhasePreparing)

	sc, prepErr := r.source.Prepare(ctx)

	// Complete runs exactly once on every exit path, including a failed
	// Prepare, so session scoping never leaks into later work.
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if cerr := r.source.Complete(cctx, sc); cerr != nil {
			r.logger.Error("failed to complete snapshot attempt", "error", cerr)
		}
	}()

	if prepErr != nil {
		return nil, fmt.Errorf("prepare snapshot session: %w", prepErr)
	}

	if err := r.determineCaptureSet(ctx, sc); err != nil {
		return nil, err
	}

	offset, err := r.captureSchema(ctx, sc)
	if err != nil {
		return nil, err
	}

	if err := r.store.Save(ctx, r.cfg.SourceID, *offset); err != nil {
		return nil, fmt.Errorf("save in-progress offset: %w", err)
	}

	var rows int64
	if task.Data {
		rows, err = r.copyData(ctx, sc)
		if err != nil {
			return nil, err
		}
	} else {
		for _, id := range sc.CapturedTables {
			r.tracker.SetTableStatus(id, TableStatusSkipped)
		}
	}

	completed := offset.MarkSnapshotComplete()
	if err := r.store.Save(ctx, r.cfg.SourceID, completed); err != nil {
		return nil, fmt.Errorf("save completed offset: %w", err)
	}

	r.tracker.SetPhase(PhaseCompleted)
	metrics.SnapshotAttemptsTotal.WithLabelValues(r.cfg.SourceID, "completed").Inc()

	result = &Result{
		Task:     task,
		Offset:   &completed,
		Tables:   len(sc.CapturedTables),
		Rows:     rows,
		Duration: time.Since(start),
	}

	r.logger.Info("snapshot completed",
		"marker", completed.Marker,
		"tables", result.Tables,
		"rows", result.Rows,
		"duration", result.Duration,
	)

	return result, nil
}

// determineCaptureSet enumerates the candidate tables, applies the capture
// filter and fixes the set on the context in deterministic order.
func (r *Runner) determineCaptureSet(ctx context.Context, sc *Context) error {
	done := r.timePhase(PhaseEnumerating)
	defer done()

	r.logger.Info("snapshot step 3 - enumerating tables", "catalog", sc.CatalogName)

	all, err := r.source.AllTableIDs(ctx, sc)
	if err != nil {
		return fmt.Errorf("enumerate tables: %w", err)
	}

	captured := r.filter.Apply(all)
	sort.Slice(captured, func(i, j int) bool {
		return captured[i].String() < captured[j].String()
	})
	sc.CapturedTables = captured

	r.tracker.SetTables(captured)
	metrics.SnapshotTablesCaptured.WithLabelValues(r.cfg.SourceID).Set(float64(len(captured)))

	r.logger.Info("capture set fixed",
		"candidates", len(all),
		"captured", len(captured),
	)
	if len(captured) == 0 {
		r.logger.Warn("capture filter matched no tables")
	}

	return nil
}

// captureSchema runs the locked portion of the sequence: acquire the table
// locks, resolve the marker, read structure, emit one structural event per
// table, then release the locks. Release runs whenever locking was
// attempted, even after a cancellation mid-loop, and uses a fresh context.
func (r *Runner) captureSchema(ctx context.Context, sc *Context) (*cdc.Offset, error) {
	r.logger.Info("snapshot step 4 - locking captured tables")
	lockStart := time.Now()
	done := r.timePhase(PhaseLocking)
	stepErr := r.source.LockTablesForSchemaSnapshot(ctx, sc)
	done()
	if stepErr != nil {
		stepErr = fmt.Errorf("lock tables: %w", stepErr)
	}

	if stepErr == nil {
		r.logger.Info("snapshot step 5 - resolving snapshot offset")
		done = r.timePhase(PhaseResolvingOffset)
		if err := r.source.DetermineSnapshotOffset(ctx, sc); err != nil {
			stepErr = fmt.Errorf("determine snapshot offset: %w", err)
		} else {
			r.tracker.SetMarker(sc.Offset().Marker)
		}
		done()
	}

	if stepErr == nil {
		r.logger.Info("snapshot step 6 - reading table structure", "marker", sc.Offset().Marker)
		done = r.timePhase(PhaseReadingStructure)
		if err := r.source.ReadTableStructure(ctx, sc); err != nil {
			stepErr = fmt.Errorf("read table structure: %w", err)
		}
		done()
	}

	if stepErr == nil {
		r.logger.Info("snapshot step 7 - emitting schema events", "tables", len(sc.CapturedTables))
		done = r.timePhase(PhaseEmittingSchema)
		stepErr = r.emitSchemaEvents(ctx, sc)
		done()
	}

	r.logger.Info("snapshot step 8 - releasing schema snapshot locks")
	r.tracker.SetPhase(PhaseReleasingLocks)
	cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	relErr := r.source.ReleaseSchemaSnapshotLocks(cctx, sc)
	cancel()
	metrics.SnapshotLocksHeldSeconds.WithLabelValues(r.cfg.SourceID).Observe(time.Since(lockStart).Seconds())

	if stepErr != nil {
		return nil, stepErr
	}
	if relErr != nil {
		return nil, fmt.Errorf("release schema snapshot locks: %w", relErr)
	}

	return sc.Offset(), nil
}

// emitSchemaEvents materializes one structural-change event per captured
// table and writes it to the sink.
func (r *Runner) emitSchemaEvents(ctx context.Context, sc *Context) error {
	for _, id := range sc.CapturedTables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("emitting schema event for %s: %w", id, err)
		}

		event, err := r.source.CreateTableEvent(ctx, sc, id)
		if err != nil {
			return fmt.Errorf("create table event for %s: %w", id, err)
		}

		if err := r.sink.WriteSchemaChange(ctx, event); err != nil {
			return fmt.Errorf("write schema change for %s: %w", id, err)
		}

		metrics.SinkSchemaChangesTotal.WithLabelValues(r.cfg.SourceID).Inc()
		r.logger.Debug("schema event emitted", "table", id.String())
	}
	return nil
}

// copyData reads every captured table pinned to the finalized marker. Reads
// run outside the locks on per-worker sessions; fan-out is bounded by
// DataWorkers and throttled by the shared rate limiter when configured.
func (r *Runner) copyData(ctx context.Context, sc *Context) (int64, error) {
	done := r.timePhase(PhaseCopyingData)
	defer done()

	r.logger.Info("snapshot step 9 - copying table data",
		"tables", len(sc.CapturedTables),
		"workers", r.cfg.DataWorkers,
	)

	var limiter *rate.Limiter
	if r.cfg.RowsPerSecond > 0 {
		burst := r.cfg.RowBurst
		if burst <= 0 {
			burst = r.cfg.BatchSize
		}
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RowsPerSecond), burst)
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.DataWorkers)

	for _, id := range sc.CapturedTables {
		g.Go(func() error {
			n, err := r.copyTable(gctx, sc, id, limiter)
			if err != nil {
				r.tracker.SetTableStatus(id, TableStatusFailed)
				return fmt.Errorf("copy table %s: %w", id, err)
			}
			total.Add(n)
			r.tracker.SetTableStatus(id, TableStatusCompleted)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total.Load(), err
	}
	return total.Load(), nil
}

// copyTable reads one table on its own session and writes row events to the
// sink in batches.
func (r *Runner) copyTable(ctx context.Context, sc *Context, id cdc.TableID, limiter *rate.Limiter) (int64, error) {
	r.tracker.SetTableStatus(id, TableStatusInProgress)

	query, err := r.source.SnapshotSelect(sc, id)
	if err != nil {
		return 0, err
	}

	table, ok := sc.TableSchemas[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStructureIncomplete, id)
	}

	reader, err := r.source.OpenRowReader(ctx, sc)
	if err != nil {
		return 0, fmt.Errorf("open row reader: %w", err)
	}
	defer reader.Close()

	marker := sc.Offset().Marker
	keyColumns := keyColumnNames(table)

	batch := make([]cdc.Event, 0, r.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.sink.WriteEvents(ctx, batch); err != nil {
			metrics.SinkEventsTotal.WithLabelValues(r.cfg.SourceID, "failed").Add(float64(len(batch)))
			return fmt.Errorf("write events: %w", err)
		}
		metrics.SinkEventsTotal.WithLabelValues(r.cfg.SourceID, "written").Add(float64(len(batch)))
		metrics.SnapshotRowsTotal.WithLabelValues(r.cfg.SourceID, id.String()).Add(float64(len(batch)))
		r.tracker.AddRows(id, int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	rows, err := reader.ReadRows(ctx, query, table, func(values map[string]any) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		batch = append(batch, cdc.Event{
			ID:         uuid.NewString(),
			Marker:     marker,
			Timestamp:  time.Now(),
			Schema:     id.Schema,
			Table:      id.Table,
			Operation:  cdc.OperationRead,
			After:      values,
			KeyColumns: keyColumns,
		})

		if len(batch) >= r.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return rows, err
	}

	if err := flush(); err != nil {
		return rows, err
	}

	r.logger.Debug("table copied", "table", id.String(), "rows", rows)
	return rows, nil
}

// timePhase records the phase transition and returns a function observing
// its duration.
func (r *Runner) timePhase(phase Phase) func() {
	start := time.Now()
	r.tracker.SetPhase(phase)
	return func() {
		metrics.SnapshotPhaseSeconds.WithLabelValues(r.cfg.SourceID, string(phase)).Observe(time.Since(start).Seconds())
	}
}

// keyColumnNames returns the primary key column names of a table.
func keyColumnNames(table *cdc.TableSchema) []string {
	var names []string
	for _, col := range table.PrimaryKeyColumns() {
		names = append(names, col.Name)
	}
	return names
}
