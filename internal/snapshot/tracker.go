package snapshot

import (
	"sync"
	"time"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// Phase identifies one step of the snapshot sequence.
type Phase string

const (
	// PhaseIdle means no attempt is running.
	PhaseIdle Phase = "idle"
	// PhasePlanning means the task planner is deciding the scope.
	PhasePlanning Phase = "planning"
	// PhasePreparing means the attempt session is being scoped.
	PhasePreparing Phase = "preparing"
	// PhaseEnumerating means candidate tables are being listed.
	PhaseEnumerating Phase = "enumerating"
	// PhaseLocking means exclusive table locks are being acquired.
	PhaseLocking Phase = "locking"
	// PhaseResolvingOffset means the snapshot marker is being resolved.
	PhaseResolvingOffset Phase = "resolving_offset"
	// PhaseReadingStructure means table structure is being read under lock.
	PhaseReadingStructure Phase = "reading_structure"
	// PhaseEmittingSchema means structural-change events are being emitted.
	PhaseEmittingSchema Phase = "emitting_schema"
	// PhaseReleasingLocks means the schema-snapshot locks are being released.
	PhaseReleasingLocks Phase = "releasing_locks"
	// PhaseCopyingData means marker-pinned table reads are running.
	PhaseCopyingData Phase = "copying_data"
	// PhaseCompleted means the attempt finished successfully.
	PhaseCompleted Phase = "completed"
	// PhaseFailed means the attempt aborted on an error.
	PhaseFailed Phase = "failed"
	// PhaseInterrupted means the attempt stopped on a cancellation request.
	PhaseInterrupted Phase = "interrupted"
)

// TableStatus represents the data-phase state of one captured table.
type TableStatus string

const (
	// TableStatusPending indicates the table has not been read yet.
	TableStatusPending TableStatus = "pending"
	// TableStatusInProgress indicates the table is being read.
	TableStatusInProgress TableStatus = "in_progress"
	// TableStatusCompleted indicates the table was read fully.
	TableStatusCompleted TableStatus = "completed"
	// TableStatusFailed indicates the table read failed.
	TableStatusFailed TableStatus = "failed"
	// TableStatusSkipped indicates the table was not read (schema-only run).
	TableStatusSkipped TableStatus = "skipped"
)

// TableProgress is the progress of one captured table.
type TableProgress struct {
	// Table is the fully qualified table name.
	Table string `json:"table"`

	// Status is the data-phase state of the table.
	Status TableStatus `json:"status"`

	// Rows is the number of rows read so far.
	Rows int64 `json:"rows"`
}

// Progress is a point-in-time view of a snapshot attempt, served by the
// monitor API and streamed to WebSocket subscribers on every transition.
type Progress struct {
	// SourceID identifies the source being snapshotted.
	SourceID string `json:"source_id"`

	// Phase is the current phase of the attempt.
	Phase Phase `json:"phase"`

	// Marker is the resolved snapshot marker, zero until resolution.
	Marker cdc.Marker `json:"marker"`

	// Tables is the per-table progress, in capture order.
	Tables []TableProgress `json:"tables"`

	// Rows is the total number of rows read so far.
	Rows int64 `json:"rows"`

	// StartedAt is when the attempt started.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is when this view was produced.
	UpdatedAt time.Time `json:"updated_at"`

	// Error is the failure message when the phase is failed.
	Error string `json:"error,omitempty"`
}

// Tracker records the live progress of snapshot attempts and fans every
// transition out to subscribers. It is safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	sourceID    string
	phase       Phase
	marker      cdc.Marker
	order       []cdc.TableID
	tables      map[cdc.TableID]*TableProgress
	startedAt   time.Time
	lastErr     string
	subscribers map[chan Progress]bool
}

// NewTracker creates a tracker for the given source.
func NewTracker(sourceID string) *Tracker {
	return &Tracker{
		sourceID:    sourceID,
		phase:       PhaseIdle,
		tables:      make(map[cdc.TableID]*TableProgress),
		subscribers: make(map[chan Progress]bool),
	}
}

// Begin resets the tracker for a new attempt.
func (t *Tracker) Begin() {
	t.mu.Lock()
	t.phase = PhasePlanning
	t.marker = 0
	t.order = nil
	t.tables = make(map[cdc.TableID]*TableProgress)
	t.startedAt = time.Now()
	t.lastErr = ""
	t.mu.Unlock()
	t.notify()
}

// SetPhase records a phase transition.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()
	t.notify()
}

// SetMarker records the resolved snapshot marker.
func (t *Tracker) SetMarker(marker cdc.Marker) {
	t.mu.Lock()
	t.marker = marker
	t.mu.Unlock()
	t.notify()
}

// SetTables records the capture set with every table pending.
func (t *Tracker) SetTables(ids []cdc.TableID) {
	t.mu.Lock()
	t.order = append([]cdc.TableID(nil), ids...)
	t.tables = make(map[cdc.TableID]*TableProgress, len(ids))
	for _, id := range ids {
		t.tables[id] = &TableProgress{Table: id.String(), Status: TableStatusPending}
	}
	t.mu.Unlock()
	t.notify()
}

// SetTableStatus records a per-table state transition.
func (t *Tracker) SetTableStatus(id cdc.TableID, status TableStatus) {
	t.mu.Lock()
	if tp, ok := t.tables[id]; ok {
		tp.Status = status
	}
	t.mu.Unlock()
	t.notify()
}

// AddRows adds to a table's row count.
func (t *Tracker) AddRows(id cdc.TableID, n int64) {
	t.mu.Lock()
	if tp, ok := t.tables[id]; ok {
		tp.Rows += n
	}
	t.mu.Unlock()
	t.notify()
}

// Fail records a fatal or cancellation outcome for the attempt.
func (t *Tracker) Fail(phase Phase, err error) {
	t.mu.Lock()
	t.phase = phase
	if err != nil {
		t.lastErr = err.Error()
	}
	t.mu.Unlock()
	t.notify()
}

// Snapshot returns the current progress view.
func (t *Tracker) Snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// snapshotLocked builds the view. Caller must hold at least a read lock.
func (t *Tracker) snapshotLocked() Progress {
	p := Progress{
		SourceID:  t.sourceID,
		Phase:     t.phase,
		Marker:    t.marker,
		StartedAt: t.startedAt,
		UpdatedAt: time.Now(),
		Error:     t.lastErr,
	}
	p.Tables = make([]TableProgress, 0, len(t.order))
	for _, id := range t.order {
		if tp, ok := t.tables[id]; ok {
			p.Tables = append(p.Tables, *tp)
			p.Rows += tp.Rows
		}
	}
	return p
}

// Subscribe registers for progress updates. The returned cancel function
// removes the subscription and closes the channel. Slow subscribers miss
// intermediate updates rather than blocking the attempt.
func (t *Tracker) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 16)

	t.mu.Lock()
	t.subscribers[ch] = true
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if t.subscribers[ch] {
			delete(t.subscribers, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// notify fans the current view out to all subscribers without blocking.
func (t *Tracker) notify() {
	t.mu.RLock()
	p := t.snapshotLocked()
	for ch := range t.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
	t.mu.RUnlock()
}
