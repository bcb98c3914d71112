// Package snapshot implements the consistent-snapshot protocol for relational
// ingestion sources: a point-in-time, transactionally consistent copy of a set
// of tables' schemas and data, anchored to a single monotonically increasing
// version marker so that a change stream can resume exactly where the snapshot
// left off.
package snapshot

import "github.com/janovincze/mnemosyne/internal/cdc"

// Task is the immutable decision record of what a snapshot attempt must do.
type Task struct {
	// Schema indicates whether table structure must be captured.
	Schema bool

	// Data indicates whether table data must be captured.
	Data bool
}

// SkipSnapshot reports whether there is nothing left to do.
func (t Task) SkipSnapshot() bool {
	return !t.Schema && !t.Data
}

// Plan decides whether schema and/or data must be (re)captured. If a previous
// resume position exists and its snapshot phase already finished, nothing is
// done. Otherwise schema capture is always attempted and data capture follows
// the configured inclusion policy.
func Plan(previous *cdc.Offset, includeData bool) Task {
	if previous != nil && !previous.SnapshotInProgress {
		return Task{Schema: false, Data: false}
	}

	return Task{Schema: true, Data: includeData}
}
