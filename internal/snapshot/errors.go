package snapshot

import "errors"

var (
	// ErrOffsetAlreadySet is returned when a snapshot offset is resolved twice
	// for the same attempt.
	ErrOffsetAlreadySet = errors.New("snapshot: offset already set")

	// ErrNoSnapshotOffset is returned when a marker-pinned read is requested
	// before the snapshot offset has been resolved.
	ErrNoSnapshotOffset = errors.New("snapshot: offset not resolved yet")

	// ErrStructureIncomplete is returned when structure reading did not yield
	// a schema for every captured table.
	ErrStructureIncomplete = errors.New("snapshot: structure missing for captured table")
)
