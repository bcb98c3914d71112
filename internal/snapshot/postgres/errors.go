package postgres

import "errors"

var (
	// ErrMissingConnectionURL is returned when the connection URL is not provided.
	ErrMissingConnectionURL = errors.New("postgres: connection URL is required")

	// ErrNoCurrentLSN is returned when the current WAL position query yields
	// no row. The database returned an impossible result; the attempt is not
	// retried.
	ErrNoCurrentLSN = errors.New("postgres: could not read current WAL position")

	// ErrNoExportedSnapshot is returned when the attempt transaction did not
	// yield an exported snapshot identifier.
	ErrNoExportedSnapshot = errors.New("postgres: could not export transaction snapshot")

	// ErrNoSnapshotName is returned when a row reader is opened from an
	// offset that carries no exported snapshot identifier.
	ErrNoSnapshotName = errors.New("postgres: offset carries no exported snapshot name")
)
