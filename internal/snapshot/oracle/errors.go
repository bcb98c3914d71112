package oracle

import "errors"

var (
	// ErrMissingConnection is returned when neither a DSN nor host/service
	// connection details are provided.
	ErrMissingConnection = errors.New("oracle: connection details are required")

	// ErrMissingUser is returned when the database user is not provided.
	ErrMissingUser = errors.New("oracle: database user is required")

	// ErrInvalidRetryLimit is returned when the marker retry limit is not
	// positive.
	ErrInvalidRetryLimit = errors.New("oracle: marker retry limit must be at least 1")

	// ErrNoCurrentSCN is returned when the current SCN query yields no row.
	// The database returned an impossible result; the attempt is not retried.
	ErrNoCurrentSCN = errors.New("oracle: could not read current SCN")

	// ErrNoLatestDDLSCN is returned when the aggregate latest-DDL query
	// yields no row for a non-empty capture set.
	ErrNoLatestDDLSCN = errors.New("oracle: could not read latest table DDL SCN")

	// ErrMissingTableDDL is returned when no definition text exists for a
	// table known from enumeration.
	ErrMissingTableDDL = errors.New("oracle: definition text missing for table")

	// ErrMarkerRetriesExhausted is returned when the marker-timestamp
	// collision check keeps failing beyond the configured retry limit.
	ErrMarkerRetriesExhausted = errors.New("oracle: snapshot marker retries exhausted")
)
