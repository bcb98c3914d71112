// Package oracle implements the consistent-snapshot source for Oracle. The
// snapshot marker is the system change number (SCN); consistent reads use
// flashback queries (AS OF SCN) and schema-snapshot locks are scoped by a
// savepoint so releasing them does not end the attempt transaction.
package oracle

import (
	"time"
)

// Config holds configuration for the Oracle snapshot source.
type Config struct {
	// SourceID identifies this source in logs, metrics and the offset store.
	SourceID string

	// DSN is a complete go-ora connection URL. When set, it takes precedence
	// over the individual connection fields.
	DSN string

	// Host is the database host.
	Host string

	// Port is the database listener port.
	Port int

	// ServiceName is the database service name.
	ServiceName string

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DatabaseName is the logical database name used as the catalog when no
	// PDB is configured.
	DatabaseName string

	// PDBName is the pluggable database to bind the attempt session to.
	// Empty means the non-CDB (or root) container.
	PDBName string

	// IncludeData is the data-inclusion policy: capture table data in
	// addition to schema.
	IncludeData bool

	// MarkerRetryLimit bounds the marker re-fetch loop of the timestamp
	// collision check. SCN-to-timestamp resolution is about 3 seconds, so a
	// freshly altered table can share a timestamp bucket with the current
	// SCN; re-fetching resolves this within a few iterations in practice.
	MarkerRetryLimit int

	// MarkerRetryPause is the pause between marker re-fetches.
	MarkerRetryPause time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SourceID:         "oracle",
		Port:             1521,
		IncludeData:      true,
		MarkerRetryLimit: 100,
		MarkerRetryPause: 100 * time.Millisecond,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DSN == "" {
		if c.Host == "" || c.ServiceName == "" {
			return ErrMissingConnection
		}
		if c.User == "" {
			return ErrMissingUser
		}
	}
	if c.MarkerRetryLimit < 1 {
		return ErrInvalidRetryLimit
	}
	return nil
}
