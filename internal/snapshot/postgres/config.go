// Package postgres implements the consistent-snapshot source for PostgreSQL.
// The snapshot marker is the WAL position (LSN); consistency comes from a
// repeatable-read transaction whose exported snapshot pins every data-phase
// session to the same point in time. Schema-snapshot locks are ACCESS SHARE
// locks scoped by a savepoint: they block concurrent DDL (which needs ACCESS
// EXCLUSIVE) without blocking writers.
package postgres

// Config holds configuration for the PostgreSQL snapshot source.
type Config struct {
	// SourceID identifies this source in logs, metrics and the offset store.
	SourceID string

	// ConnectionURL is the PostgreSQL connection URL.
	ConnectionURL string

	// DatabaseName is the logical database name used as the catalog.
	DatabaseName string

	// IncludeData is the data-inclusion policy: capture table data in
	// addition to schema.
	IncludeData bool

	// ReaderPoolSize is the maximum number of data-phase sessions.
	ReaderPoolSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SourceID:       "postgres",
		IncludeData:    true,
		ReaderPoolSize: 4,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ConnectionURL == "" {
		return ErrMissingConnectionURL
	}
	return nil
}
