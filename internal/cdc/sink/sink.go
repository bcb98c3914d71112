// Package sink provides destinations for the events produced by snapshotting:
// structural-change events and the row events of the data phase.
package sink

import (
	"context"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// Sink accepts the events of a snapshot attempt.
type Sink interface {
	// WriteSchemaChange stores one structural-change event.
	WriteSchemaChange(ctx context.Context, event *cdc.SchemaChangeEvent) error

	// WriteEvents stores a batch of row events.
	WriteEvents(ctx context.Context, events []cdc.Event) error

	// Close releases underlying resources.
	Close() error
}
