// Package offsetstore persists resume positions so a future run can continue
// exactly where a snapshot or stream left off.
package offsetstore

import (
	"context"
	"errors"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// ErrNotFound is returned by implementations that cannot distinguish a
// missing offset; Load returns (nil, nil) for the common absent case.
var ErrNotFound = errors.New("offsetstore: offset not found")

// Store persists one resume position per source.
type Store interface {
	// Load retrieves the offset for a source, or (nil, nil) if none exists.
	Load(ctx context.Context, sourceID string) (*cdc.Offset, error)

	// Save persists the offset for a source, replacing any previous value.
	Save(ctx context.Context, sourceID string, offset cdc.Offset) error

	// Delete removes the offset for a source.
	Delete(ctx context.Context, sourceID string) error

	// Ping verifies connectivity for health checking.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
