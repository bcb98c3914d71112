package offsetstore

import (
	"context"
	"sync"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// MemoryStore keeps offsets in memory. Positions do not survive a restart, so
// it is only suitable for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	offsets map[string]cdc.Offset
}

// NewMemoryStore creates an empty in-memory offset store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offsets: make(map[string]cdc.Offset)}
}

// Load retrieves the offset for a source, or (nil, nil) if none exists.
func (s *MemoryStore) Load(_ context.Context, sourceID string) (*cdc.Offset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset, ok := s.offsets[sourceID]
	if !ok {
		return nil, nil
	}
	return &offset, nil
}

// Save persists the offset for a source.
func (s *MemoryStore) Save(_ context.Context, sourceID string, offset cdc.Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[sourceID] = offset
	return nil
}

// Delete removes the offset for a source.
func (s *MemoryStore) Delete(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offsets, sourceID)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
