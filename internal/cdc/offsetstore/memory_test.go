package offsetstore

import (
	"context"
	"testing"
	"time"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

func TestMemoryStore_LoadMissing(t *testing.T) {
	store := NewMemoryStore()

	offset, err := store.Load(context.Background(), "orders-prod")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if offset != nil {
		t.Errorf("Load() = %+v, want nil for missing offset", offset)
	}
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	saved := cdc.Offset{
		Marker:             4711,
		SnapshotInProgress: true,
		CapturedAt:         time.Now().UTC(),
	}
	if err := store.Save(ctx, "orders-prod", saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "orders-prod")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() = nil, want saved offset")
	}
	if loaded.Marker != 4711 {
		t.Errorf("Marker = %d, want 4711", loaded.Marker)
	}
	if !loaded.SnapshotInProgress {
		t.Error("SnapshotInProgress = false, want true")
	}

	// Offsets are stored per source
	other, err := store.Load(ctx, "other-source")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if other != nil {
		t.Errorf("Load() for unrelated source = %+v, want nil", other)
	}
}

func TestMemoryStore_SaveReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := cdc.Offset{Marker: 100, SnapshotInProgress: true}
	if err := store.Save(ctx, "orders-prod", first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	second := first.MarkSnapshotComplete()
	if err := store.Save(ctx, "orders-prod", second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "orders-prod")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.SnapshotInProgress {
		t.Error("SnapshotInProgress = true, want false after replacement")
	}
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, "orders-prod", cdc.Offset{Marker: 100}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, _ := store.Load(ctx, "orders-prod")
	loaded.Marker = 999

	again, _ := store.Load(ctx, "orders-prod")
	if again.Marker != 100 {
		t.Errorf("Marker = %d, want 100; mutation of a loaded offset leaked into the store", again.Marker)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, "orders-prod", cdc.Offset{Marker: 100}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "orders-prod"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	loaded, err := store.Load(ctx, "orders-prod")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != nil {
		t.Errorf("Load() after Delete = %+v, want nil", loaded)
	}

	// Deleting a missing offset is not an error
	if err := store.Delete(ctx, "orders-prod"); err != nil {
		t.Errorf("Delete() on missing offset error = %v", err)
	}
}
