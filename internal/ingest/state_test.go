package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &FileStateStore{Path: filepath.Join(t.TempDir(), "state", "ingest.json")}

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty state, got ok=%v err=%v", ok, err)
	}

	runAt := time.Date(2024, 6, 1, 8, 0, 0, 123000, time.UTC)
	if err := store.Save(ctx, runAt); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !ok || !got.Equal(runAt) {
		t.Fatalf("state mismatch: %v != %v", got, runAt)
	}
}
