package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/logging"
)

func TestSweepTempRemovesOnlyStalePartialWrites(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.PutBytes(context.Background(), "uploads/1/a.mp3", []byte("audio")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	staleDir := filepath.Join(store.Root(), "uploads", "2")
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := filepath.Join(staleDir, ".put-123")
	fresh := filepath.Join(store.Root(), "uploads", "1", ".put-456")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("partial"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := store.SweepTemp(context.Background(), time.Hour, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != stale || len(result.Failed) != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Fatalf("expected empty directory to be pruned, stat err %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh partial write should remain: %v", err)
	}
	if ok, err := store.Exists("uploads/1/a.mp3"); err != nil || !ok {
		t.Fatalf("committed blob should remain: %v %v", ok, err)
	}
}
