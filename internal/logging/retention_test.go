package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/logging"
)

func TestPruneOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().AddDate(0, 0, -10)
	files := map[string]bool{
		"scribe-20260101T000000.000Z.log": true,
		"scribe-20260102T000000.000Z.log": false,
		"scribe-current.log":              false,
		"notes.txt":                       false,
	}
	for name, stale := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if stale || name == "scribe-current.log" || name == "notes.txt" {
			if err := os.Chtimes(path, old, old); err != nil {
				t.Fatalf("chtimes: %v", err)
			}
		}
	}

	removed := logging.PruneOldLogs(logging.NewNop(), dir, "scribe-*.log", 7, filepath.Join(dir, "scribe-current.log"))
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	for name, stale := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if stale && !os.IsNotExist(err) {
			t.Fatalf("%s should be removed", name)
		}
		if !stale && err != nil {
			t.Fatalf("%s should remain: %v", name, err)
		}
	}

	if logging.PruneOldLogs(logging.NewNop(), dir, "*", 0, "") != 0 {
		t.Fatal("zero retention should disable pruning")
	}
}
