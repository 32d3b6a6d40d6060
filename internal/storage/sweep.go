package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scribe/internal/logging"
)

// SweepResult lists temp files removed by SweepTemp and the ones that could
// not be removed.
type SweepResult struct {
	Removed []string
	Failed  map[string]error
}

// SweepTemp removes partial writes (".put-*" files) older than maxAge. They
// only survive when a process died between create and rename.
func (s *Store) SweepTemp(ctx context.Context, maxAge time.Duration, logger *slog.Logger) SweepResult {
	result := SweepResult{Failed: map[string]error{}}
	cutoff := time.Now().Add(-maxAge)

	walkErr := filepath.WalkDir(s.root, func(p string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			result.Failed[p] = err
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), ".put-") {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			result.Failed[p] = err
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			result.Failed[p] = err
			return nil
		}
		result.Removed = append(result.Removed, p)
		s.pruneEmptyDirs(filepath.Dir(p))
		return nil
	})
	if walkErr != nil && ctx.Err() == nil {
		result.Failed[s.root] = walkErr
	}

	if logger == nil {
		return result
	}
	for p, err := range result.Failed {
		logging.WarnWithContext(logger, "failed to sweep partial blob", "storage_sweep_failed",
			logging.String("path", p),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	}
	if len(result.Removed) > 0 {
		logger.Info("removed partial blobs",
			logging.Int("count", len(result.Removed)),
			logging.String(logging.FieldEventType, "storage_sweep"),
		)
	}
	return result
}
