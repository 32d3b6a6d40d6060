package preflight

import (
	"context"

	"scribe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the readiness checks the daemon needs before it accepts
// uploads. engine may be nil to skip the engine probe.
func RunAll(ctx context.Context, cfg *config.Config, engine HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Storage directory", cfg.Paths.StorageDir),
		CheckFreeSpace("Storage free space", cfg.Paths.StorageDir, cfg.Storage.MinFreeBytes),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if engine != nil {
		results = append(results, CheckEngine(ctx, engine))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
