// Package logging assembles structured slog loggers and formatting helpers used
// across Scribe services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline and HTTP code can
// automatically tag log lines with job IDs, user IDs, stages, and request IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
