// Package logs reads the daemon's log files for `scribe logs`.
//
// Tail returns the last lines of a file or everything written after a byte
// offset, optionally waiting for new output. Follow layers a poll loop and a
// Filter on top of it. Both understand the console and JSON formats produced
// by internal/logging, and both survive the daemon re-pointing scribe.log at
// a new run's file.
package logs
