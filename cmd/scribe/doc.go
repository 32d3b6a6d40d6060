// Command scribe runs the transcription service and its operator tools.
//
// `scribe serve` starts the HTTP API and the worker pool. The remaining
// subcommands work directly against the configured database and object store,
// so they are usable whether or not the daemon is running; `scribe status`
// prefers the live snapshot from a running daemon.
package main
