// Package daemon coordinates the long-running Scribe process.
//
// It holds a flock-based instance lock so two daemons never share a
// database, starts the scheduler before the HTTP server, and stops them in
// the reverse order. Status snapshots served at /status and printed by
// `scribe status` are assembled here from the worker pool, the job store,
// the object store, the inference engine and the external binaries.
//
// Component construction lives in daemonrun; this package only owns the
// lifecycle.
package daemon
