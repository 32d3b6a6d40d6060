// Package daemonrun builds and runs the daemon process: it sets up logging,
// checks external binaries, opens the job store and object store, wires every
// service into the HTTP server and worker pool, and blocks until a signal
// arrives.
package daemonrun
