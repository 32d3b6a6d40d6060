// Package daemonctl lets CLI commands inspect a daemon from outside its
// process: it queries the HTTP status endpoint of a running instance and
// falls back to reading the database and filesystem directly when none is
// reachable.
package daemonctl
