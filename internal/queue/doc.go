// Package queue is the job store: it persists users, transcription jobs,
// transcript segments, and export artifact records in SQLite.
//
// Job status is a closed type whose legal moves live in one transition table;
// every write that changes status checks it. Workers hold a lease on the job
// they run, renew it with Heartbeat, and lose it to ReclaimExpired when they
// stop renewing. Reclaiming clears the lease owner but never moves a job
// backward, so a reclaimed job stays processing until another worker claims it.
//
// The database holds live state, not an archive. Schema changes bump the
// version in schema.go; operators move the old database aside to adopt them.
package queue
