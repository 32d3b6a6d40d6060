// Package scheduler runs the bounded worker pool that turns queued jobs into
// transcripts.
//
// Each worker claims one job at a time from the job store, which orders
// dispatch by tier and then creation time, with free jobs promoted once they
// have waited past the aging window. A claim carries a lease that a heartbeat
// goroutine keeps extending; the reclaimer clears leases whose worker stopped
// heartbeating so another worker can pick the job up. Deletes are observed
// cooperatively at stage boundaries through the checkpoint handed to the
// pipeline, after which the worker records the cancellation and purges the
// job's data.
package scheduler
