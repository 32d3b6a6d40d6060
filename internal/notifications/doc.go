// Package notifications announces job outcomes.
//
// A Service publishes to an ntfy topic for the operator and, when a SendGrid
// key is configured, emails the job owner. It implements the scheduler's
// notifier hooks; delivery errors are logged and never fail a job.
package notifications
