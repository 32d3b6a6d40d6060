// Package api defines wire-format types and the owner-scoped job service
// behind the HTTP layer. It translates queue models into transport-friendly
// DTOs so handlers and the CLI can render them without coupling to internal
// types.
//
// # Key Types
//
// Job: a job with status, progress, languages and failure details.
//
// User: the authenticated account with plan, usage and remaining quota.
//
// DaemonStatus: worker pool, queue depth, storage and engine health.
//
// ErrorResponse: the body of every error, with quota fields when relevant.
//
// # Design Notes
//
// JSON uses snake_case keys to match the existing web client. Enums are
// exposed as lowercase strings. Timestamps use RFC3339 with milliseconds in
// UTC.
package api
