// Package services defines shared utilities consumed by the pipeline stages,
// the HTTP layer, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, user IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (retry vs fail, HTTP status) with errors.Is.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability, retries) stays uniform across the service.
package services
