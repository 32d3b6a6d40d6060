// Package inference is the HTTP client for the external speech engine.
//
// Each pipeline stage maps to one JSON endpoint under /v1. Audio is passed by
// absolute path inside the shared storage root, never uploaded. Failures are
// tagged with services markers: 408, 429, 5xx, timeouts and connection errors
// are transient; other 4xx responses and undecodable bodies are fatal.
package inference
