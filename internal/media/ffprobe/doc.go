// Package ffprobe wraps the ffprobe binary to read container metadata from
// uploaded media. Ingest uses it to measure duration before a job is created.
package ffprobe
