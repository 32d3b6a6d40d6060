// Package ingest validates uploaded media and turns each accepted file into a
// queued job.
//
// Every file goes through admit, store, probe, create and commit in that
// order, so a failure after admission never consumes quota and a job row
// never exists without its stored source.
package ingest
