// Package pipeline runs the processing stages for one job.
//
// Plan turns a job's options into an ordered list of stage descriptors:
// language detection, audio restoration, transcription, diarization and
// translation, with the optional ones included only when requested. Run walks
// that list, calling a checkpoint before each stage so the caller can record
// progress and stop cooperatively on cancellation.
//
// Each stage attempt runs under its own timeout. Transient failures (engine
// busy, timeouts) are retried with doubling backoff up to the configured
// attempt bound; anything else fails the run with a *StageError naming the
// stage. A job-wide deadline caps the whole run.
package pipeline
