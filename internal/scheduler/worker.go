package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/queue"
	"scribe/internal/services"
)

// runWorker claims and runs jobs one at a time until ctx ends.
func (s *Scheduler) runWorker(ctx context.Context, name string) {
	logger := s.logger.With(logging.String(logging.FieldWorker, name))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.store.ClaimNext(ctx, name, s.now().Add(s.lease), s.agingCutoff())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.ErrorWithContext(logger, "failed to claim next job", "queue_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			s.setLastError(err)
			s.waitForWorkOrShutdown(ctx)
			continue
		}
		if job == nil {
			s.waitForWorkOrShutdown(ctx)
			continue
		}

		// Another idle worker may find the next job.
		s.Wake()
		s.process(ctx, name, job)
	}
}

func (s *Scheduler) process(ctx context.Context, worker string, job *queue.Job) {
	jobCtx := services.WithWorker(ctx, worker)
	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithUserID(jobCtx, job.OwnerID)
	logger := logging.WithContext(jobCtx, s.logger)

	handle := s.active.add(job.ID, worker, s.now())
	defer s.active.remove(job.ID)

	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.String("tier", string(job.Tier)),
		logging.String("mode", string(job.Mode)),
		logging.Int("attempt", job.Attempts),
	)

	if job.Attempts > s.maxClaims {
		s.fail(jobCtx, job, worker, pipeline.StageJob,
			fmt.Sprintf("abandoned by %d workers without finishing", job.Attempts-1), logger)
		return
	}
	audioPath, err := s.blobs.Path(job.SourceKey)
	if err != nil {
		s.fail(jobCtx, job, worker, pipeline.StageJob, fmt.Sprintf("resolve source media: %v", err), logger)
		return
	}

	runCtx, abort := context.WithCancelCause(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go s.heartbeatLoop(runCtx, &hbWG, job, worker, handle, abort, logger)

	started := time.Now()
	result, runErr := s.runner.Run(runCtx, *job, audioPath, s.checkpoint(job, worker, handle, logger))
	abort(nil)
	hbWG.Wait()
	leaseLost := errors.Is(context.Cause(runCtx), errLeaseLost) || errors.Is(runErr, queue.ErrLeaseLost)

	switch {
	case ctx.Err() != nil:
		logger.Debug("job interrupted by shutdown")
	case leaseLost:
		logging.WarnWithContext(logger, "job abandoned after lease loss", "lease_lost",
			logging.Duration("elapsed", time.Since(started)),
		)
	case errors.Is(runErr, pipeline.ErrCancelled):
		s.finishCancelled(jobCtx, job, worker, logger)
	case runErr != nil:
		stage := pipeline.FailedStage(runErr)
		if stage == "" {
			stage = pipeline.StageJob
		}
		s.fail(jobCtx, job, worker, stage, runErr.Error(), logger)
	default:
		s.complete(jobCtx, job, worker, result, time.Since(started), logger)
	}
}

// checkpoint runs before every stage. It is where cooperative cancellation is
// observed and progress is recorded.
func (s *Scheduler) checkpoint(job *queue.Job, owner string, handle *runHandle, logger *slog.Logger) pipeline.Checkpoint {
	return func(ctx context.Context, stage string, percent float64) error {
		if handle.cancelled.Load() {
			return pipeline.ErrCancelled
		}
		requested, err := s.store.CancelRequested(ctx, job.ID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			logging.WarnWithContext(logger, "cancel flag check failed", "cancel_check_failed", logging.Error(err))
		case requested:
			handle.cancelled.Store(true)
			return pipeline.ErrCancelled
		}

		if err := s.store.UpdateProgress(ctx, job.ID, owner, stage, percent); err != nil {
			if errors.Is(err, queue.ErrLeaseLost) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.WarnWithContext(logger, "progress update failed", "progress_update_failed", logging.Error(err))
		}
		logger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.String(logging.FieldStage, stage),
			logging.Float64("percent", percent),
		)
		return nil
	}
}

func (s *Scheduler) complete(ctx context.Context, job *queue.Job, worker string, result pipeline.Result, elapsed time.Duration, logger *slog.Logger) {
	if result.Language != "" {
		if err := s.store.RecordDetectedLanguage(ctx, job.ID, worker, result.Language); err != nil && !errors.Is(err, queue.ErrLeaseLost) {
			logging.WarnWithContext(logger, "failed to record language", "language_record_failed", logging.Error(err))
		}
	}

	err := s.store.Complete(ctx, job.ID, worker, result.Segments)
	switch {
	case errors.Is(err, queue.ErrCancelRequested):
		s.finishCancelled(ctx, job, worker, logger)
	case errors.Is(err, queue.ErrLeaseLost):
		logging.WarnWithContext(logger, "lease lost before completion was recorded", "lease_lost",
			logging.String(logging.FieldImpact, "job will be run again"),
		)
	case err != nil:
		logging.ErrorWithContext(logger, "failed to persist transcript", "complete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		s.setLastError(err)
	default:
		logger.Info("job completed",
			logging.String(logging.FieldEventType, "job_complete"),
			logging.Int("segments", len(result.Segments)),
			logging.String("language", result.Language),
			logging.Any("stages", result.Stages),
			logging.Duration("elapsed", elapsed),
		)
		s.notifier.JobCompleted(ctx, s.reload(ctx, job))
	}
}

func (s *Scheduler) fail(ctx context.Context, job *queue.Job, worker, stage, message string, logger *slog.Logger) {
	message = strings.TrimSpace(message)
	if err := s.store.Fail(ctx, job.ID, worker, stage, message); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			logging.WarnWithContext(logger, "lease lost before failure was recorded", "lease_lost")
			return
		}
		logging.ErrorWithContext(logger, "failed to persist job failure", "fail_persist_failed", logging.Error(err))
		s.setLastError(err)
		return
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.String(logging.FieldStage, stage),
		logging.String("error_message", message),
		logging.String(logging.FieldImpact, "transcript not produced"),
	)
	s.notifier.JobFailed(ctx, s.reload(ctx, job))
}

func (s *Scheduler) finishCancelled(ctx context.Context, job *queue.Job, worker string, logger *slog.Logger) {
	if err := s.store.Cancel(ctx, job.ID, worker); err != nil {
		if !errors.Is(err, queue.ErrLeaseLost) {
			logging.ErrorWithContext(logger, "failed to persist cancellation", "cancel_persist_failed", logging.Error(err))
			s.setLastError(err)
		}
		return
	}
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	if err := s.Purge(ctx, job.ID); err != nil {
		logging.WarnWithContext(logger, "failed to purge cancelled job", "purge_failed", logging.Error(err))
	}
}

// reload returns the stored job, falling back to the claimed copy.
func (s *Scheduler) reload(ctx context.Context, job *queue.Job) *queue.Job {
	fresh, err := s.store.GetJob(ctx, job.ID)
	if err != nil || fresh == nil {
		return job
	}
	return fresh
}
