package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/queue"
)

var errLeaseLost = errors.New("lease lost during run")

// heartbeatLoop extends the lease of a running job until ctx ends. A pending
// cancellation marks the handle; losing the lease aborts the run.
func (s *Scheduler) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, job *queue.Job, owner string, handle *runHandle, abort context.CancelCauseFunc, logger *slog.Logger) {
	defer wg.Done()
	interval := s.heartbeatInterval
	if interval <= 0 {
		interval = s.lease / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := s.store.Heartbeat(ctx, job.ID, owner, s.now().Add(s.lease))
			switch {
			case err == nil:
				if cancelRequested && !handle.cancelled.Swap(true) {
					logger.Info("cancellation observed by heartbeat")
				}
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "job lease lost", "lease_lost",
					logging.String(logging.FieldErrorHint, "lease may be shorter than a stalled store write"),
					logging.String(logging.FieldImpact, "run abandoned; another worker may claim the job"),
				)
				abort(errLeaseLost)
				return
			case errors.Is(err, context.Canceled):
				logger.Info("heartbeat stopped by shutdown")
				return
			default:
				logging.WarnWithContext(logger, "heartbeat update failed", "heartbeat_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}
	}
}
