package scheduler

import (
	"context"
	"time"

	"scribe/internal/logging"
	"scribe/internal/services"
)

func (s *Scheduler) runReclaimer(ctx context.Context) {
	interval := s.reclaimInterval
	if interval <= 0 {
		interval = s.lease
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reclaimOnce(ctx)
		}
	}
}

// reclaimOnce frees leases whose holder stopped heartbeating and finishes
// deletes that were waiting on a vanished worker.
func (s *Scheduler) reclaimOnce(ctx context.Context) {
	result, err := s.store.ReclaimExpired(ctx, s.now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(s.logger, "failed to reclaim expired leases", "heartbeat_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		s.setLastError(err)
		return
	}
	if result.Released > 0 {
		s.logger.Info("reclaimed expired leases",
			logging.String(logging.FieldEventType, "lease_reclaimed"),
			logging.Int64("count", result.Released),
		)
		s.Wake()
	}
	for _, id := range result.Cancelled {
		logger := logging.WithContext(services.WithJobID(ctx, id), s.logger)
		logger.Info("abandoned job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
		if err := s.Purge(ctx, id); err != nil {
			logging.WarnWithContext(logger, "failed to purge cancelled job", "purge_failed", logging.Error(err))
		}
	}
}
