package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
)

// JobStore abstracts the job persistence the query API needs.
type JobStore interface {
	ListJobs(ctx context.Context, filter queue.JobFilter) ([]*queue.Job, error)
	JobForOwner(ctx context.Context, id, ownerID int64) (*queue.Job, error)
	SegmentCount(ctx context.Context, jobID int64) (int, error)
	RequestCancel(ctx context.Context, id, ownerID int64, now time.Time) (*queue.Job, error)
}

// Canceller reaches the worker pool on delete.
type Canceller interface {
	Signal(jobID int64) bool
	Purge(ctx context.Context, jobID int64) error
}

// JobService exposes owner-scoped job operations returning API DTOs. Every
// call takes the caller's user id; jobs of other users are reported as not
// found.
type JobService struct {
	store     JobStore
	canceller Canceller
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobService constructs a JobService.
func NewJobService(store JobStore, canceller Canceller, logger *slog.Logger) *JobService {
	return &JobService{
		store:     store,
		canceller: canceller,
		logger:    logging.NewComponentLogger(logger, "jobs"),
		now:       time.Now,
	}
}

// List returns the owner's visible jobs, newest first.
func (s *JobService) List(ctx context.Context, ownerID int64, statuses ...queue.Status) ([]Job, error) {
	jobs, err := s.store.ListJobs(ctx, queue.JobFilter{OwnerID: ownerID, Statuses: statuses})
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "list", "job store unavailable", err)
	}
	return FromJobs(jobs), nil
}

// Load returns the owner's job record.
func (s *JobService) Load(ctx context.Context, ownerID, id int64) (*queue.Job, error) {
	job, err := s.store.JobForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "jobs", "get", "job store unavailable", err)
	}
	if job == nil {
		return nil, notFound(id)
	}
	return job, nil
}

// Describe returns a single job with its segment count.
func (s *JobService) Describe(ctx context.Context, ownerID, id int64) (*Job, error) {
	job, err := s.Load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	if job.Status == queue.StatusCompleted {
		count, err := s.store.SegmentCount(ctx, job.ID)
		if err != nil {
			return nil, services.Wrap(services.ErrUnavailable, "jobs", "get", "job store unavailable", err)
		}
		dto.SegmentCount = &count
	}
	return &dto, nil
}

// Delete hides the job from its owner and stops any work on it. Data of a
// terminal job is purged at once; a running job is purged by its worker once
// it observes the cancellation.
func (s *JobService) Delete(ctx context.Context, ownerID, id int64) error {
	job, err := s.store.RequestCancel(ctx, id, ownerID, s.now())
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "jobs", "delete", "job store unavailable", err)
	}
	if job == nil {
		return notFound(id)
	}
	logger := s.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldUserID, ownerID),
		logging.String("status", string(job.Status)),
	)

	if !job.Status.IsTerminal() {
		signalled := s.canceller != nil && s.canceller.Signal(job.ID)
		logger.Info("job deletion requested; awaiting worker", logging.Bool("signalled", signalled))
		return nil
	}
	if s.canceller != nil {
		if err := s.canceller.Purge(ctx, job.ID); err != nil {
			logging.WarnWithContext(logger, "job purge failed", "job_purge_failed",
				logging.String(logging.FieldErrorHint, "run scribe jobs purge to retry"),
				logging.String(logging.FieldImpact, "stored blobs remain until purged"),
				logging.Error(err),
			)
		}
	}
	logger.Info("job deleted")
	return nil
}

func notFound(id int64) error {
	return services.Wrap(services.ErrNotFound, "jobs", "get", fmt.Sprintf("job %d not found", id), nil)
}
