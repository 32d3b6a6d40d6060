package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/queue"
)

// Store is the slice of the job store the worker pool drives.
type Store interface {
	ClaimNext(ctx context.Context, owner string, leaseUntil, agingCutoff time.Time) (*queue.Job, error)
	Heartbeat(ctx context.Context, id int64, owner string, leaseUntil time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id int64, owner, stage string, percent float64) error
	RecordDetectedLanguage(ctx context.Context, id int64, owner, language string) error
	Complete(ctx context.Context, id int64, owner string, segments []queue.Segment) error
	Fail(ctx context.Context, id int64, owner, stage, message string) error
	Cancel(ctx context.Context, id int64, owner string) error
	CancelRequested(ctx context.Context, id int64) (bool, error)
	ReclaimExpired(ctx context.Context, now time.Time) (queue.ReclaimResult, error)
	ResetStuckProcessing(ctx context.Context) (int64, error)
	PurgeJobData(ctx context.Context, id int64) ([]string, error)
	GetJob(ctx context.Context, id int64) (*queue.Job, error)
}

// Runner executes the pipeline for one claimed job.
type Runner interface {
	Run(ctx context.Context, job queue.Job, audioPath string, checkpoint pipeline.Checkpoint) (pipeline.Result, error)
}

// Blobs resolves source media and removes blobs of purged jobs.
type Blobs interface {
	Path(key string) (string, error)
	Delete(key string) error
}

// Notifier is told about jobs that reached completed or failed.
type Notifier interface {
	JobCompleted(ctx context.Context, job *queue.Job)
	JobFailed(ctx context.Context, job *queue.Job)
}

// Scheduler owns a fixed pool of workers pulling from the job store in
// tier/FIFO order, plus the lease reclaimer.
type Scheduler struct {
	store    Store
	runner   Runner
	blobs    Blobs
	notifier Notifier
	logger   *slog.Logger

	instance          string
	workers           int
	maxClaims         int
	pollInterval      time.Duration
	lease             time.Duration
	heartbeatInterval time.Duration
	reclaimInterval   time.Duration
	freeAging         time.Duration
	now               func() time.Time

	wake    chan struct{}
	active  *registry
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier attaches terminal-state notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source used for leases and aging.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a scheduler from configuration.
func New(cfg *config.Config, store Store, runner Runner, blobs Blobs, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:             store,
		runner:            runner,
		blobs:             blobs,
		notifier:          noopNotifier{},
		logger:            logging.NewComponentLogger(logger, "scheduler"),
		instance:          uuid.NewString()[:8],
		workers:           max(cfg.Scheduler.MaxConcurrency, 1),
		maxClaims:         max(cfg.Scheduler.MaxClaims, 1),
		pollInterval:      cfg.Scheduler.PollInterval(),
		lease:             cfg.Scheduler.Lease(),
		heartbeatInterval: cfg.Scheduler.HeartbeatInterval(),
		reclaimInterval:   cfg.Scheduler.ReclaimInterval(),
		freeAging:         cfg.Scheduler.FreeAging(),
		now:               time.Now,
		wake:              make(chan struct{}, 1),
		active:            newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start releases leases left by a previous process and launches the workers
// and the reclaimer.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	reset, err := s.store.ResetStuckProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		s.logger.Info("released leases from previous run", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.lastErr = nil

	for i := 1; i <= s.workers; i++ {
		name := fmt.Sprintf("%s-%d", s.instance, i)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWorker(runCtx, name)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runReclaimer(runCtx)
	}()

	s.logger.Info("scheduler started",
		logging.Int("workers", s.workers),
		logging.Duration("lease", s.lease),
		logging.Duration("free_aging", s.freeAging),
	)
	return nil
}

// Stop cancels every worker and waits for them to exit. Jobs interrupted by
// shutdown keep their lease and are released on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Wake nudges an idle worker to look for work before its next poll.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Signal asks the worker running id to stop at its next stage boundary.
// It reports whether a local worker holds the job.
func (s *Scheduler) Signal(id int64) bool {
	return s.active.signal(id)
}

// Purge removes the transcript, cached exports and stored blobs of a
// terminal job.
func (s *Scheduler) Purge(ctx context.Context, id int64) error {
	keys, err := s.store.PurgeJobData(ctx, id)
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		if err := s.blobs.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("delete blob %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// ActiveJob describes a job a local worker is running.
type ActiveJob struct {
	JobID   int64
	Worker  string
	Started time.Time
}

// Snapshot is a point-in-time view of the pool.
type Snapshot struct {
	Running   bool
	Instance  string
	Workers   int
	Active    []ActiveJob
	LastError string
}

// Status returns the current pool state.
func (s *Scheduler) Status() Snapshot {
	s.mu.RLock()
	snap := Snapshot{Running: s.running, Instance: s.instance, Workers: s.workers}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()
	snap.Active = s.active.list()
	return snap
}

func (s *Scheduler) agingCutoff() time.Time {
	if s.freeAging <= 0 {
		return time.Time{}
	}
	return s.now().Add(-s.freeAging)
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// waitForWorkOrShutdown blocks until the poll interval elapses, a wake
// arrives, or ctx ends.
func (s *Scheduler) waitForWorkOrShutdown(ctx context.Context) {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-timer.C:
	}
}

type noopNotifier struct{}

func (noopNotifier) JobCompleted(context.Context, *queue.Job) {}
func (noopNotifier) JobFailed(context.Context, *queue.Job)    {}
