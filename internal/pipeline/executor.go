package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/config"
	"scribe/internal/inference"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
)

// Checkpoint is called before each stage. Returning ErrCancelled stops the
// run at that boundary; other errors fail it.
type Checkpoint func(ctx context.Context, stage string, percent float64) error

// Result is the output of a successful run.
type Result struct {
	Language string
	Segments []queue.Segment
	Stages   []string
}

// Blobs is the slice of the object store the executor needs for work files.
type Blobs interface {
	Path(key string) (string, error)
	Exists(key string) (bool, error)
	Delete(key string) error
}

// RetryPolicy bounds attempts and backoff for transient stage failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before the given retry (1-based), doubling from
// BaseDelay up to MaxDelay.
func (p RetryPolicy) Delay(retry int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < retry; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Executor runs the stage sequence for one job at a time per call. It holds
// no per-job state and is shared by all workers.
type Executor struct {
	engine       inference.Engine
	blobs        Blobs
	policy       RetryPolicy
	stageTimeout time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// NewExecutor builds an executor from pipeline configuration.
func NewExecutor(cfg *config.Config, engine inference.Engine, blobs Blobs, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		engine: engine,
		blobs:  blobs,
		policy: RetryPolicy{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseDelay:   cfg.Pipeline.RetryBaseDelay(),
			MaxDelay:    cfg.Pipeline.RetryMaxDelay(),
		},
		stageTimeout: cfg.Pipeline.StageTimeout(),
		jobTimeout:   cfg.Pipeline.JobTimeout(),
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every planned stage for job, reading audio from audioPath.
// Cancellation observed at a checkpoint returns ErrCancelled. Failures are
// *StageError values naming the stage.
func (e *Executor) Run(ctx context.Context, job queue.Job, audioPath string, checkpoint Checkpoint) (Result, error) {
	runCtx := ctx
	if e.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.jobTimeout)
		defer cancel()
	}
	state := &State{Job: job, AudioPath: audioPath}
	defer e.cleanup(state)
	if job.SourceLanguage != queue.AutoLanguage {
		state.Language = job.SourceLanguage
	}
	plan := e.Plan(job)
	logger := logging.WithContext(ctx, e.logger)
	logger.Info("pipeline started",
		logging.String("mode", string(job.Mode)),
		logging.Any("stages", StageNames(plan)),
	)

	started := time.Now()
	for i, stage := range plan {
		if checkpoint != nil {
			percent := float64(i) * 100 / float64(len(plan))
			if err := checkpoint(runCtx, stage.Name, percent); err != nil {
				return Result{}, e.wrapRunErr(ctx, runCtx, stage.Name, err)
			}
		}
		if err := e.runStage(runCtx, stage, state); err != nil {
			return Result{}, e.wrapRunErr(ctx, runCtx, stage.Name, err)
		}
	}

	segments := make([]queue.Segment, len(state.Segments))
	for i, seg := range state.Segments {
		segments[i] = queue.Segment{
			Index:   i,
			Speaker: seg.Speaker,
			StartMS: seg.StartMS,
			EndMS:   seg.EndMS,
			Text:    seg.Text,
		}
	}
	logger.Info("pipeline finished",
		logging.Int("segments", len(segments)),
		logging.String("language", state.Language),
		logging.Duration("elapsed", time.Since(started)),
	)
	return Result{Language: state.Language, Segments: segments, Stages: StageNames(plan)}, nil
}

// runStage applies the per-stage timeout and retries transient failures.
func (e *Executor) runStage(ctx context.Context, stage Descriptor, state *State) error {
	stageCtx := services.WithStage(ctx, stage.Name)
	logger := logging.WithContext(stageCtx, e.logger)
	attempts := max(e.policy.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := e.attempt(stageCtx, stage, state)
		if err == nil {
			if attempt > 1 {
				logger.Info("stage recovered", logging.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !services.IsRetryable(err) {
			return &StageError{Stage: stage.Name, Transient: false, Attempts: attempt, Err: err}
		}
		if attempt == attempts {
			break
		}
		delay := e.policy.Delay(attempt)
		if hint := inference.RetryAfter(err); hint > delay {
			delay = min(hint, max(e.policy.MaxDelay, delay))
		}
		logging.WarnWithContext(logger, "stage attempt failed; retrying", "stage_retry",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job delayed"),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &StageError{Stage: stage.Name, Transient: true, Attempts: attempts, Err: lastErr}
}

func (e *Executor) attempt(ctx context.Context, stage Descriptor, state *State) error {
	attemptCtx := ctx
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}
	err := stage.Run(attemptCtx, state)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage.Name, "", fmt.Sprintf("exceeded %s stage timeout", e.stageTimeout), err)
	}
	return err
}

// wrapRunErr separates caller cancellation and the job time limit from stage
// failures.
func (e *Executor) wrapRunErr(parent, runCtx context.Context, stage string, err error) error {
	if errors.Is(err, ErrCancelled) {
		return ErrCancelled
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &StageError{
			Stage: StageJob,
			Err:   services.Wrap(services.ErrTimeout, StageJob, "", fmt.Sprintf("job exceeded %s limit during %s", e.jobTimeout, stage), nil),
		}
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return &StageError{Stage: stage, Transient: services.IsRetryable(err), Err: err}
}

func (e *Executor) cleanup(state *State) {
	for _, key := range state.workKeys {
		if err := e.blobs.Delete(key); err != nil {
			e.logger.Debug("work file cleanup failed",
				logging.Int64(logging.FieldJobID, state.Job.ID),
				logging.String("key", key),
				logging.Error(err),
			)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
