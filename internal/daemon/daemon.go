package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/preflight"
	"scribe/internal/queue"
	"scribe/internal/scheduler"
)

// engineProbeTimeout bounds the engine health call made for each status
// snapshot.
const engineProbeTimeout = 3 * time.Second

// Workers is the job worker pool.
type Workers interface {
	Start(ctx context.Context) error
	Stop()
	Status() scheduler.Snapshot
}

// Listener is the HTTP front end.
type Listener interface {
	Start(ctx context.Context) error
	Stop()
}

// Store reports job counts for status snapshots.
type Store interface {
	Health(ctx context.Context, agingCutoff time.Time) (queue.HealthSummary, error)
	Path() string
}

// Capacity reports object store space.
type Capacity interface {
	Root() string
	FreeSpace() (total, free uint64, err error)
}

// Engine is the inference engine health probe.
type Engine interface {
	Health(ctx context.Context) error
	Endpoint() string
}

// Components are the long-lived services the daemon coordinates. Server and
// Engine may be nil.
type Components struct {
	Store   Store
	Workers Workers
	Server  Listener
	Blobs   Capacity
	Engine  Engine
}

// Daemon coordinates the worker pool and HTTP server and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon around already built components.
func New(cfg *config.Config, comps Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comps.Store == nil || comps.Workers == nil || comps.Blobs == nil {
		return nil, errors.New("daemon requires config, store, workers and blob store")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comps:    comps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, then launches the workers and the HTTP
// server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another scribe daemon holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.comps.Workers.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.comps.Server != nil {
		if err := d.comps.Server.Start(runCtx); err != nil {
			d.comps.Workers.Stop()
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start http server: %w", err)
		}
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("scribe daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop closes the HTTP server first so no new work arrives, then stops the
// workers and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.comps.Server != nil {
		d.comps.Server.Stop()
	}
	d.comps.Workers.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale lock file may remain"),
		)
	}
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// LockPath returns the instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status assembles a snapshot of the worker pool, queue, storage, engine and
// external binaries. Failures of individual probes are reported inline.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	snap := d.comps.Workers.Status()
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Instance:     snap.Instance,
		Workers:      snap.Workers,
		Active:       make([]api.ActiveJob, 0, len(snap.Active)),
		JobCounts:    map[string]int{},
		DatabasePath: d.comps.Store.Path(),
		LockFilePath: d.lockPath,
		LastError:    snap.LastError,
	}
	for _, active := range snap.Active {
		status.Active = append(status.Active, api.ActiveJob{
			JobID:     active.JobID,
			Worker:    active.Worker,
			StartedAt: api.FormatTime(active.Started),
		})
	}

	var agingCutoff time.Time
	if aging := d.cfg.Scheduler.FreeAging(); aging > 0 {
		agingCutoff = time.Now().Add(-aging)
	}
	if health, err := d.comps.Store.Health(ctx, agingCutoff); err != nil {
		status.LastError = joinDetail(status.LastError, "queue: "+err.Error())
	} else {
		status.Queue = api.QueueDepth{Paid: health.QueuedPaid, Free: health.QueuedFree}
		status.JobCounts[string(queue.StatusQueued)] = health.Queued
		status.JobCounts[string(queue.StatusProcessing)] = health.Processing
		status.JobCounts[string(queue.StatusCompleted)] = health.Completed
		status.JobCounts[string(queue.StatusFailed)] = health.Failed
		status.JobCounts[string(queue.StatusCancelled)] = health.Cancelled
	}

	status.Storage.Root = d.comps.Blobs.Root()
	if total, free, err := d.comps.Blobs.FreeSpace(); err != nil {
		status.Storage.Error = err.Error()
	} else {
		status.Storage.TotalBytes = total
		status.Storage.FreeBytes = free
	}

	status.Engine = d.engineStatus(ctx)
	status.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(d.cfg))
	return status
}

func (d *Daemon) engineStatus(ctx context.Context) api.EngineStatus {
	if d.comps.Engine == nil {
		return api.EngineStatus{Endpoint: d.cfg.Engine.Endpoint, Detail: "not configured"}
	}
	probeCtx, cancel := context.WithTimeout(ctx, engineProbeTimeout)
	defer cancel()
	result := api.EngineStatus{Endpoint: d.comps.Engine.Endpoint(), Reachable: true}
	if err := d.comps.Engine.Health(probeCtx); err != nil {
		result.Reachable = false
		result.Detail = err.Error()
	}
	return result
}

func joinDetail(current, next string) string {
	if current == "" {
		return next
	}
	return current + "; " + next
}
