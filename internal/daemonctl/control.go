package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/preflight"
	"scribe/internal/queue"
	"scribe/internal/storage"
)

// DefaultTimeout bounds a status request to a running daemon.
const DefaultTimeout = 5 * time.Second

// BaseURL derives the loopback URL of the daemon's HTTP listener.
func BaseURL(cfg *config.Config) string {
	listen := strings.TrimSpace(cfg.Server.Listen)
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// FetchStatus asks a running daemon for its snapshot.
func FetchStatus(ctx context.Context, client *http.Client, baseURL string) (*api.DaemonStatus, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query daemon: unexpected status %s", resp.Status)
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode daemon status: %w", err)
	}
	return &status, nil
}

// LockHeld reports whether some process holds the daemon instance lock.
func LockHeld(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		// A missing data directory means no daemon ever ran here.
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// BuildStatusSnapshot returns the running daemon's snapshot, or one assembled
// from the database and filesystem when the daemon cannot be reached.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*api.DaemonStatus, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	status, fetchErr := FetchStatus(ctx, nil, BaseURL(cfg))
	if fetchErr == nil {
		return status, nil
	}
	return offlineSnapshot(ctx, cfg, fetchErr), nil
}

func offlineSnapshot(ctx context.Context, cfg *config.Config, fetchErr error) *api.DaemonStatus {
	status := &api.DaemonStatus{
		Active:       []api.ActiveJob{},
		JobCounts:    map[string]int{},
		DatabasePath: cfg.Paths.DatabasePath,
		LockFilePath: cfg.LockPath(),
		Workers:      cfg.Scheduler.MaxConcurrency,
	}
	if held, err := LockHeld(cfg); err == nil && held {
		status.LastError = "daemon holds the instance lock but its HTTP listener is unreachable: " + fetchErr.Error()
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if store, err := queue.Open(cfg); err == nil {
		var agingCutoff time.Time
		if aging := cfg.Scheduler.FreeAging(); aging > 0 {
			agingCutoff = time.Now().Add(-aging)
		}
		if health, healthErr := store.Health(queryCtx, agingCutoff); healthErr == nil {
			status.Queue = api.QueueDepth{Paid: health.QueuedPaid, Free: health.QueuedFree}
		}
		if stats, statsErr := store.Stats(queryCtx); statsErr == nil {
			for s, count := range stats {
				status.JobCounts[string(s)] = count
			}
		}
		_ = store.Close()
	}

	status.Storage.Root = cfg.Paths.StorageDir
	if blobs, err := storage.New(cfg.Paths.StorageDir, cfg.Storage.MinFreeBytes); err != nil {
		status.Storage.Error = err.Error()
	} else if total, free, err := blobs.FreeSpace(); err != nil {
		status.Storage.Error = err.Error()
	} else {
		status.Storage.TotalBytes = total
		status.Storage.FreeBytes = free
	}

	engine := preflight.CheckEngineFromConfig(ctx, cfg)
	status.Engine = api.EngineStatus{Endpoint: cfg.Engine.Endpoint, Reachable: engine.Passed, Detail: engine.Detail}
	status.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(cfg))
	return status
}

// Severity grades a dependency for display: ok, warn for a missing optional
// binary, error for a missing required one.
func Severity(dep api.DependencyStatus) string {
	switch {
	case dep.Available:
		return "ok"
	case dep.Optional:
		return "warn"
	default:
		return "error"
	}
}
