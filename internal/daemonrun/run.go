package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/deps"
	"scribe/internal/entitlement"
	"scribe/internal/export"
	"scribe/internal/httpapi"
	"scribe/internal/identity"
	"scribe/internal/inference"
	"scribe/internal/ingest"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/pipeline"
	"scribe/internal/preflight"
	"scribe/internal/queue"
	"scribe/internal/scheduler"
	"scribe/internal/storage"
)

// staleTempAge is how old a partial blob write must be before startup removes
// it.
const staleTempAge = time.Hour

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Listen overrides server.listen when set.
	Listen string
}

// Run starts the scribe daemon and blocks until ctx ends or SIGINT/SIGTERM
// arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if listen := strings.TrimSpace(opts.Listen); listen != "" {
		cfg.Server.Listen = listen
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("scribe-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update scribe.log link: %v\n", err)
	}
	logging.PruneOldLogs(logger, cfg.Paths.LogDir, "scribe-*.log", cfg.Logging.RetentionDays, logPath)

	binaries := preflight.CheckSystemDeps(cfg)
	logDependencySnapshot(logger, cfg, binaries)
	if missing := deps.MissingRequired(binaries); len(missing) > 0 {
		return fmt.Errorf("required binary %q unavailable: %s", missing[0].Command, missing[0].Detail)
	}
	probeAvailable := len(binaries) > 0 && binaries[0].Available
	if !probeAvailable {
		logging.WarnWithContext(logger, "ffprobe not found; duration limits are not enforced", "probe_unavailable",
			logging.String(logging.FieldErrorHint, "install ffmpeg or set ingest.require_probe"),
			logging.String(logging.FieldImpact, "uploads are checked by size only"),
		)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "scribe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	app, err := Build(cfg, logger, probeAvailable)
	if err != nil {
		logger.Error("build components", logging.Error(err))
		return err
	}
	defer app.Close()

	app.Blobs.SweepTemp(signalCtx, staleTempAge, logger)
	reportPreflight(signalCtx, logger, cfg, app.Engine)

	if err := app.Daemon.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.String(logging.FieldErrorHint, "check server.listen and that no other daemon uses this data directory"),
			logging.Error(err),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("scribe daemon shutting down")
	app.Daemon.Stop()
	return nil
}

// App holds the wired components of one daemon process.
type App struct {
	Store    *queue.Store
	Blobs    *storage.Store
	Engine   *inference.Client
	Notifier *notifications.Service
	Daemon   *daemon.Daemon
}

// Close releases the database.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// Build opens the store and wires every service the daemon runs. The caller
// owns the returned App and must Close it.
func Build(cfg *config.Config, logger *slog.Logger, probeAvailable bool) (*App, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	app := &App{Store: store}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	blobs, err := storage.New(cfg.Paths.StorageDir, cfg.Storage.MinFreeBytes)
	if err != nil {
		return fail(fmt.Errorf("open object store: %w", err))
	}
	app.Blobs = blobs

	ids, err := identity.New(cfg, store, logger)
	if err != nil {
		return fail(fmt.Errorf("init identity: %w", err))
	}
	ledger := entitlement.New(cfg, store, logger)

	app.Engine = inference.NewClient(cfg.Engine, logger)
	executor := pipeline.NewExecutor(cfg, app.Engine, blobs, logger)
	app.Notifier = notifications.NewService(cfg, store, logger)
	workers := scheduler.New(cfg, store, executor, blobs, logger, scheduler.WithNotifier(app.Notifier))

	ingestOpts := []ingest.Option{ingest.WithWaker(workers), ingest.WithEngine(app.Engine)}
	if prober := ingest.NewProber(cfg, probeAvailable); prober != nil {
		ingestOpts = append(ingestOpts, ingest.WithProber(prober))
	}

	var d *daemon.Daemon
	server, err := httpapi.New(cfg, httpapi.Deps{
		Identity: ids,
		Uploader: ingest.New(cfg, ledger, blobs, store, logger, ingestOpts...),
		Jobs:     api.NewJobService(store, workers, logger),
		Exporter: export.NewRenderer(store, blobs, logger),
		Usage:    ledger,
		Status: func(ctx context.Context) api.DaemonStatus {
			return d.Status(ctx)
		},
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("create http server: %w", err))
	}

	d, err = daemon.New(cfg, daemon.Components{
		Store:   store,
		Workers: workers,
		Server:  server,
		Blobs:   blobs,
		Engine:  app.Engine,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("create daemon: %w", err))
	}
	app.Daemon = d
	return app, nil
}

// reportPreflight logs failed readiness checks. None of them stops startup:
// the engine may come up later and directories were created above.
func reportPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, engine preflight.HealthChecker) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg, engine)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "jobs may fail until the check passes"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "scribe.log")
	if err := os.Remove(current); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config, binaries []deps.Status) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("engine_endpoint", cfg.Engine.Endpoint),
		logging.Bool("engine_key_present", strings.TrimSpace(cfg.Engine.APIKey) != ""),
		logging.Bool("encryption_enabled", strings.TrimSpace(cfg.Storage.EncryptionKey) != ""),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("email_enabled", strings.TrimSpace(cfg.Notifications.SendGridAPIKey) != ""),
		logging.Int("max_concurrency", cfg.Scheduler.MaxConcurrency),
	}
	for _, bin := range binaries {
		attrs = append(attrs,
			logging.Bool(bin.Command+"_available", bin.Available),
			logging.String(bin.Command+"_path", bin.Path),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
