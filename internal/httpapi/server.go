package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/entitlement"
	"scribe/internal/export"
	"scribe/internal/identity"
	"scribe/internal/ingest"
	"scribe/internal/logging"
	"scribe/internal/queue"
)

// Identity registers, logs in and authenticates accounts.
type Identity interface {
	Register(ctx context.Context, email, password string) (*queue.User, identity.Token, error)
	Login(ctx context.Context, email, password string) (*queue.User, identity.Token, error)
	Authenticate(ctx context.Context, raw string) (*queue.User, error)
}

// Uploader turns uploaded files into queued jobs.
type Uploader interface {
	Submit(ctx context.Context, ownerID int64, files []ingest.File, opts ingest.Options) (*ingest.Result, error)
}

// Jobs is the owner-scoped job service.
type Jobs interface {
	List(ctx context.Context, ownerID int64, statuses ...queue.Status) ([]api.Job, error)
	Describe(ctx context.Context, ownerID, id int64) (*api.Job, error)
	Load(ctx context.Context, ownerID, id int64) (*queue.Job, error)
	Delete(ctx context.Context, ownerID, id int64) error
}

// Exporter renders completed transcripts.
type Exporter interface {
	Export(ctx context.Context, job *queue.Job, format export.Format) (export.Document, error)
}

// UsageReader reports a user's quota usage.
type UsageReader interface {
	Usage(ctx context.Context, userID int64) (entitlement.Usage, error)
}

// StatusFunc produces the daemon status snapshot.
type StatusFunc func(ctx context.Context) api.DaemonStatus

// Deps are the services the HTTP layer routes to.
type Deps struct {
	Identity Identity
	Uploader Uploader
	Jobs     Jobs
	Exporter Exporter
	Usage    UsageReader
	Status   StatusFunc
}

// Server owns the HTTP listener.
type Server struct {
	bind            string
	shutdownTimeout time.Duration
	logger          *slog.Logger
	server          *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Server bound to cfg.Server.Listen.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("httpapi: config is required")
	}
	if deps.Identity == nil || deps.Uploader == nil || deps.Jobs == nil || deps.Exporter == nil || deps.Usage == nil {
		return nil, errors.New("httpapi: identity, uploader, jobs, exporter and usage are required")
	}
	logger = logging.NewComponentLogger(logger, "http")
	return &Server{
		bind:            strings.TrimSpace(cfg.Server.Listen),
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		logger:          logger,
		server: &http.Server{
			Handler:           NewRouter(cfg, deps, logger),
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}, nil
}

// Start listens and serves in the background until ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "http server error", "http_serve_failed",
				logging.String(logging.FieldErrorHint, "check server.listen"),
				logging.Error(err),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}
