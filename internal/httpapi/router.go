package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
)

const requestIDHeader = "X-Request-ID"

type handler struct {
	deps           Deps
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewRouter returns the HTTP handler for the service.
func NewRouter(cfg *config.Config, deps Deps, logger *slog.Logger) http.Handler {
	h := &handler{
		deps:           deps,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
		logger:         logging.NewComponentLogger(logger, "http"),
	}

	router := chi.NewRouter()
	router.Use(h.requestID)
	router.Use(h.accessLog)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{"Content-Disposition", requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", h.handleHealthz)
	router.Get("/status", h.handleStatus)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.With(h.authenticate).Get("/me", h.handleMe)
	})

	router.Route("/jobs", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/", h.handleListJobs)
		r.Post("/upload", h.handleUpload)
		r.Get("/{id}", h.handleGetJob)
		r.Get("/{id}/transcript", h.handleTranscript)
		r.Delete("/{id}", h.handleDeleteJob)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, services.Wrap(services.ErrNotFound, "", "", "route not found", nil))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed", "detail": "method not allowed"})
	})
	return router
}

// requestID propagates or assigns a correlation id.
func (h *handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelDebug
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logging.WithContext(r.Context(), h.logger).Log(r.Context(), level, "http request",
				logging.Args(
					logging.String("method", r.Method),
					logging.String("path", r.URL.Path),
					logging.Int("status", status),
					logging.Int("bytes", ww.BytesWritten()),
					logging.Duration("elapsed", time.Since(start)),
				)...,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

type userKey struct{}

// authenticate requires a valid bearer token and stores the account on the
// request context.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, r, services.Wrap(services.ErrAuth, "", "", "not authenticated", nil))
			return
		}
		user, err := h.deps.Identity.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, user)
		ctx = services.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(ctx context.Context) *queue.User {
	user, _ := ctx.Value(userKey{}).(*queue.User)
	return user
}
