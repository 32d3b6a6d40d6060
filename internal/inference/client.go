package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/services"
)

const (
	userAgent       = "scribe/1"
	errorBodyLimit  = 2048
	responseMaxSize = 64 << 20
)

// Engine is the black-box inference collaborator each pipeline stage calls.
type Engine interface {
	DetectLanguage(ctx context.Context, req DetectRequest) (DetectResponse, error)
	Restore(ctx context.Context, req RestoreRequest) (RestoreResponse, error)
	Transcribe(ctx context.Context, req TranscribeRequest) (TranscribeResponse, error)
	Diarize(ctx context.Context, req DiarizeRequest) (DiarizeResponse, error)
	Translate(ctx context.Context, req TranslateRequest) (TranslateResponse, error)
	Health(ctx context.Context) error
}

// StatusError records a non-2xx engine response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("engine %s returned %d", e.Endpoint, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Client talks JSON over HTTP to the inference engine. Outbound calls share a
// token bucket so a burst of jobs cannot flood the engine.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter replaces the outbound rate limiter.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// NewClient builds a client from engine configuration.
func NewClient(cfg config.Engine, logger *slog.Logger, opts ...Option) *Client {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := max(cfg.Burst, 1)
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logging.NewComponentLogger(logger, "inference"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// DetectLanguage implements Engine.
func (c *Client) DetectLanguage(ctx context.Context, req DetectRequest) (DetectResponse, error) {
	var resp DetectResponse
	err := c.post(ctx, "/v1/detect-language", req, &resp)
	return resp, err
}

// Restore implements Engine.
func (c *Client) Restore(ctx context.Context, req RestoreRequest) (RestoreResponse, error) {
	var resp RestoreResponse
	err := c.post(ctx, "/v1/restore", req, &resp)
	return resp, err
}

// Transcribe implements Engine.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (TranscribeResponse, error) {
	var resp TranscribeResponse
	err := c.post(ctx, "/v1/transcribe", req, &resp)
	return resp, err
}

// Diarize implements Engine.
func (c *Client) Diarize(ctx context.Context, req DiarizeRequest) (DiarizeResponse, error) {
	var resp DiarizeResponse
	err := c.post(ctx, "/v1/diarize", req, &resp)
	return resp, err
}

// Translate implements Engine.
func (c *Client) Translate(ctx context.Context, req TranslateRequest) (TranslateResponse, error) {
	var resp TranslateResponse
	err := c.post(ctx, "/v1/translate", req, &resp)
	return resp, err
}

// Health checks that the engine answers. It bypasses the rate limiter.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport("/v1/health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return classifyStatus(newStatusError("/v1/health", resp))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return services.Wrap(services.ErrTimeout, "", endpoint, "waiting for engine capacity", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrFatal, "", endpoint, "encode request", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(endpoint, err)
	}
	defer resp.Body.Close()

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("engine call",
		logging.String("endpoint", endpoint),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)
	if resp.StatusCode >= 300 {
		return classifyStatus(newStatusError(endpoint, resp))
	}
	decoder := json.NewDecoder(io.LimitReader(resp.Body, responseMaxSize))
	if err := decoder.Decode(out); err != nil {
		return services.Wrap(services.ErrFatal, "", endpoint, "decode response", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", endpoint, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	return req, nil
}

func newStatusError(endpoint string, resp *http.Response) *StatusError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return &StatusError{
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(excerpt)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func classifyStatus(statusErr *StatusError) error {
	if statusErr.Transient() {
		return services.Wrap(services.ErrTransient, "", statusErr.Endpoint, "engine busy or failing", statusErr)
	}
	return services.Wrap(services.ErrFatal, "", statusErr.Endpoint, "engine rejected request", statusErr)
}

func classifyTransport(endpoint string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, "", endpoint, "engine request timed out", err)
	}
	return services.Wrap(services.ErrUnavailable, "", endpoint, "engine unreachable", err)
}

// RetryAfter extracts a server-requested delay from err, or zero.
func RetryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := when.Sub(now); delay > 0 {
			return delay
		}
	}
	return 0
}
