package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.Engine{
		Endpoint:              srv.URL + "/",
		APIKey:                "engine-key",
		RequestTimeoutSeconds: 5,
		RequestsPerSecond:     1000,
		Burst:                 1000,
	}, logging.NewNop())
}

func TestTranscribeSendsProfileAndDecodesSegments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcribe" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer engine-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req TranscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Mode != "whale" || req.Profile.Model != "large-v3" || req.AudioPath != "/data/a.mp3" {
			t.Errorf("unexpected request body %+v", req)
		}
		_ = json.NewEncoder(w).Encode(TranscribeResponse{
			Language: "en",
			Segments: []Segment{{StartMS: 0, EndMS: 1500, Text: "hello"}},
		})
	})

	resp, err := client.Transcribe(context.Background(), TranscribeRequest{
		AudioPath: "/data/a.mp3",
		Language:  "en",
		Mode:      string(queue.ModeWhale),
		Profile:   ProfileFor(queue.ModeWhale),
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if resp.Language != "en" || len(resp.Segments) != 1 || resp.Segments[0].Text != "hello" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "7")
			http.Error(w, "engine says no", tc.status)
		})
		_, err := client.Diarize(context.Background(), DiarizeRequest{AudioPath: "/x.wav"})
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := services.IsRetryable(err); got != tc.transient {
			t.Fatalf("status %d: retryable=%v, want %v (%v)", tc.status, got, tc.transient, err)
		}
		if !tc.transient && !errors.Is(err, services.ErrFatal) {
			t.Fatalf("status %d: expected fatal marker, got %v", tc.status, err)
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !strings.Contains(statusErr.Body, "engine says no") {
			t.Fatalf("status %d: expected body excerpt, got %v", tc.status, err)
		}
		if RetryAfter(err) != 7*time.Second {
			t.Fatalf("status %d: retry-after %v", tc.status, RetryAfter(err))
		}
	}
}

func TestUnreachableEngineIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	client := NewClient(config.Engine{Endpoint: endpoint, RequestTimeoutSeconds: 1, RequestsPerSecond: 100, Burst: 1}, logging.NewNop())
	_, err := client.DetectLanguage(context.Background(), DetectRequest{AudioPath: "/x.wav"})
	if !services.IsRetryable(err) {
		t.Fatalf("expected retryable error for closed server, got %v", err)
	}
	if err := client.Health(context.Background()); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected unavailable health, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSharedLimiterPacesCalls(t *testing.T) {
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		served.Add(1)
		_ = json.NewEncoder(w).Encode(DetectResponse{Language: "en"})
	}))
	t.Cleanup(srv.Close)

	var sent atomic.Int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		sent.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})
	client := NewClient(config.Engine{Endpoint: srv.URL, RequestTimeoutSeconds: 5}, logging.NewNop(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)),
	)

	if _, err := client.DetectLanguage(context.Background(), DetectRequest{AudioPath: "/a.wav"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.DetectLanguage(ctx, DetectRequest{AudioPath: "/a.wav"})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected capacity timeout, got %v", err)
	}
	if sent.Load() != 1 || served.Load() != 1 {
		t.Fatalf("sent=%d served=%d, want one request through the custom client", sent.Load(), served.Load())
	}
}

func TestMalformedResponseIsFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})
	_, err := client.Translate(context.Background(), TranslateRequest{TargetLanguage: "de"})
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal decode error, got %v", err)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Request-ID") != "req-9" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ctx := services.WithRequestID(context.Background(), "req-9")
	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := parseRetryAfter("3", now); got != 3*time.Second {
		t.Fatalf("seconds form: %v", got)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := parseRetryAfter(date, now); got != 90*time.Second {
		t.Fatalf("date form: %v", got)
	}
	for _, value := range []string{"", "-1", "soon"} {
		if got := parseRetryAfter(value, now); got != 0 {
			t.Fatalf("parseRetryAfter(%q) = %v", value, got)
		}
	}
}

func TestProfileForFallsBackToBalanced(t *testing.T) {
	if ProfileFor(queue.Mode("bogus")) != ProfileFor(queue.ModeDolphin) {
		t.Fatal("unknown mode should map to the balanced profile")
	}
	if ProfileFor(queue.ModeCheetah).BeamSize >= ProfileFor(queue.ModeWhale).BeamSize {
		t.Fatal("cheetah should trade accuracy for latency")
	}
}
