package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/queue"
	"scribe/internal/testsupport"
)

type capture struct {
	mu       sync.Mutex
	title    string
	tags     string
	priority string
	body     string
	calls    int
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.calls++
		c.title = r.Header.Get("Title")
		c.tags = r.Header.Get("Tags")
		c.priority = r.Header.Get("Priority")
		c.body = string(body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, c
}

func (c *capture) snapshot() capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return capture{title: c.title, tags: c.tags, priority: c.priority, body: c.body, calls: c.calls}
}

type staticUsers map[int64]*queue.User

func (s staticUsers) UserByID(_ context.Context, id int64) (*queue.User, error) {
	return s[id], nil
}

func TestServiceDisabledWithoutChannels(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := notifications.NewService(cfg, nil, logging.NewNop())
	if svc.Enabled() {
		t.Fatal("expected no channels")
	}
	svc.JobCompleted(context.Background(), &queue.Job{ID: 1})
	if err := svc.TestNotification(context.Background(), ""); err != nil {
		t.Fatalf("expected noop test notification, got %v", err)
	}
}

func TestJobCompletedPublishesToNtfy(t *testing.T) {
	server, rec := ntfyServer(t, http.StatusOK)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(cfg, nil, logging.NewNop())
	svc.JobCompleted(context.Background(), &queue.Job{
		ID:               7,
		Filename:         "interview.mp3",
		SizeBytes:        2048,
		DetectedLanguage: "en",
		DurationMS:       95_400,
	})

	got := rec.snapshot()
	if got.title != "Scribe - Transcript Ready" {
		t.Fatalf("unexpected title %q", got.title)
	}
	want := "✅ Transcript ready: interview.mp3 (2.0 KiB) (en)\nDuration: 1m35s"
	if got.body != want {
		t.Fatalf("unexpected body %q, want %q", got.body, want)
	}
	if got.tags != "scribe,job,completed" || got.priority != "" {
		t.Fatalf("unexpected tags %q priority %q", got.tags, got.priority)
	}
}

func TestJobFailedPublishesHighPriority(t *testing.T) {
	server, rec := ntfyServer(t, http.StatusOK)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(cfg, nil, logging.NewNop())
	svc.JobFailed(context.Background(), &queue.Job{ID: 9, FailedStage: "diarize", Error: "engine returned 400"})

	want := "❌ Transcription failed: job 9\nStage: diarize\nError: engine returned 400"
	got := rec.snapshot()
	if got.body != want {
		t.Fatalf("unexpected body %q", got.body)
	}
	if got.priority != "high" {
		t.Fatalf("expected high priority, got %q", got.priority)
	}
}

func TestEventTogglesSuppressDelivery(t *testing.T) {
	server, rec := ntfyServer(t, http.StatusOK)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.OnCompleted = false
	cfg.Notifications.OnFailed = false

	svc := notifications.NewService(cfg, nil, logging.NewNop())
	svc.JobCompleted(context.Background(), &queue.Job{ID: 1})
	svc.JobFailed(context.Background(), &queue.Job{ID: 2})
	got := rec.snapshot()
	if got.calls != 0 {
		t.Fatalf("expected suppressed events, got %d calls", got.calls)
	}
}

func TestNtfyFailureIsNotFatal(t *testing.T) {
	server, rec := ntfyServer(t, http.StatusInternalServerError)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(cfg, nil, logging.NewNop())
	svc.JobCompleted(context.Background(), &queue.Job{ID: 3})
	got := rec.snapshot()
	if got.calls != 1 {
		t.Fatalf("expected one attempt, got %d", got.calls)
	}
	err := svc.TestNotification(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected test notification to surface the status, got %v", err)
	}
}

func TestJobCompletedEmailsOwner(t *testing.T) {
	var (
		mu      sync.Mutex
		auth    string
		request map[string]any
	)
	sendgrid := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&request)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sendgrid.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.SendGridAPIKey = "SG.test"
	cfg.Notifications.EmailFrom = "noreply@example.com"
	users := staticUsers{4: {ID: 4, Email: "owner@example.com"}}

	svc := notifications.NewService(cfg, users, logging.NewNop(), notifications.WithEmailEndpoint(sendgrid.URL))
	if !svc.Enabled() {
		t.Fatal("expected email channel")
	}
	svc.JobCompleted(context.Background(), &queue.Job{ID: 11, OwnerID: 4, Filename: "memo.wav"})

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer SG.test" {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if request["subject"] != "Scribe - Transcript Ready" {
		t.Fatalf("unexpected subject %v", request["subject"])
	}
	encoded, _ := json.Marshal(request["personalizations"])
	if !strings.Contains(string(encoded), "owner@example.com") {
		t.Fatalf("owner not addressed: %s", encoded)
	}
}
