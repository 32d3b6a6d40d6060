package daemonctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/testsupport"
)

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8000": "http://127.0.0.1:8000",
		"0.0.0.0:9000":   "http://127.0.0.1:9000",
		":7000":          "http://127.0.0.1:7000",
		"[::]:8080":      "http://127.0.0.1:8080",
		"scribe.lan:80":  "http://scribe.lan:80",
	}
	for listen, want := range cases {
		cfg := config.Default()
		cfg.Server.Listen = listen
		if got := BaseURL(&cfg); got != want {
			t.Fatalf("BaseURL(%q) = %q, want %q", listen, got, want)
		}
	}
}

func TestFetchStatusDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 42, Workers: 3})
	}))
	defer srv.Close()

	status, err := FetchStatus(context.Background(), srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if !status.Running || status.PID != 42 || status.Workers != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestFetchStatusRejectsErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if _, err := FetchStatus(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestOfflineSnapshotReadsDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineEndpoint("http://127.0.0.1:1"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	user := testsupport.MustCreateUser(t, store, "ada@example.com", "")
	testsupport.MustCreateJob(t, store, user, "a.mp3")

	status, err := BuildStatusSnapshot(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("offline snapshot must not report running")
	}
	if status.JobCounts["queued"] != 1 || status.Queue.Free != 1 {
		t.Fatalf("unexpected counts %+v queue %+v", status.JobCounts, status.Queue)
	}
	if status.Engine.Reachable {
		t.Fatalf("engine should be unreachable: %+v", status.Engine)
	}
	if status.Storage.TotalBytes == 0 {
		t.Fatalf("expected storage capacity, got %+v", status.Storage)
	}
	if status.LastError != "" {
		t.Fatalf("no lock holder expected, got %q", status.LastError)
	}
}

func TestLockHeld(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	held, err := LockHeld(cfg)
	if err != nil || held {
		t.Fatalf("missing data dir: held=%v err=%v", held, err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	lock := flock.New(cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer lock.Unlock()
	if held, err := LockHeld(cfg); err != nil || !held {
		t.Fatalf("expected lock to be held: held=%v err=%v", held, err)
	}
}

func TestSeverity(t *testing.T) {
	if got := Severity(api.DependencyStatus{Available: true}); got != "ok" {
		t.Fatalf("available: %q", got)
	}
	if got := Severity(api.DependencyStatus{Optional: true}); got != "warn" {
		t.Fatalf("optional missing: %q", got)
	}
	if got := Severity(api.DependencyStatus{}); got != "error" {
		t.Fatalf("required missing: %q", got)
	}
}
