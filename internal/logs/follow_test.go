package logs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"scribe/internal/logs"
)

func TestFollowBacklogFiltered(t *testing.T) {
	path := writeLog(t, "2026-03-01T10:00:00Z INFO scheduler: claimed job_id=1\n"+
		"2026-03-01T10:00:01Z INFO scheduler: claimed job_id=2\n"+
		"2026-03-01T10:00:02Z INFO pipeline: done job_id=1\n")

	var got []string
	err := logs.Follow(context.Background(), path, logs.FollowOptions{
		Lines:  10,
		Filter: logs.Filter{JobID: 1},
	}, func(line string) { got = append(got, line) })
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines for job 1, got %#v", got)
	}
}

func TestFollowStreamsUntilCancelled(t *testing.T) {
	path := writeLog(t, "old\n")
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, logs.FollowOptions{Lines: 0, Follow: true, Wait: 100 * time.Millisecond},
			func(line string) {
				mu.Lock()
				got = append(got, line)
				mu.Unlock()
			})
	}()

	time.Sleep(150 * time.Millisecond)
	appendLog(t, path, "new one\nnew two\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Follow returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "new one" || got[1] != "new two" {
		t.Fatalf("unexpected streamed lines %#v", got)
	}
}
