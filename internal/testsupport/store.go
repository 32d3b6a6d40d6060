package testsupport

import (
	"context"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustCreateUser registers a user with a throwaway hash and sets its plan.
func MustCreateUser(t testing.TB, store *queue.Store, email string, plan queue.Plan) *queue.User {
	t.Helper()

	ctx := context.Background()
	user, err := store.CreateUser(ctx, email, "test-hash", time.Now())
	if err != nil {
		t.Fatalf("store.CreateUser: %v", err)
	}
	if plan != "" && plan != user.Plan {
		user, err = store.SetPlan(ctx, email, plan)
		if err != nil {
			t.Fatalf("store.SetPlan: %v", err)
		}
	}
	return user
}

// MustCreateJob inserts a queued job owned by user using dolphin mode.
func MustCreateJob(t testing.TB, store *queue.Store, user *queue.User, filename string) *queue.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), queue.NewJob{
		OwnerID:        user.ID,
		Filename:       filename,
		SourceKey:      "uploads/test/" + filename,
		SizeBytes:      1024,
		Mode:           queue.ModeDolphin,
		SourceLanguage: queue.AutoLanguage,
		Tier:           user.Plan,
	})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
