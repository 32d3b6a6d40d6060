package queue_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/testsupport"
)

func leaseUntil() time.Time {
	return time.Now().Add(time.Minute)
}

func TestOpenCreatesSchemaAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("unexpected missing columns: %v", health.MissingColumns)
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}

	store.Close()
	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.Close()
}

func TestTransitionTableIsClosed(t *testing.T) {
	legal := map[[2]queue.Status]bool{
		{queue.StatusQueued, queue.StatusProcessing}:    true,
		{queue.StatusQueued, queue.StatusCancelled}:     true,
		{queue.StatusProcessing, queue.StatusCompleted}: true,
		{queue.StatusProcessing, queue.StatusFailed}:    true,
		{queue.StatusProcessing, queue.StatusCancelled}: true,
	}
	for _, from := range queue.AllStatuses() {
		for _, to := range queue.AllStatuses() {
			want := legal[[2]queue.Status{from, to}]
			if got := queue.CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			if from.IsTerminal() && queue.CanTransition(from, to) {
				t.Fatalf("terminal status %s must not transition", from)
			}
		}
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, "Ada@Example.com", "hash", time.Now()); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, err := store.CreateUser(ctx, "ada@example.com", "hash", time.Now())
	if !errors.Is(err, queue.ErrEmailTaken) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	user, err := store.UserByEmail(ctx, "ADA@example.com")
	if err != nil || user == nil {
		t.Fatalf("UserByEmail: %v (%v)", user, err)
	}
	if user.Plan != queue.PlanFree || user.UsageCount != 0 {
		t.Fatalf("unexpected new user state: %+v", user)
	}
}

func TestSwapUsageIsCompareAndSwap(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	user := testsupport.MustCreateUser(t, store, "cas@example.com", queue.PlanFree)

	ok, err := store.SwapUsage(ctx, user.ID, 0, user.UsageResetAt, 1, user.UsageResetAt)
	if err != nil || !ok {
		t.Fatalf("first swap: ok=%v err=%v", ok, err)
	}
	ok, err = store.SwapUsage(ctx, user.ID, 0, user.UsageResetAt, 1, user.UsageResetAt)
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if ok {
		t.Fatal("expected stale swap to be refused")
	}
	reloaded, _ := store.UserByID(ctx, user.ID)
	if reloaded.UsageCount != 1 {
		t.Fatalf("expected usage 1, got %d", reloaded.UsageCount)
	}
}

func TestClaimNextPrefersPaidThenFIFO(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	free := testsupport.MustCreateUser(t, store, "free@example.com", queue.PlanFree)
	paid := testsupport.MustCreateUser(t, store, "paid@example.com", queue.PlanPaid)

	free1 := testsupport.MustCreateJob(t, store, free, "a.mp3")
	free2 := testsupport.MustCreateJob(t, store, free, "b.mp3")
	paid1 := testsupport.MustCreateJob(t, store, paid, "c.mp3")

	want := []int64{paid1.ID, free1.ID, free2.ID}
	for i, id := range want {
		job, err := store.ClaimNext(ctx, "worker-1", leaseUntil(), time.Time{})
		if err != nil {
			t.Fatalf("ClaimNext #%d: %v", i, err)
		}
		if job == nil || job.ID != id {
			t.Fatalf("claim #%d: expected job %d, got %+v", i, id, job)
		}
		if job.Status != queue.StatusProcessing || job.LeaseOwner != "worker-1" || job.Attempts != 1 {
			t.Fatalf("unexpected claimed job state: %+v", job)
		}
	}
	job, err := store.ClaimNext(ctx, "worker-1", leaseUntil(), time.Time{})
	if err != nil || job != nil {
		t.Fatalf("expected empty queue, got %+v (%v)", job, err)
	}
}

func TestClaimNextAgesFreeJobs(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	free := testsupport.MustCreateUser(t, store, "free@example.com", queue.PlanFree)
	paid := testsupport.MustCreateUser(t, store, "paid@example.com", queue.PlanPaid)

	oldFree := testsupport.MustCreateJob(t, store, free, "old.mp3")
	testsupport.MustCreateJob(t, store, paid, "new.mp3")

	job, err := store.ClaimNext(ctx, "worker-1", leaseUntil(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job == nil || job.ID != oldFree.ID {
		t.Fatalf("expected aged free job %d first, got %+v", oldFree.ID, job)
	}
}

func TestHeartbeatAndReclaim(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	user := testsupport.MustCreateUser(t, store, "u@example.com", queue.PlanFree)
	created := testsupport.MustCreateJob(t, store, user, "a.wav")

	expired := time.Now().Add(-time.Second)
	job, err := store.ClaimNext(ctx, "worker-a", expired, time.Time{})
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: %v (%v)", job, err)
	}

	result, err := store.ReclaimExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if result.Released != 1 || len(result.Cancelled) != 0 {
		t.Fatalf("unexpected reclaim result: %+v", result)
	}

	if _, err := store.Heartbeat(ctx, created.ID, "worker-a", leaseUntil()); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for stale worker, got %v", err)
	}

	reclaimed, err := store.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reclaimed.Status != queue.StatusProcessing || reclaimed.LeaseOwner != "" {
		t.Fatalf("reclaimed job must stay processing without owner: %+v", reclaimed)
	}

	again, err := store.ClaimNext(ctx, "worker-b", leaseUntil(), time.Time{})
	if err != nil || again == nil || again.ID != created.ID {
		t.Fatalf("expected worker-b to claim reclaimed job: %+v (%v)", again, err)
	}
	if again.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", again.Attempts)
	}
	cancel, err := store.Heartbeat(ctx, created.ID, "worker-b", leaseUntil())
	if err != nil || cancel {
		t.Fatalf("Heartbeat: cancel=%v err=%v", cancel, err)
	}
	if err := store.Fail(ctx, created.ID, "worker-a", "transcribe", "boom"); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected stale worker fail to be refused, got %v", err)
	}
}

func TestCompletePersistsSealedSegments(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithEncryptionKey(key)))
	ctx := context.Background()
	user := testsupport.MustCreateUser(t, store, "u@example.com", queue.PlanFree)
	created := testsupport.MustCreateJob(t, store, user, "talk.m4a")

	if _, err := store.ClaimNext(ctx, "w", leaseUntil(), time.Time{}); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.UpdateProgress(ctx, created.ID, "w", "transcribe", 150); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	progressing, _ := store.GetJob(ctx, created.ID)
	if progressing.ProgressStage != "transcribe" || progressing.ProgressPercent != 100 {
		t.Fatalf("unexpected progress: %+v", progressing)
	}
	if err := store.RecordDetectedLanguage(ctx, created.ID, "w", "fr"); err != nil {
		t.Fatalf("RecordDetectedLanguage: %v", err)
	}

	segments := []queue.Segment{
		{Index: 0, StartMS: 0, EndMS: 1200, Text: "bonjour"},
		{Index: 1, Speaker: "SPEAKER_01", StartMS: 1200, EndMS: 2500, Text: "salut"},
	}
	if err := store.Complete(ctx, created.ID, "w", segments); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	job, _ := store.GetJob(ctx, created.ID)
	if job.Status != queue.StatusCompleted || job.LeaseOwner != "" || job.DetectedLanguage != "fr" {
		t.Fatalf("unexpected completed job: %+v", job)
	}
	got, err := store.Segments(ctx, created.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(got) != 2 || got[0].Text != "bonjour" || got[1].Speaker != "SPEAKER_01" || got[1].Text != "salut" {
		t.Fatalf("unexpected segments: %+v", got)
	}
	count, err := store.SegmentCount(ctx, created.ID)
	if err != nil || count != 2 {
		t.Fatalf("SegmentCount = %d (%v)", count, err)
	}

	err = store.Fail(ctx, created.ID, "w", "translate", "late failure")
	var transition *queue.TransitionError
	if !errors.As(err, &transition) || transition.From != queue.StatusCompleted {
		t.Fatalf("expected TransitionError from completed, got %v", err)
	}
}

func TestFailRecordsStage(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	user := testsupport.MustCreateUser(t, store, "u@example.com", queue.PlanFree)
	created := testsupport.MustCreateJob(t, store, user, "a.flac")
	if _, err := store.ClaimNext(ctx, "w", leaseUntil(), time.Time{}); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.Fail(ctx, created.ID, "w", "diarize", "diarize: engine rejected input"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	job, _ := store.GetJob(ctx, created.ID)
	if job.Status != queue.StatusFailed || job.FailedStage != "diarize" || job.Error == "" {
		t.Fatalf("unexpected failed job: %+v", job)
	}
}

func TestRequestCancelQueuedAndProcessing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	owner := testsupport.MustCreateUser(t, store, "owner@example.com", queue.PlanFree)
	other := testsupport.MustCreateUser(t, store, "other@example.com", queue.PlanFree)

	running := testsupport.MustCreateJob(t, store, owner, "first.mp3")
	waiting := testsupport.MustCreateJob(t, store, owner, "second.mp3")
	if _, err := store.ClaimNext(ctx, "w", leaseUntil(), time.Time{}); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if job, err := store.RequestCancel(ctx, waiting.ID, other.ID, time.Now()); err != nil || job != nil {
		t.Fatalf("foreign cancel must be invisible: %+v (%v)", job, err)
	}

	cancelled, err := store.RequestCancel(ctx, waiting.ID, owner.ID, time.Now())
	if err != nil {
		t.Fatalf("RequestCancel queued: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled || !cancelled.IsDeleted() {
		t.Fatalf("queued job should be cancelled immediately: %+v", cancelled)
	}

	pending, err := store.RequestCancel(ctx, running.ID, owner.ID, time.Now())
	if err != nil {
		t.Fatalf("RequestCancel processing: %v", err)
	}
	if pending.Status != queue.StatusProcessing || !pending.CancelRequested {
		t.Fatalf("processing job should await its worker: %+v", pending)
	}
	if visible, _ := store.JobForOwner(ctx, running.ID, owner.ID); visible != nil {
		t.Fatal("deleted job must be hidden from its owner")
	}

	cancel, err := store.Heartbeat(ctx, running.ID, "w", leaseUntil())
	if err != nil || !cancel {
		t.Fatalf("expected heartbeat to report cancellation: %v %v", cancel, err)
	}
	if err := store.Complete(ctx, running.ID, "w", nil); !errors.Is(err, queue.ErrCancelRequested) {
		t.Fatalf("expected Complete to refuse, got %v", err)
	}
	if err := store.Cancel(ctx, running.ID, "w"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	final, _ := store.GetJob(ctx, running.ID)
	if final.Status != queue.StatusCancelled || final.LeaseOwner != "" {
		t.Fatalf("unexpected final job: %+v", final)
	}

	if again, err := store.RequestCancel(ctx, running.ID, owner.ID, time.Now()); err != nil || again != nil {
		t.Fatalf("second delete should report absent: %+v (%v)", again, err)
	}
}

func TestReclaimCancelsAbandonedDeletes(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	owner := testsupport.MustCreateUser(t, store, "owner@example.com", queue.PlanFree)
	job := testsupport.MustCreateJob(t, store, owner, "a.mp3")

	if _, err := store.ClaimNext(ctx, "ghost", time.Now().Add(-time.Second), time.Time{}); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if _, err := store.RequestCancel(ctx, job.ID, owner.ID, time.Now()); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	result, err := store.ReclaimExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if len(result.Cancelled) != 1 || result.Cancelled[0] != job.ID {
		t.Fatalf("expected job to be cancelled by reclaim: %+v", result)
	}
}

func TestArtifactsAreImmutableAndPurged(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	owner := testsupport.MustCreateUser(t, store, "owner@example.com", queue.PlanFree)
	created := testsupport.MustCreateJob(t, store, owner, "a.mp3")

	if _, inserted, err := store.PutArtifact(ctx, queue.Artifact{JobID: created.ID, Format: "txt", BlobKey: "k0", ContentType: "text/plain"}); err != nil || inserted {
		t.Fatalf("artifact for unfinished job must not be cached: inserted=%v err=%v", inserted, err)
	}

	if _, err := store.ClaimNext(ctx, "w", leaseUntil(), time.Time{}); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := store.Complete(ctx, created.ID, "w", []queue.Segment{{Index: 0, StartMS: 0, EndMS: 10, Text: "hi"}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	first, inserted, err := store.PutArtifact(ctx, queue.Artifact{JobID: created.ID, Format: "txt", BlobKey: "k1", ContentType: "text/plain", SizeBytes: 3, SHA256: "a"})
	if err != nil || !inserted || first.BlobKey != "k1" {
		t.Fatalf("first PutArtifact: %+v inserted=%v err=%v", first, inserted, err)
	}
	second, inserted, err := store.PutArtifact(ctx, queue.Artifact{JobID: created.ID, Format: "txt", BlobKey: "k2", ContentType: "text/plain", SizeBytes: 3, SHA256: "b"})
	if err != nil || inserted || second.BlobKey != "k1" {
		t.Fatalf("second PutArtifact must keep the first: %+v inserted=%v err=%v", second, inserted, err)
	}

	if _, err := store.RequestCancel(ctx, created.ID, owner.ID, time.Now()); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	keys, err := store.PurgeJobData(ctx, created.ID)
	if err != nil {
		t.Fatalf("PurgeJobData: %v", err)
	}
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != created.SourceKey {
		t.Fatalf("unexpected purge keys: %v", keys)
	}
	if count, _ := store.SegmentCount(ctx, created.ID); count != 0 {
		t.Fatalf("expected segments removed, got %d", count)
	}

	removed, err := store.PurgeDeleted(ctx, time.Now().Add(time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("PurgeDeleted = %d (%v)", removed, err)
	}
	if job, _ := store.GetJob(ctx, created.ID); job != nil {
		t.Fatalf("expected tombstone removed, got %+v", job)
	}
}

func TestHealthSplitsQueueByTier(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	free := testsupport.MustCreateUser(t, store, "free@example.com", queue.PlanFree)
	paid := testsupport.MustCreateUser(t, store, "paid@example.com", queue.PlanPaid)
	testsupport.MustCreateJob(t, store, free, "a.mp3")
	testsupport.MustCreateJob(t, store, free, "b.mp3")
	testsupport.MustCreateJob(t, store, paid, "c.mp3")

	health, err := store.Health(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Queued != 3 || health.QueuedPaid != 1 || health.QueuedFree != 2 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestListJobsScopesOwner(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	a := testsupport.MustCreateUser(t, store, "a@example.com", queue.PlanFree)
	b := testsupport.MustCreateUser(t, store, "b@example.com", queue.PlanFree)
	testsupport.MustCreateJob(t, store, a, "1.mp3")
	latest := testsupport.MustCreateJob(t, store, a, "2.mp3")
	testsupport.MustCreateJob(t, store, b, "3.mp3")

	jobs, err := store.ListJobs(ctx, queue.JobFilter{OwnerID: a.ID})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != latest.ID {
		t.Fatalf("expected owner's jobs newest first, got %d jobs", len(jobs))
	}
	for _, job := range jobs {
		if job.OwnerID != a.ID {
			t.Fatalf("foreign job leaked: %+v", job)
		}
	}
}
