package entitlement_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/entitlement"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/testsupport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T) (*entitlement.Ledger, *queue.Store, *clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	clk := &clock{now: time.Now().Add(time.Minute)}
	return entitlement.New(cfg, store, logging.NewNop(), entitlement.WithClock(clk.Now)), store, clk
}

func admitAndCommit(t *testing.T, ledger *entitlement.Ledger, userID int64) error {
	t.Helper()
	ticket, err := ledger.Admit(context.Background(), userID)
	if err != nil {
		return err
	}
	return ticket.Commit(context.Background())
}

func TestFreeUserFourthAdmissionRejected(t *testing.T) {
	ledger, store, _ := newLedger(t)
	user := testsupport.MustCreateUser(t, store, "free@example.com", queue.PlanFree)

	for i := range 3 {
		if err := admitAndCommit(t, ledger, user.ID); err != nil {
			t.Fatalf("admission %d: %v", i+1, err)
		}
	}

	_, err := ledger.Admit(context.Background(), user.ID)
	if !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	var quotaErr *entitlement.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %T", err)
	}
	if quotaErr.Limit != 3 || quotaErr.Used != 3 || quotaErr.Remaining() != 0 {
		t.Fatalf("unexpected quota error: %+v", quotaErr)
	}

	reloaded, err := store.UserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if reloaded.UsageCount != 3 {
		t.Fatalf("denied admission changed usage to %d", reloaded.UsageCount)
	}
}

func TestPaidUserNeverRejected(t *testing.T) {
	ledger, store, _ := newLedger(t)
	user := testsupport.MustCreateUser(t, store, "paid@example.com", queue.PlanPaid)

	for i := range 10 {
		if err := admitAndCommit(t, ledger, user.ID); err != nil {
			t.Fatalf("paid admission %d: %v", i+1, err)
		}
	}
	usage, err := ledger.Usage(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.Remaining != nil || usage.Used != 0 {
		t.Fatalf("paid usage should be unlimited and uncharged: %+v", usage)
	}
}

func TestReleaseDoesNotCharge(t *testing.T) {
	ledger, store, _ := newLedger(t)
	user := testsupport.MustCreateUser(t, store, "release@example.com", queue.PlanFree)

	ticket, err := ledger.Admit(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	ticket.Release()
	ticket.Release()
	if err := ticket.Commit(context.Background()); err == nil {
		t.Fatal("expected commit after release to fail")
	}

	usage, err := ledger.Usage(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.Used != 0 || usage.Remaining == nil || *usage.Remaining != 3 {
		t.Fatalf("unexpected usage after release: %+v", usage)
	}
}

func TestWindowResetsOncePerWindow(t *testing.T) {
	ledger, store, clk := newLedger(t)
	user := testsupport.MustCreateUser(t, store, "window@example.com", queue.PlanFree)
	ctx := context.Background()

	for range 3 {
		if err := admitAndCommit(t, ledger, user.ID); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	first, err := ledger.Usage(ctx, user.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}

	clk.Advance(23 * time.Hour)
	if _, err := ledger.Admit(ctx, user.ID); !errors.Is(err, services.ErrQuotaExceeded) {
		t.Fatalf("expected denial inside window, got %v", err)
	}

	clk.Advance(2 * time.Hour)
	if err := admitAndCommit(t, ledger, user.ID); err != nil {
		t.Fatalf("admission after window: %v", err)
	}
	for range 5 {
		if _, err := ledger.Usage(ctx, user.ID); err != nil {
			t.Fatalf("Usage: %v", err)
		}
	}
	after, err := ledger.Usage(ctx, user.ID)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if after.Used != 1 {
		t.Fatalf("expected one charge in the new window, got %d", after.Used)
	}
	if !after.ResetAt.After(first.ResetAt) {
		t.Fatalf("reset time did not advance: %v -> %v", first.ResetAt, after.ResetAt)
	}
	if got := after.ResetAt.Sub(clk.Now()); got != 24*time.Hour {
		t.Fatalf("new window should be 24h from the reset, got %v", got)
	}
}

func TestConcurrentAdmissionsRespectLimit(t *testing.T) {
	ledger, store, _ := newLedger(t)
	user := testsupport.MustCreateUser(t, store, "race@example.com", queue.PlanFree)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		denied   atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := ledger.Admit(context.Background(), user.ID)
			if err != nil {
				if errors.Is(err, services.ErrQuotaExceeded) {
					denied.Add(1)
				}
				return
			}
			if err := ticket.Commit(context.Background()); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 3 || denied.Load() != 5 {
		t.Fatalf("admitted=%d denied=%d, want 3/5", admitted.Load(), denied.Load())
	}
}

func TestAdmitHonoursContextWhileLocked(t *testing.T) {
	ledger, store, _ := newLedger(t)
	user := testsupport.MustCreateUser(t, store, "ctx@example.com", queue.PlanFree)

	ticket, err := ledger.Admit(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	defer ticket.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ledger.Admit(ctx, user.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while user is locked, got %v", err)
	}
}
