package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/config"
	"scribe/internal/keylock"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/services"
)

// commitAttempts bounds compare-and-swap retries when another process
// touched the usage row between read and write.
const commitAttempts = 5

// QuotaError reports a free-plan admission denied by the daily limit.
type QuotaError struct {
	Limit   int
	Used    int
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d jobs used, resets at %s",
		e.Used, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// Is lets errors.Is match services.ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool {
	return target == services.ErrQuotaExceeded
}

// Remaining returns how many admissions are left in the current window.
func (e *QuotaError) Remaining() int {
	return max(e.Limit-e.Used, 0)
}

// Usage is a snapshot of a user's entitlement.
type Usage struct {
	Plan  queue.Plan
	Limit int
	Used  int
	// Remaining is nil for plans without a limit.
	Remaining *int
	ResetAt   time.Time
}

// Store is the slice of the job store the ledger reads and writes.
type Store interface {
	UserByID(ctx context.Context, id int64) (*queue.User, error)
	SwapUsage(ctx context.Context, userID int64, oldCount int, oldResetAt time.Time, newCount int, newResetAt time.Time) (bool, error)
}

// Ledger gates job admission on plan and daily usage. Each user has a single
// writer: a ticket holds the user's lock from Admit until Commit or Release,
// so two concurrent uploads cannot both take the last slot.
type Ledger struct {
	store  Store
	locks  *keylock.Map[int64]
	limit  int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a ledger from quota configuration.
func New(cfg *config.Config, store Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  keylock.New[int64](),
		limit:  cfg.Quota.FreeDailyJobs,
		window: cfg.Quota.QuotaWindow(),
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "entitlement"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the free-plan allowance per window.
func (l *Ledger) Limit() int {
	return l.limit
}

// Ticket is an admission that has not yet been charged.
type Ticket struct {
	ledger *Ledger
	user   queue.User
	unlock func()
	once   sync.Once
	done   bool
}

// User returns the account snapshot the ticket was admitted against.
func (t *Ticket) User() queue.User {
	return t.user
}

// Admit checks whether user may create one more job. On success the caller
// must call Commit once the job is durably stored, or Release if it is not.
func (l *Ledger) Admit(ctx context.Context, userID int64) (*Ticket, error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := l.refresh(ctx, userID)
	if err != nil {
		unlock()
		return nil, err
	}
	if user.Plan == queue.PlanFree && user.UsageCount >= l.limit {
		unlock()
		l.logger.Info("admission denied",
			logging.Int64(logging.FieldUserID, user.ID),
			logging.Int("used", user.UsageCount),
			logging.Int("limit", l.limit),
		)
		return nil, &QuotaError{Limit: l.limit, Used: user.UsageCount, ResetAt: user.UsageResetAt}
	}
	return &Ticket{ledger: l, user: *user, unlock: unlock}, nil
}

// Commit charges the admission. Paid users are not charged. Commit releases
// the ticket; calling it twice is an error.
func (t *Ticket) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("entitlement: ticket already settled")
	}
	defer t.Release()
	t.done = true
	if t.user.Plan != queue.PlanFree {
		return nil
	}
	return t.ledger.increment(ctx, t.user.ID)
}

// Release gives up the admission without charging it. Safe to call after
// Commit and more than once.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.done = true
		if t.unlock != nil {
			t.unlock()
		}
	})
}

// Usage returns the current entitlement for user, applying a lapsed window
// reset first.
func (l *Ledger) Usage(ctx context.Context, userID int64) (Usage, error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	defer unlock()
	user, err := l.refresh(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{Plan: user.Plan, Used: user.UsageCount, ResetAt: user.UsageResetAt}
	if user.Plan == queue.PlanFree {
		usage.Limit = l.limit
		remaining := max(l.limit-user.UsageCount, 0)
		usage.Remaining = &remaining
	}
	return usage, nil
}

// refresh loads the user and starts a new window when the old one lapsed.
// Callers hold the user's lock.
func (l *Ledger) refresh(ctx context.Context, userID int64) (*queue.User, error) {
	user, err := l.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, services.Wrap(services.ErrAuth, "entitlement", "admit", "account no longer exists", nil)
	}
	if user.Plan != queue.PlanFree {
		return user, nil
	}
	now := l.now()
	if now.Before(user.UsageResetAt) {
		return user, nil
	}
	next := now.Add(l.window)
	swapped, err := l.store.SwapUsage(ctx, user.ID, user.UsageCount, user.UsageResetAt, 0, next)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Another process reset or charged the row; take its view.
		return l.store.UserByID(ctx, userID)
	}
	l.logger.Debug("usage window reset",
		logging.Int64(logging.FieldUserID, user.ID),
		logging.String("reset_at", next.UTC().Format(time.RFC3339)),
	)
	user.UsageCount = 0
	user.UsageResetAt = next
	return user, nil
}

func (l *Ledger) increment(ctx context.Context, userID int64) error {
	for range commitAttempts {
		user, err := l.store.UserByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return services.Wrap(services.ErrNotFound, "entitlement", "commit", "account no longer exists", nil)
		}
		swapped, err := l.store.SwapUsage(ctx, user.ID, user.UsageCount, user.UsageResetAt, user.UsageCount+1, user.UsageResetAt)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return services.Wrap(services.ErrConflict, "entitlement", "commit", "usage row kept changing", nil)
}
