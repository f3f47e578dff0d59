package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Tracker owns the entitlement snapshot of one user session.
//
// Remote calls are made without holding the lock, so the UI may call
// IncrementUsage and FetchLimits from independent handlers at the same time.
// Snapshot replacement is last-write-wins by completion order, except that
// within one calendar day a fetch which started before a newer increment
// landed never lowers the count below that increment's value.
type Tracker struct {
	userID   uuid.UUID
	deps     Deps
	config   Config
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	snapshot   *domain.Snapshot
	inflight   int
	increments uint64
	notified   map[domain.NotificationKind]domain.Day

	reconciler *Reconciler
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocation sets the time zone that defines the user's calendar day.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithNotifier sets the sink for threshold events.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) {
		if n != nil {
			t.notifier = n
		}
	}
}

// NewTracker creates a tracker for userID in the uninitialized state.
// A zero userID yields a tracker that never performs I/O and never allows sends.
func NewTracker(userID uuid.UUID, deps Deps, config Config, logger *slog.Logger, opts ...Option) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Quota == nil || deps.Subscriptions == nil || deps.Profiles == nil {
		return nil, errors.New("quota, subscription and profile stores are required")
	}

	t := &Tracker{
		userID:   userID,
		deps:     deps,
		config:   config,
		notifier: MultiNotifier{},
		loc:      time.Local,
		now:      time.Now,
		notified: make(map[domain.NotificationKind]domain.Day),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logger.With("user_id", userID)
	t.reconciler = newReconciler(t, config.ReconcileInterval, t.logger)

	return t, nil
}

// UserID returns the identity this tracker was built for.
func (t *Tracker) UserID() uuid.UUID {
	return t.userID
}

// Location returns the time zone of the user's calendar day.
func (t *Tracker) Location() *time.Location {
	return t.loc
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Load moves an uninitialized tracker through loading to ready. It never
// fails: if any fact cannot be read the fail-closed fallback is applied.
// Calling Load on a tracker that already left the uninitialized state
// returns the current entitlement without I/O.
func (t *Tracker) Load(ctx context.Context) domain.Entitlement {
	if t.userID == uuid.Nil {
		return domain.Entitlement{}
	}

	t.mu.Lock()
	if t.state != StateUninitialized {
		e, _ := t.entitlementLocked()
		t.mu.Unlock()
		return e
	}
	t.state = StateLoading
	t.mu.Unlock()

	snap := t.fetch(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCleared {
		return domain.Entitlement{}
	}
	t.snapshot = &snap
	t.state = StateReady

	t.logger.Debug("entitlement loaded", "day", snap.Day, "used", snap.MessagesUsed, "degraded", snap.Degraded)
	return domain.Recompute(snap, t.now())
}

// FetchLimits re-runs the resolve-and-fetch sequence and replaces the
// snapshot. Safe to call concurrently with itself and with IncrementUsage.
// Outside ready/refreshing it returns the current view without I/O.
func (t *Tracker) FetchLimits(ctx context.Context) domain.Entitlement {
	t.mu.Lock()
	if t.userID == uuid.Nil || !t.state.Live() {
		e, _ := t.entitlementLocked()
		t.mu.Unlock()
		return e
	}
	t.inflight++
	t.state = StateRefreshing
	seen := t.increments
	t.mu.Unlock()

	snap := t.fetch(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--
	if t.state == StateCleared {
		return domain.Entitlement{}
	}
	t.replaceLocked(snap, seen)
	if t.inflight == 0 {
		t.state = StateReady
	}
	return domain.Recompute(*t.snapshot, t.now())
}

// CheckCanSend reports whether a send is allowed right now. It never
// performs I/O and is false until a snapshot exists.
func (t *Tracker) CheckCanSend() bool {
	e, ok := t.Entitlement()
	return ok && e.CanSend
}

// Entitlement returns the derived view of the current snapshot. The second
// value is false while loading, after Clear, or without an identity.
func (t *Tracker) Entitlement() (domain.Entitlement, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entitlementLocked()
}

// IncrementUsage debits one free message for today.
//
// Unlimited plans return the unchanged entitlement without touching the
// store. A free user with no allowance left gets EQUOTA and the store is not
// called. Otherwise the store's post-increment count becomes the snapshot's
// count. On store failure the snapshot is left as it was and EINCREMENT is
// returned; the caller must not treat the message as sent.
func (t *Tracker) IncrementUsage(ctx context.Context) (domain.Entitlement, error) {
	const op = "quota.increment"

	if t.userID == uuid.Nil {
		return domain.Entitlement{}, domain.NoIdentity(op)
	}

	// A snapshot from yesterday must not decide today's send.
	_, day := t.today()
	t.mu.Lock()
	stale := t.state.Live() && t.snapshot != nil && t.snapshot.Day != day
	t.mu.Unlock()
	if stale {
		t.FetchLimits(ctx)
	}

	t.mu.Lock()
	if !t.state.Live() || t.snapshot == nil {
		t.mu.Unlock()
		return domain.Entitlement{}, domain.Unavailable(op, "Entitlement is not loaded")
	}
	now := t.now()
	base := *t.snapshot
	current := domain.Recompute(base, now)
	t.mu.Unlock()

	if current.Plan.IsUnlimited() {
		metrics.SendDecision(metrics.OutcomeUnlimited)
		return current, nil
	}
	if !current.CanSend {
		metrics.SendDecision(metrics.OutcomeExhausted)
		return current, domain.QuotaExhausted(op, current.MessagesUsed, current.DailyLimit)
	}

	count, err := t.deps.Quota.IncrementUsage(ctx, t.userID, day)
	if err != nil {
		metrics.SendDecision(metrics.OutcomeFailed)
		t.logger.Error("usage increment failed", "error", err, "day", day)
		return current, domain.IncrementFailure(err, op)
	}
	metrics.SendDecision(metrics.OutcomeCounted)

	t.mu.Lock()
	if !t.state.Live() || t.snapshot == nil {
		// Logged out while the increment was in flight. The message was
		// debited, so report the count without touching tracker state.
		t.mu.Unlock()
		return domain.Recompute(applyCount(base, day, count), now), nil
	}
	if t.snapshot.Day > day {
		// A fetch for the next day finished while this increment was in
		// flight. The count belongs to a day that is already over.
		t.mu.Unlock()
		return domain.Recompute(applyCount(base, day, count), now), nil
	}

	prev := 0
	if t.snapshot.Day == day {
		prev = t.snapshot.MessagesUsed
	}
	next := applyCount(*t.snapshot, day, count)
	kinds := t.crossedLocked(prev, next.MessagesUsed, next.DailyLimit, day)
	t.snapshot = &next
	t.increments++
	e := domain.Recompute(next, now)
	t.mu.Unlock()

	for _, kind := range kinds {
		metrics.NotificationSurfaced(string(kind))
		t.notifier.Notify(kind)
	}

	return e, nil
}

// TimeUntilReset returns hours and minutes until the next local midnight.
func (t *Tracker) TimeUntilReset() domain.Countdown {
	return domain.TimeUntilReset(t.now().In(t.loc))
}

// Start launches background reconciliation bound to ctx. Calling Start on a
// cleared tracker does nothing.
func (t *Tracker) Start(ctx context.Context) {
	if t.State() == StateCleared {
		return
	}
	t.reconciler.Start(ctx)
}

// Reconciling reports whether the background loop is running.
func (t *Tracker) Reconciling() bool {
	return t.reconciler.Running()
}

// Clear tears the tracker down on logout: the snapshot is dropped, sends are
// refused, and the reconciler is stopped. Safe to call more than once.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.state = StateCleared
	t.snapshot = nil
	t.mu.Unlock()

	t.reconciler.Close()
}

// needsReconcile reports whether the user is a free user at the limit.
func (t *Tracker) needsReconcile() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReady || t.snapshot == nil {
		return false
	}
	e := domain.Recompute(*t.snapshot, t.now())
	return e.Plan == domain.PlanFree && !e.CanSend
}

func (t *Tracker) today() (time.Time, domain.Day) {
	now := t.now().In(t.loc)
	return now, domain.DayOf(now)
}

func (t *Tracker) entitlementLocked() (domain.Entitlement, bool) {
	if !t.state.Live() || t.snapshot == nil {
		return domain.Entitlement{}, false
	}
	return domain.Recompute(*t.snapshot, t.now()), true
}

// fetch reads profile, subscription and usage concurrently and merges them.
// Any failure yields the fail-closed fallback.
func (t *Tracker) fetch(ctx context.Context) domain.Snapshot {
	const op = "quota.fetch"

	start := time.Now()
	now, day := t.today()

	ctx, cancel := context.WithTimeout(ctx, t.config.FetchTimeout)
	defer cancel()

	var (
		profile domain.ProfileFact
		sub     *domain.SubscriptionFact
		usage   domain.Usage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := t.deps.Profiles.GetProfile(gctx, t.userID)
		if err != nil {
			return domain.FetchFailure(err, op, "profile")
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		s, err := t.deps.Subscriptions.GetSubscription(gctx, t.userID)
		if err != nil {
			return domain.FetchFailure(err, op, "subscription")
		}
		sub = s
		return nil
	})
	g.Go(func() error {
		u, err := t.deps.Quota.GetUsage(gctx, t.userID, day)
		if err != nil {
			return domain.FetchFailure(err, op, "usage")
		}
		usage = u
		return nil
	})

	if err := g.Wait(); err != nil {
		t.logger.Warn("entitlement fetch failed, applying fail-closed fallback", "error", err)
		metrics.EntitlementFetched(true, time.Since(start))
		return domain.FallbackSnapshot(t.config.DailyLimit, day, now)
	}
	metrics.EntitlementFetched(false, time.Since(start))

	limit := usage.Limit
	if limit < 1 {
		limit = t.config.DailyLimit
	}
	used := usage.Used
	if used < 0 {
		used = 0
	}

	return domain.Snapshot{
		Profile:      profile,
		Subscription: sub,
		MessagesUsed: used,
		DailyLimit:   limit,
		Day:          day,
		FetchedAt:    now,
	}
}

// replaceLocked installs a fetched snapshot. If an increment landed after the
// fetch started, the fetched count may predate it; within the same day the
// higher authoritative count is kept.
func (t *Tracker) replaceLocked(snap domain.Snapshot, seen uint64) {
	cur := t.snapshot
	if cur != nil && !cur.Degraded && !snap.Degraded &&
		t.increments != seen && cur.Day == snap.Day && cur.MessagesUsed > snap.MessagesUsed {
		snap.MessagesUsed = cur.MessagesUsed
	}
	t.snapshot = &snap
}

// crossedLocked returns the threshold events crossed going from prev to next.
// Each kind fires at most once per day. The warning band is [limit-1, limit),
// so a jump caused by another device still warns unless it lands on the limit.
func (t *Tracker) crossedLocked(prev, next, limit int, day domain.Day) []domain.NotificationKind {
	var kinds []domain.NotificationKind

	warnAt := limit - 1
	if warnAt > 0 && prev < warnAt && next >= warnAt && next < limit {
		kinds = t.markLocked(kinds, domain.NotificationApproachingLimit, day)
	}
	if prev < limit && next >= limit {
		kinds = t.markLocked(kinds, domain.NotificationLimitReached, day)
	}
	return kinds
}

func (t *Tracker) markLocked(kinds []domain.NotificationKind, kind domain.NotificationKind, day domain.Day) []domain.NotificationKind {
	if t.notified[kind] == day {
		return kinds
	}
	t.notified[kind] = day
	return append(kinds, kind)
}

// applyCount merges an authoritative post-increment count into s. Counts for
// the same day only move forward; a new day starts from the returned count.
func applyCount(s domain.Snapshot, day domain.Day, count int) domain.Snapshot {
	if s.Day != day {
		s.Day = day
		s.MessagesUsed = 0
	}
	if count > s.MessagesUsed {
		s.MessagesUsed = count
	}
	return s
}
