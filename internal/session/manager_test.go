package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/quota"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore serves all three facts from memory.
type memStore struct {
	mu       sync.Mutex
	counts   map[domain.Day]int
	premium  map[uuid.UUID]bool
	getCalls int
}

func newMemStore() *memStore {
	return &memStore{counts: make(map[domain.Day]int), premium: make(map[uuid.UUID]bool)}
}

func (s *memStore) GetUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (domain.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if err := ctx.Err(); err != nil {
		return domain.Usage{}, err
	}
	return domain.Usage{Used: s.counts[day]}, nil
}

func (s *memStore) IncrementUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[day]++
	return s.counts[day], nil
}

func (s *memStore) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionFact, error) {
	return nil, nil
}

func (s *memStore) GetProfile(ctx context.Context, userID uuid.UUID) (domain.ProfileFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ProfileFact{UserID: userID, Role: domain.RoleUser, IsPremium: s.premium[userID]}, nil
}

func (s *memStore) setPremium(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.premium[userID] = true
}

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *memStore, *clock) {
	t.Helper()
	store := newMemStore()
	clk := &clock{now: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Quota.ReconcileInterval = time.Hour

	m, err := NewManager(context.Background(),
		quota.Deps{Quota: store, Subscriptions: store, Profiles: store},
		cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(clk.Now),
	)
	require.NoError(t, err)
	t.Cleanup(m.CloseAll)
	return m, store, clk
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MailboxSize = 0

	_, err := NewManager(context.Background(), quota.Deps{}, cfg, slog.Default())
	assert.Error(t, err)
}

func TestManager_OpenLoadsAndStarts(t *testing.T) {
	m, _, _ := newTestManager(t)
	sessionID, userID := uuid.New(), uuid.New()

	s, err := m.Open(context.Background(), sessionID, userID, nil)

	require.NoError(t, err)
	assert.Equal(t, sessionID, s.ID)
	assert.Equal(t, userID, s.UserID)
	assert.Equal(t, time.UTC, s.Location)
	assert.Equal(t, quota.StateReady, s.Tracker.State())
	assert.True(t, s.Tracker.Reconciling())
	assert.True(t, s.Tracker.CheckCanSend())
	assert.Equal(t, 1, m.Len())
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t)
	sessionID, userID := uuid.New(), uuid.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Session, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Open(ctx, sessionID, userID, nil)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
		assert.Equal(t, quota.StateReady, s.Tracker.State())
	}
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, store.getCalls)
}

func TestManager_OpenSurvivesCanceledRequest(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := m.Open(ctx, uuid.New(), uuid.New(), nil)

	require.NoError(t, err)
	e, ok := s.Tracker.Entitlement()
	require.True(t, ok)
	assert.False(t, e.Degraded)
	assert.True(t, s.Tracker.CheckCanSend())
}

func TestManager_OpenRejectsOtherUser(t *testing.T) {
	m, _, _ := newTestManager(t)
	sessionID := uuid.New()
	ctx := context.Background()

	_, err := m.Open(ctx, sessionID, uuid.New(), nil)
	require.NoError(t, err)

	_, err = m.Open(ctx, sessionID, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrSessionOwner)
}

func TestManager_OpenWithoutIdentity(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Open(context.Background(), uuid.New(), uuid.Nil, nil)

	assert.True(t, domain.IsCode(err, domain.ENOIDENTITY))
	assert.Zero(t, m.Len())
}

func TestManager_CloseClearsTracker(t *testing.T) {
	m, _, _ := newTestManager(t)
	sessionID := uuid.New()

	s, err := m.Open(context.Background(), sessionID, uuid.New(), nil)
	require.NoError(t, err)

	assert.True(t, m.Close(sessionID))
	assert.False(t, m.Close(sessionID))

	assert.Equal(t, quota.StateCleared, s.Tracker.State())
	assert.False(t, s.Tracker.Reconciling())
	assert.False(t, s.Tracker.CheckCanSend())
	_, ok := m.Get(sessionID)
	assert.False(t, ok)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	userID := uuid.New()

	a, err := m.Open(ctx, uuid.New(), userID, nil)
	require.NoError(t, err)
	b, err := m.Open(ctx, uuid.New(), userID, nil)
	require.NoError(t, err)

	_, err = a.Tracker.IncrementUsage(ctx)
	require.NoError(t, err)

	ea, _ := a.Tracker.Entitlement()
	eb, _ := b.Tracker.Entitlement()
	assert.Equal(t, 1, ea.MessagesUsed)
	assert.Equal(t, 0, eb.MessagesUsed)

	// A refresh brings the second device up to date.
	assert.Equal(t, 2, m.RefreshUser(ctx, userID))
	eb, _ = b.Tracker.Entitlement()
	assert.Equal(t, 1, eb.MessagesUsed)
}

func TestManager_RefreshUserPicksUpPlanChange(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	userID := uuid.New()

	s, err := m.Open(ctx, uuid.New(), userID, nil)
	require.NoError(t, err)
	for i := 0; i < domain.DefaultDailyLimit; i++ {
		_, err := s.Tracker.IncrementUsage(ctx)
		require.NoError(t, err)
	}
	require.False(t, s.Tracker.CheckCanSend())

	store.setPremium(userID)
	assert.Equal(t, 1, m.RefreshUser(ctx, userID))
	assert.Zero(t, m.RefreshUser(ctx, uuid.New()))

	e, ok := s.Tracker.Entitlement()
	require.True(t, ok)
	assert.Equal(t, domain.PlanPremium, e.Plan)
	assert.True(t, e.CanSend)
}

func TestManager_EvictIdle(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	stale, err := m.Open(ctx, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)
	fresh, err := m.Open(ctx, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	clk.Advance(15 * time.Minute)
	_, ok := m.Get(fresh.ID)
	require.True(t, ok)

	evicted := m.EvictIdle(30 * time.Minute)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, quota.StateCleared, stale.Tracker.State())
	assert.Equal(t, quota.StateReady, fresh.Tracker.State())
}

func TestManager_NotificationsReachMailbox(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, uuid.New(), uuid.New(), time.FixedZone("CET", 3600))
	require.NoError(t, err)

	for i := 0; i < domain.DefaultDailyLimit; i++ {
		_, err := s.Tracker.IncrementUsage(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []domain.NotificationKind{
		domain.NotificationApproachingLimit,
		domain.NotificationLimitReached,
	}, s.Mailbox.Drain())
}

func TestManager_CloseAll(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := m.Open(ctx, uuid.New(), uuid.New(), nil)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	m.CloseAll()

	assert.Zero(t, m.Len())
	for _, s := range sessions {
		assert.Equal(t, quota.StateCleared, s.Tracker.State())
		assert.False(t, s.Tracker.Reconciling())
	}
}
