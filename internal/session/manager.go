// Package session keeps the live entitlement trackers of signed-in users.
// Each session owns one quota.Tracker and one notification mailbox; there
// is no process-wide tracker.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/metrics"
	"github.com/DukeRupert/parley/internal/quota"
	"github.com/google/uuid"
)

// Config holds session registry settings.
type Config struct {
	Quota quota.Config

	// MailboxSize bounds undelivered notifications per session.
	// Default: quota.DefaultMailboxSize
	MailboxSize int

	// DefaultLocation is used when a session is opened without a time zone.
	// Default: UTC
	DefaultLocation *time.Location
}

// DefaultConfig returns registry defaults.
func DefaultConfig() Config {
	return Config{
		Quota:           quota.DefaultConfig(),
		MailboxSize:     quota.DefaultMailboxSize,
		DefaultLocation: time.UTC,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if err := c.Quota.Validate(); err != nil {
		return err
	}
	if c.MailboxSize < 1 {
		return fmt.Errorf("mailbox size must be at least 1, got %d", c.MailboxSize)
	}
	return nil
}

// Session is one signed-in client.
type Session struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Location *time.Location
	Tracker  *quota.Tracker
	Mailbox  *quota.Mailbox

	loaded chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
}

// ErrSessionOwner is returned when a session ID is reopened for a different user.
var ErrSessionOwner = errors.New("session belongs to another user")

// Manager is the registry of live sessions.
type Manager struct {
	ctx    context.Context
	deps   quota.Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for the manager and its trackers.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a registry. Reconcilers of opened sessions run under
// ctx, so cancelling it stops all of them.
func NewManager(ctx context.Context, deps quota.Deps, cfg Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	m := &Manager{
		ctx:      ctx,
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open returns the live session for sessionID, creating, loading and
// starting its tracker on first use. Concurrent opens of the same session
// share one tracker and all wait for its first load.
func (m *Manager) Open(ctx context.Context, sessionID, userID uuid.UUID, loc *time.Location) (*Session, error) {
	const op = "session.open"

	if userID == uuid.Nil {
		return nil, domain.NoIdentity(op)
	}
	if loc == nil {
		loc = m.cfg.DefaultLocation
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		m.mu.Unlock()
		if s.UserID != userID {
			return nil, ErrSessionOwner
		}
		s.touch(m.now())
		select {
		case <-s.loaded:
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	mailbox := quota.NewMailbox(m.cfg.MailboxSize)
	logger := m.logger.With("session_id", sessionID)
	tracker, err := quota.NewTracker(userID, m.deps, m.cfg.Quota, logger,
		quota.WithLocation(loc),
		quota.WithClock(m.now),
		quota.WithNotifier(quota.MultiNotifier{mailbox, quota.LogNotifier{Logger: logger}}),
	)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	s = &Session{
		ID:       sessionID,
		UserID:   userID,
		Location: loc,
		Tracker:  tracker,
		Mailbox:  mailbox,
		loaded:   make(chan struct{}),
		lastSeen: m.now(),
	}
	m.sessions[sessionID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))

	// Other requests for this session wait on the load, so it must not
	// fail because the first client went away.
	tracker.Load(context.WithoutCancel(ctx))
	tracker.Start(m.ctx)
	close(s.loaded)

	m.logger.Info("session opened", "session_id", sessionID, "user_id", userID, "location", loc.String())
	return s, nil
}

// Get returns a live session and marks it used.
func (m *Manager) Get(sessionID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.touch(m.now())
	return s, true
}

// Close removes a session and clears its tracker. Closing an unknown
// session reports false.
func (m *Manager) Close(sessionID uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	metrics.ActiveSessions.Set(float64(count))
	s.Tracker.Clear()

	m.logger.Info("session closed", "session_id", sessionID, "user_id", s.UserID)
	return true
}

// RefreshUser re-fetches the entitlement of every live session of userID,
// for example after a subscription change. It returns the number of
// sessions refreshed.
func (m *Manager) RefreshUser(ctx context.Context, userID uuid.UUID) int {
	m.mu.Lock()
	var targets []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.Tracker.FetchLimits(ctx)
	}
	if len(targets) > 0 {
		m.logger.Debug("refreshed user sessions", "user_id", userID, "sessions", len(targets))
	}
	return len(targets)
}

// EvictIdle closes sessions not used for longer than maxIdle and returns
// how many were closed.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var idle []uuid.UUID
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, id := range idle {
		if m.Close(id) {
			evicted++
		}
	}
	return evicted
}

// CloseAll clears every session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Tracker.Clear()
	}
	metrics.ActiveSessions.Set(0)

	if len(all) > 0 {
		m.logger.Info("closed all sessions", "count", len(all))
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
