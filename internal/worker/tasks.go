package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
)

// Task names, used as metric labels.
const (
	TaskUsageRetention = "usage_retention"
	TaskSessionEvict   = "session_evict"
	TaskSessionPurge   = "session_purge"
)

// UsagePurger deletes daily usage rows older than a cutoff day.
type UsagePurger interface {
	PurgeBefore(ctx context.Context, cutoff domain.Day) (int64, error)
}

// UsageRetentionTask deletes usage counters past the retention window.
type UsageRetentionTask struct {
	purger    UsagePurger
	retention int
	logger    *slog.Logger
	now       func() time.Time
}

// NewUsageRetentionTask keeps retentionDays of usage. Days are reckoned in
// UTC, so keep at least two to cover every time zone's "today".
func NewUsageRetentionTask(purger UsagePurger, retentionDays int, logger *slog.Logger) *UsageRetentionTask {
	return &UsageRetentionTask{
		purger:    purger,
		retention: retentionDays,
		logger:    logger,
		now:       time.Now,
	}
}

func (t *UsageRetentionTask) Name() string { return TaskUsageRetention }

func (t *UsageRetentionTask) Run(ctx context.Context) error {
	if t.retention < 2 {
		return NewPermanentError(fmt.Errorf("usage retention must be at least 2 days, got %d", t.retention))
	}

	cutoff := domain.DayOf(t.now().UTC().AddDate(0, 0, -t.retention))
	n, err := t.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge usage before %s: %w", cutoff, err)
	}
	if n > 0 {
		t.logger.Info("purged usage rows", "cutoff", cutoff, "rows", n)
	}
	return nil
}

// SessionEvictor closes sessions idle for longer than a duration.
type SessionEvictor interface {
	EvictIdle(maxIdle time.Duration) int
}

// SessionEvictionTask clears idle trackers and stops their reconcilers.
type SessionEvictionTask struct {
	sessions SessionEvictor
	maxIdle  time.Duration
	logger   *slog.Logger
}

// NewSessionEvictionTask creates a task evicting sessions idle past maxIdle.
func NewSessionEvictionTask(sessions SessionEvictor, maxIdle time.Duration, logger *slog.Logger) *SessionEvictionTask {
	return &SessionEvictionTask{
		sessions: sessions,
		maxIdle:  maxIdle,
		logger:   logger,
	}
}

func (t *SessionEvictionTask) Name() string { return TaskSessionEvict }

func (t *SessionEvictionTask) Run(ctx context.Context) error {
	if n := t.sessions.EvictIdle(t.maxIdle); n > 0 {
		t.logger.Info("evicted idle sessions", "count", n, "max_idle", t.maxIdle)
	}
	return nil
}

// ExpiredTokenPurger deletes session tokens past their expiry.
type ExpiredTokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ExpiredSessionPurgeTask removes expired session tokens.
type ExpiredSessionPurgeTask struct {
	purger ExpiredTokenPurger
	logger *slog.Logger
}

// NewExpiredSessionPurgeTask creates the expired-token purge task.
func NewExpiredSessionPurgeTask(purger ExpiredTokenPurger, logger *slog.Logger) *ExpiredSessionPurgeTask {
	return &ExpiredSessionPurgeTask{purger: purger, logger: logger}
}

func (t *ExpiredSessionPurgeTask) Name() string { return TaskSessionPurge }

func (t *ExpiredSessionPurgeTask) Run(ctx context.Context) error {
	n, err := t.purger.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge expired sessions: %w", err)
	}
	if n > 0 {
		t.logger.Info("purged expired sessions", "count", n)
	}
	return nil
}
