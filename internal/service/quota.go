// Package service contains the store adapters the quota engine reads from
// and writes to, backed by Postgres (via the repository queries) or Redis.
//
// This file implements the Postgres daily usage store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxIncrementAttempts bounds retries of the upsert on serialization
// failures and deadlocks.
const maxIncrementAttempts = 3

// PostgresQuotaStore keeps one row per user per calendar day in
// message_usage. The increment is a single upsert so concurrent sends from
// any number of devices are serialized by the row lock.
type PostgresQuotaStore struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewPostgresQuotaStore creates a Postgres-backed usage store.
func NewPostgresQuotaStore(queries *repository.Queries, logger *slog.Logger) *PostgresQuotaStore {
	return &PostgresQuotaStore{
		queries: queries,
		logger:  logger,
	}
}

// GetUsage returns the user's count for day and their per-user limit
// override, if any. A Limit of zero means the configured default applies.
func (s *PostgresQuotaStore) GetUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (domain.Usage, error) {
	const op = "usage.get"

	date, err := dayToDate(day)
	if err != nil {
		return domain.Usage{}, domain.Invalid(op, err.Error())
	}

	row, err := s.queries.GetDailyUsage(ctx, repository.GetDailyUsageParams{
		UserID: userID,
		Day:    date,
	})
	if err != nil {
		if isNoRows(err) {
			return domain.Usage{}, domain.NotFound(op, "user", userID.String())
		}
		return domain.Usage{}, domain.Internal(err, op, "failed to read daily usage")
	}

	usage := domain.Usage{Used: int(row.MessagesUsed)}
	if row.DailyMessageLimit.Valid {
		usage.Limit = int(row.DailyMessageLimit.Int32)
	}
	return usage, nil
}

// IncrementUsage adds one to the user's count for day and returns the new value.
func (s *PostgresQuotaStore) IncrementUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (int, error) {
	const op = "usage.increment"

	date, err := dayToDate(day)
	if err != nil {
		return 0, domain.Invalid(op, err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= maxIncrementAttempts; attempt++ {
		count, err := s.queries.IncrementDailyUsage(ctx, repository.IncrementDailyUsageParams{
			UserID: userID,
			Day:    date,
		})
		if err == nil {
			return int(count), nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
		s.logger.Warn("retrying usage increment",
			"user_id", userID,
			"day", day,
			"attempt", attempt,
			"error", err,
		)
	}

	return 0, domain.Internal(lastErr, op, "failed to increment daily usage")
}

// PurgeBefore deletes usage rows for days strictly before cutoff.
func (s *PostgresQuotaStore) PurgeBefore(ctx context.Context, cutoff domain.Day) (int64, error) {
	const op = "usage.purge"

	date, err := dayToDate(cutoff)
	if err != nil {
		return 0, domain.Invalid(op, err.Error())
	}

	n, err := s.queries.PurgeUsageBefore(ctx, date)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to purge usage rows")
	}
	return n, nil
}

// dayToDate converts a calendar day to the midnight-UTC value bound to a
// DATE column.
func dayToDate(day domain.Day) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, string(day))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q", day)
	}
	return t, nil
}

// isRetryable reports whether err is a Postgres serialization failure or
// deadlock, both of which are safe to retry for a single-statement upsert.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	default:
		return false
	}
}
