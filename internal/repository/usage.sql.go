package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const getDailyUsage = `-- name: GetDailyUsage :one
SELECT u.daily_message_limit,
       COALESCE(mu.messages_used, 0)::integer AS messages_used
FROM users u
LEFT JOIN message_usage mu ON mu.user_id = u.id AND mu.day = $2
WHERE u.id = $1
`

type GetDailyUsageParams struct {
	UserID uuid.UUID `json:"user_id"`
	Day    time.Time `json:"day"`
}

type GetDailyUsageRow struct {
	DailyMessageLimit sql.NullInt32 `json:"daily_message_limit"`
	MessagesUsed      int32         `json:"messages_used"`
}

func (q *Queries) GetDailyUsage(ctx context.Context, arg GetDailyUsageParams) (GetDailyUsageRow, error) {
	row := q.db.QueryRowContext(ctx, getDailyUsage, arg.UserID, arg.Day)
	var i GetDailyUsageRow
	err := row.Scan(&i.DailyMessageLimit, &i.MessagesUsed)
	return i, err
}

const incrementDailyUsage = `-- name: IncrementDailyUsage :one
INSERT INTO message_usage (user_id, day, messages_used)
VALUES ($1, $2, 1)
ON CONFLICT (user_id, day) DO UPDATE
SET messages_used = message_usage.messages_used + 1,
    updated_at = NOW()
RETURNING messages_used
`

type IncrementDailyUsageParams struct {
	UserID uuid.UUID `json:"user_id"`
	Day    time.Time `json:"day"`
}

func (q *Queries) IncrementDailyUsage(ctx context.Context, arg IncrementDailyUsageParams) (int32, error) {
	row := q.db.QueryRowContext(ctx, incrementDailyUsage, arg.UserID, arg.Day)
	var messages_used int32
	err := row.Scan(&messages_used)
	return messages_used, err
}

const purgeUsageBefore = `-- name: PurgeUsageBefore :execrows
DELETE FROM message_usage
WHERE day < $1
`

func (q *Queries) PurgeUsageBefore(ctx context.Context, day time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, purgeUsageBefore, day)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
