package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const getLatestSubscriptionByUser = `-- name: GetLatestSubscriptionByUser :one
SELECT id, user_id, price_id, status, product_name, product_interval, current_period_end, created_at, updated_at
FROM subscriptions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetLatestSubscriptionByUser(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getLatestSubscriptionByUser, userID)
	var i Subscription
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.PriceID,
		&i.Status,
		&i.ProductName,
		&i.ProductInterval,
		&i.CurrentPeriodEnd,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertSubscription = `-- name: UpsertSubscription :exec
INSERT INTO subscriptions (id, user_id, price_id, status, product_name, product_interval, current_period_end)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET price_id = EXCLUDED.price_id,
    status = EXCLUDED.status,
    product_name = EXCLUDED.product_name,
    product_interval = EXCLUDED.product_interval,
    current_period_end = EXCLUDED.current_period_end,
    updated_at = NOW()
`

type UpsertSubscriptionParams struct {
	ID               string       `json:"id"`
	UserID           uuid.UUID    `json:"user_id"`
	PriceID          string       `json:"price_id"`
	Status           string       `json:"status"`
	ProductName      string       `json:"product_name"`
	ProductInterval  string       `json:"product_interval"`
	CurrentPeriodEnd sql.NullTime `json:"current_period_end"`
}

func (q *Queries) UpsertSubscription(ctx context.Context, arg UpsertSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, upsertSubscription,
		arg.ID,
		arg.UserID,
		arg.PriceID,
		arg.Status,
		arg.ProductName,
		arg.ProductInterval,
		arg.CurrentPeriodEnd,
	)
	return err
}
