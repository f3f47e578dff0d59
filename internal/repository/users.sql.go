package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const getUserEntitlementProfile = `-- name: GetUserEntitlementProfile :one
SELECT id, role, is_premium, trial_ends_at
FROM users
WHERE id = $1
`

type GetUserEntitlementProfileRow struct {
	ID          uuid.UUID    `json:"id"`
	Role        string       `json:"role"`
	IsPremium   bool         `json:"is_premium"`
	TrialEndsAt sql.NullTime `json:"trial_ends_at"`
}

func (q *Queries) GetUserEntitlementProfile(ctx context.Context, id uuid.UUID) (GetUserEntitlementProfileRow, error) {
	row := q.db.QueryRowContext(ctx, getUserEntitlementProfile, id)
	var i GetUserEntitlementProfileRow
	err := row.Scan(
		&i.ID,
		&i.Role,
		&i.IsPremium,
		&i.TrialEndsAt,
	)
	return i, err
}

const getUserIDByStripeCustomer = `-- name: GetUserIDByStripeCustomer :one
SELECT id FROM users
WHERE stripe_customer_id = $1
`

func (q *Queries) GetUserIDByStripeCustomer(ctx context.Context, stripeCustomerID sql.NullString) (uuid.UUID, error) {
	row := q.db.QueryRowContext(ctx, getUserIDByStripeCustomer, stripeCustomerID)
	var id uuid.UUID
	err := row.Scan(&id)
	return id, err
}
