package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type MessageUsage struct {
	UserID       uuid.UUID `json:"user_id"`
	Day          time.Time `json:"day"`
	MessagesUsed int32     `json:"messages_used"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Subscription struct {
	ID               string       `json:"id"`
	UserID           uuid.UUID    `json:"user_id"`
	PriceID          string       `json:"price_id"`
	Status           string       `json:"status"`
	ProductName      string       `json:"product_name"`
	ProductInterval  string       `json:"product_interval"`
	CurrentPeriodEnd sql.NullTime `json:"current_period_end"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type User struct {
	ID                uuid.UUID      `json:"id"`
	Email             string         `json:"email"`
	Role              string         `json:"role"`
	IsPremium         bool           `json:"is_premium"`
	TrialEndsAt       sql.NullTime   `json:"trial_ends_at"`
	DailyMessageLimit sql.NullInt32  `json:"daily_message_limit"`
	Timezone          string         `json:"timezone"`
	StripeCustomerID  sql.NullString `json:"stripe_customer_id"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
