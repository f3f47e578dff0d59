package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/repository"
	"github.com/google/uuid"
)

// SubscriptionStore persists payment-provider subscription facts and serves
// the latest one per user.
type SubscriptionStore struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewSubscriptionStore creates a Postgres-backed subscription store.
func NewSubscriptionStore(queries *repository.Queries, logger *slog.Logger) *SubscriptionStore {
	return &SubscriptionStore{
		queries: queries,
		logger:  logger,
	}
}

// GetSubscription returns the user's most recently created subscription, or
// nil if they never had one.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionFact, error) {
	const op = "subscription.get"

	row, err := s.queries.GetLatestSubscriptionByUser(ctx, userID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, domain.Internal(err, op, "failed to read subscription")
	}

	return subscriptionToDomain(row), nil
}

// SaveSubscription inserts or updates a subscription record for userID.
func (s *SubscriptionStore) SaveSubscription(ctx context.Context, userID uuid.UUID, fact domain.SubscriptionFact, periodEnd *time.Time) error {
	const op = "subscription.save"

	if fact.ID == "" {
		return domain.Invalid(op, "subscription ID is required")
	}

	var end sql.NullTime
	if periodEnd != nil {
		end = sql.NullTime{Time: *periodEnd, Valid: true}
	}

	err := s.queries.UpsertSubscription(ctx, repository.UpsertSubscriptionParams{
		ID:               fact.ID,
		UserID:           userID,
		PriceID:          fact.PriceID,
		Status:           string(fact.Status),
		ProductName:      fact.Product.Name,
		ProductInterval:  fact.Product.Interval,
		CurrentPeriodEnd: end,
	})
	if err != nil {
		return domain.Internal(err, op, "failed to save subscription")
	}

	s.logger.Info("subscription saved",
		"user_id", userID,
		"subscription_id", fact.ID,
		"status", fact.Status,
	)
	return nil
}

// UserIDForCustomer maps a Stripe customer ID to the owning user.
func (s *SubscriptionStore) UserIDForCustomer(ctx context.Context, customerID string) (uuid.UUID, error) {
	const op = "subscription.user_for_customer"

	id, err := s.queries.GetUserIDByStripeCustomer(ctx, sql.NullString{String: customerID, Valid: customerID != ""})
	if err != nil {
		if isNoRows(err) {
			return uuid.Nil, domain.NotFound(op, "customer", customerID)
		}
		return uuid.Nil, domain.Internal(err, op, "failed to look up customer")
	}
	return id, nil
}

func subscriptionToDomain(row repository.Subscription) *domain.SubscriptionFact {
	return &domain.SubscriptionFact{
		ID:      row.ID,
		PriceID: row.PriceID,
		Status:  domain.SubscriptionStatus(row.Status),
		Product: domain.Product{
			Name:     row.ProductName,
			Interval: row.ProductInterval,
		},
	}
}
