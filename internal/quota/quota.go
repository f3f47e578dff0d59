// Package quota implements the per-session message-quota and plan-entitlement
// engine: it decides whether a user may send a free message, debits the
// daily allowance through an atomic remote store, and keeps the snapshot
// fresh in the background while the user is at the limit.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/google/uuid"
)

// QuotaStore is the remote authority for daily usage counts.
type QuotaStore interface {
	// GetUsage reads the user's count for day. A missing record means zero.
	GetUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (domain.Usage, error)

	// IncrementUsage atomically adds one to the user's count for day and
	// returns the post-increment value. Concurrent callers are serialized
	// by the store.
	IncrementUsage(ctx context.Context, userID uuid.UUID, day domain.Day) (int, error)
}

// SubscriptionStore exposes the latest payment-provider subscription.
type SubscriptionStore interface {
	// GetSubscription returns nil when the user has no subscription.
	GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionFact, error)
}

// ProfileStore exposes the entitlement-relevant profile fields.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (domain.ProfileFact, error)
}

// Deps bundles the collaborators a Tracker reads from.
type Deps struct {
	Quota         QuotaStore
	Subscriptions SubscriptionStore
	Profiles      ProfileStore
}

// Config holds the quota policy values.
type Config struct {
	// DailyLimit is the number of free-tier messages per calendar day.
	// Default: 5
	DailyLimit int

	// ReconcileInterval is how often a session at its limit re-fetches
	// its entitlement so the countdown stays accurate across midnight.
	// Default: 60 seconds
	ReconcileInterval time.Duration

	// FetchTimeout bounds one resolve-and-fetch round trip.
	// Default: 10 seconds
	FetchTimeout time.Duration
}

// DefaultConfig returns the policy defaults.
func DefaultConfig() Config {
	return Config{
		DailyLimit:        domain.DefaultDailyLimit,
		ReconcileInterval: 60 * time.Second,
		FetchTimeout:      10 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.DailyLimit < 1 {
		return fmt.Errorf("daily limit must be at least 1, got %d", c.DailyLimit)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", c.ReconcileInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %v", c.FetchTimeout)
	}
	return nil
}

// State is the lifecycle state of a Tracker.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateRefreshing
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateCleared:
		return "cleared"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether the tracker holds a usable snapshot.
func (s State) Live() bool {
	return s == StateReady || s == StateRefreshing
}
