// Package domain contains core business types and interfaces.
//
// This file defines plan tiers, the profile and subscription facts they are
// derived from, and the resolver that maps one to the other.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlanTier is the category governing whether sends are quota-limited.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanTrial   PlanTier = "trial"
	PlanPremium PlanTier = "premium"
	PlanAdmin   PlanTier = "admin"
)

// IsUnlimited reports whether sends on this tier skip the daily quota.
// A resolved trial tier is always an active trial window.
func (p PlanTier) IsUnlimited() bool {
	switch p {
	case PlanAdmin, PlanPremium, PlanTrial:
		return true
	default:
		return false
	}
}

// Role is the authorization role stored on a user's profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// Entitles reports whether the status grants premium access.
func (s SubscriptionStatus) Entitles() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Product describes what a payment-provider price ID was sold as.
type Product struct {
	Name     string `json:"name"`
	Interval string `json:"interval,omitempty"` // "month" or "year"
}

// SubscriptionFact is the latest payment-provider subscription record for a
// user. It is replaced wholesale on every fetch.
type SubscriptionFact struct {
	ID      string             `json:"id"`
	PriceID string             `json:"price_id"`
	Status  SubscriptionStatus `json:"status"`
	Product Product            `json:"product"`
}

// ProfileFact holds the entitlement-relevant profile fields. The quota
// engine only ever reads it.
type ProfileFact struct {
	UserID      uuid.UUID
	Role        Role
	IsPremium   bool
	TrialEndsAt *time.Time
}

// TrialActive reports whether the profile's trial window is still open at now.
func (p ProfileFact) TrialActive(now time.Time) bool {
	return p.TrialEndsAt != nil && now.Before(*p.TrialEndsAt)
}

// ResolvePlan maps profile and subscription facts to the effective plan tier.
// The first matching rule wins: admin role, then premium flag or an entitling
// subscription, then an open trial window, then free. A nil subscription means
// the user has none.
func ResolvePlan(profile ProfileFact, sub *SubscriptionFact, now time.Time) PlanTier {
	if profile.Role == RoleAdmin {
		return PlanAdmin
	}
	if profile.IsPremium || (sub != nil && sub.Status.Entitles()) {
		return PlanPremium
	}
	if profile.TrialActive(now) {
		return PlanTrial
	}
	return PlanFree
}
