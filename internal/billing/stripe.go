// Package billing provides the Stripe integration that feeds subscription
// facts into the entitlement engine.
package billing

import (
	"fmt"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Service defines the interface for billing operations.
type Service interface {
	// GetSubscription retrieves the current state of a Stripe subscription.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// ProductForPriceID describes what a Stripe price ID was sold as.
	ProductForPriceID(priceID string) domain.Product
}

// PriceConfig holds the Stripe price IDs of the premium plan.
type PriceConfig struct {
	PremiumMonthlyPriceID string
	PremiumYearlyPriceID  string
}

// Catalog maps Stripe price IDs to products.
type Catalog map[string]domain.Product

// NewCatalog builds the catalog from configured price IDs. Empty IDs are skipped.
func NewCatalog(prices PriceConfig) Catalog {
	c := make(Catalog)
	if prices.PremiumMonthlyPriceID != "" {
		c[prices.PremiumMonthlyPriceID] = domain.Product{Name: "premium", Interval: "month"}
	}
	if prices.PremiumYearlyPriceID != "" {
		c[prices.PremiumYearlyPriceID] = domain.Product{Name: "premium", Interval: "year"}
	}
	return c
}

// Lookup returns the product for priceID. Unknown prices map to an unnamed
// product so the subscription status still counts.
func (c Catalog) Lookup(priceID string) domain.Product {
	if p, ok := c[priceID]; ok {
		return p
	}
	return domain.Product{}
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	catalog       Catalog
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
		catalog:       NewCatalog(prices),
	}
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) ProductForPriceID(priceID string) domain.Product {
	return s.catalog.Lookup(priceID)
}

// SubscriptionRecord is a Stripe subscription reduced to what the
// entitlement engine stores.
type SubscriptionRecord struct {
	Fact       domain.SubscriptionFact
	CustomerID string
	PeriodEnd  *time.Time
}

// RecordFromStripe converts a Stripe subscription. The first item's price
// identifies the product.
func RecordFromStripe(sub *stripe.Subscription, products func(priceID string) domain.Product) SubscriptionRecord {
	var rec SubscriptionRecord
	if sub == nil {
		return rec
	}

	rec.Fact = domain.SubscriptionFact{
		ID:     sub.ID,
		Status: mapStatus(sub.Status),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		rec.Fact.PriceID = sub.Items.Data[0].Price.ID
		if products != nil {
			rec.Fact.Product = products(rec.Fact.PriceID)
		}
	}
	if sub.Customer != nil {
		rec.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		rec.PeriodEnd = &end
	}
	return rec
}

// mapStatus folds Stripe's statuses into ours. Incomplete subscriptions were
// never paid for and paused ones grant nothing, so both count as unpaid.
func mapStatus(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusUnpaid
	}
}
