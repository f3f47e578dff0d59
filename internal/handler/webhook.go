package handler

// This file implements the Stripe webhook handler.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// The route is public. Stripe authenticates with the webhook signature.

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/parley/internal/billing"
	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/metrics"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// maxWebhookBody bounds the webhook payload read from the request.
const maxWebhookBody = 65536

// Webhook processing results, used as metric labels.
const (
	webhookApplied         = "applied"
	webhookIgnored         = "ignored"
	webhookUnknownCustomer = "unknown_customer"
	webhookFailed          = "failed"
)

// SubscriptionWriter persists subscription facts.
type SubscriptionWriter interface {
	SaveSubscription(ctx context.Context, userID uuid.UUID, fact domain.SubscriptionFact, periodEnd *time.Time) error
	UserIDForCustomer(ctx context.Context, customerID string) (uuid.UUID, error)
}

// EntitlementRefresher re-fetches the live sessions of a user.
type EntitlementRefresher interface {
	RefreshUser(ctx context.Context, userID uuid.UUID) int
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing       billing.Service
	subscriptions SubscriptionWriter
	sessions      EntitlementRefresher
	timeout       time.Duration
	logger        *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, subscriptions SubscriptionWriter, sessions EntitlementRefresher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:       billingService,
		subscriptions: subscriptions,
		sessions:      sessions,
		timeout:       15 * time.Second,
		logger:        logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies the event and stores the subscription it
// concerns. Persistence failures return 500 so Stripe retries; events for
// unknown customers are acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.billing.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger := h.logger.With("event_type", event.Type, "event_id", event.ID)
	logger.Info("stripe webhook received")

	// Work continues after the client disconnects; Stripe only sees the status.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	result := h.processEvent(ctx, logger, event)
	metrics.SubscriptionEventsTotal.WithLabelValues(string(event.Type), result).Inc()

	if result == webhookFailed {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) processEvent(ctx context.Context, logger *slog.Logger, event stripe.Event) string {
	subscriptionID, payload, ok := subscriptionFromEvent(event)
	if !ok {
		logger.Debug("unhandled webhook event type")
		return webhookIgnored
	}
	if subscriptionID == "" {
		logger.Debug("webhook event carries no subscription")
		return webhookIgnored
	}

	// Events can arrive out of order. Reading the subscription back gives
	// the latest state regardless of which event triggered the read.
	sub, err := h.billing.GetSubscription(subscriptionID)
	if err != nil {
		if payload == nil {
			logger.Error("failed to fetch subscription", "subscription_id", subscriptionID, "error", err)
			return webhookFailed
		}
		logger.Warn("failed to fetch subscription, using event payload", "subscription_id", subscriptionID, "error", err)
		sub = payload
	}

	record := billing.RecordFromStripe(sub, h.billing.ProductForPriceID)
	if record.CustomerID == "" {
		logger.Warn("subscription has no customer", "subscription_id", subscriptionID)
		return webhookIgnored
	}

	userID, err := h.subscriptions.UserIDForCustomer(ctx, record.CustomerID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			logger.Info("no user for stripe customer", "customer_id", record.CustomerID)
			return webhookUnknownCustomer
		}
		logger.Error("failed to resolve stripe customer", "customer_id", record.CustomerID, "error", err)
		return webhookFailed
	}

	if err := h.subscriptions.SaveSubscription(ctx, userID, record.Fact, record.PeriodEnd); err != nil {
		logger.Error("failed to save subscription", "user_id", userID, "error", err)
		return webhookFailed
	}

	refreshed := h.sessions.RefreshUser(ctx, userID)
	logger.Info("subscription event applied",
		"user_id", userID,
		"subscription_id", record.Fact.ID,
		"status", record.Fact.Status,
		"sessions_refreshed", refreshed,
	)
	return webhookApplied
}

// subscriptionFromEvent extracts the subscription an event concerns. It
// returns ok=false for event types that never change entitlement. payload
// is the subscription embedded in the event, when it has one.
func subscriptionFromEvent(event stripe.Event) (id string, payload *stripe.Subscription, ok bool) {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", nil, true
		}
		return sub.ID, &sub, true

	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil || cs.Subscription == nil {
			return "", nil, true
		}
		return cs.Subscription.ID, nil, true

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil || inv.Subscription == nil {
			return "", nil, true
		}
		return inv.Subscription.ID, nil, true
	}
	return "", nil, false
}
