// Package handler contains the HTTP handlers of the parley API.
//
// This file implements the entitlement and quota endpoints. Every route
// requires an authenticated identity; the session's tracker is opened on
// first use.
//
// Routes:
//   - GET    /api/entitlement         -> GetEntitlement
//   - POST   /api/entitlement/refresh -> RefreshEntitlement
//   - GET    /api/entitlement/reset   -> GetReset
//   - POST   /api/messages/quota      -> ConsumeQuota
//   - GET    /api/notifications       -> DrainNotifications
//   - DELETE /api/session             -> Logout
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/parley/internal/auth"
	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/session"
)

// SessionRevoker invalidates a session token.
type SessionRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// QuotaHandler serves the entitlement API of the signed-in user.
type QuotaHandler struct {
	sessions *session.Manager
	revoker  SessionRevoker
	logger   *slog.Logger
	isSecure bool
	now      func() time.Time
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(sessions *session.Manager, revoker SessionRevoker, logger *slog.Logger, isSecure bool) *QuotaHandler {
	return &QuotaHandler{
		sessions: sessions,
		revoker:  revoker,
		logger:   logger,
		isSecure: isSecure,
		now:      time.Now,
	}
}

// RegisterRoutes registers the entitlement routes. requireIdentity guards
// every route; limitSend additionally guards the send endpoint.
func (h *QuotaHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireIdentity func(http.Handler) http.Handler,
	limitSend func(http.Handler) http.Handler,
) {
	mux.Handle("GET /api/entitlement", requireIdentity(http.HandlerFunc(h.GetEntitlement)))
	mux.Handle("POST /api/entitlement/refresh", requireIdentity(http.HandlerFunc(h.RefreshEntitlement)))
	mux.Handle("GET /api/entitlement/reset", requireIdentity(http.HandlerFunc(h.GetReset)))
	mux.Handle("POST /api/messages/quota", requireIdentity(limitSend(http.HandlerFunc(h.ConsumeQuota))))
	mux.Handle("GET /api/notifications", requireIdentity(http.HandlerFunc(h.DrainNotifications)))
	mux.Handle("DELETE /api/session", requireIdentity(http.HandlerFunc(h.Logout)))
}

// EntitlementResponse is the client view of a session's entitlement.
type EntitlementResponse struct {
	domain.Entitlement
	ResetIn domain.Countdown `json:"reset_in"`
	State   string           `json:"state"`
}

// ResetResponse is the countdown to the next daily reset.
type ResetResponse struct {
	ResetIn domain.Countdown `json:"reset_in"`
	ResetAt time.Time        `json:"reset_at"`
}

// NotificationsResponse lists drained threshold events, oldest first.
type NotificationsResponse struct {
	Notifications []domain.NotificationKind `json:"notifications"`
}

// =============================================================================
// GET /api/entitlement
// =============================================================================

// GetEntitlement returns the current snapshot without I/O after the first load.
func (h *QuotaHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}

	e, live := s.Tracker.Entitlement()
	if !live {
		ErrorResponse(w, r, h.logger, domain.Unavailable("quota.entitlement", "Entitlement is not available"))
		return
	}

	writeJSON(w, http.StatusOK, h.entitlementResponse(s, e))
}

// =============================================================================
// POST /api/entitlement/refresh
// =============================================================================

// RefreshEntitlement re-reads profile, subscription and usage.
func (h *QuotaHandler) RefreshEntitlement(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}

	e := s.Tracker.FetchLimits(r.Context())
	writeJSON(w, http.StatusOK, h.entitlementResponse(s, e))
}

// =============================================================================
// GET /api/entitlement/reset
// =============================================================================

// GetReset returns the time left until the session's local midnight.
func (h *QuotaHandler) GetReset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}

	now := h.now().In(s.Tracker.Location())
	writeJSON(w, http.StatusOK, ResetResponse{
		ResetIn: domain.TimeUntilReset(now),
		ResetAt: domain.NextReset(now),
	})
}

// =============================================================================
// POST /api/messages/quota
// =============================================================================

// ConsumeQuota debits one message from the daily allowance. A free user at
// the limit gets 429 with Retry-After pointing at the next local midnight.
func (h *QuotaHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}

	e, err := s.Tracker.IncrementUsage(r.Context())
	if err != nil {
		if domain.IsCode(err, domain.EQUOTA) && e.Degraded {
			// The fail-closed fallback is blocking, not a spent allowance.
			ErrorResponse(w, r, h.logger, domain.Unavailable("quota.consume", "Message allowance could not be verified"))
			return
		}
		if domain.IsCode(err, domain.EQUOTA) {
			now := h.now().In(s.Tracker.Location())
			seconds := int(domain.NextReset(now).Sub(now).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, h.entitlementResponse(s, e))
}

// =============================================================================
// GET /api/notifications
// =============================================================================

// DrainNotifications returns and clears the session's pending threshold events.
func (h *QuotaHandler) DrainNotifications(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: s.Mailbox.Drain()})
}

// =============================================================================
// DELETE /api/session
// =============================================================================

// Logout revokes the session token and clears its tracker.
func (h *QuotaHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.NoIdentity("session.logout"))
		return
	}

	if token, _ := session.TokenFromRequest(r); token != "" {
		if err := h.revoker.Revoke(r.Context(), token); err != nil {
			InternalErrorResponse(w, r, h.logger, err)
			return
		}
	}

	h.sessions.Close(id.SessionID)
	session.ClearCookie(w, h.isSecure)

	h.logger.Info("user logged out", "user_id", id.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Helpers
// =============================================================================

// openSession returns the caller's live session, writing an error response
// when it cannot.
func (h *QuotaHandler) openSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	const op = "quota.session"

	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		ErrorResponse(w, r, h.logger, domain.NoIdentity(op))
		return nil, false
	}

	s, err := h.sessions.Open(r.Context(), id.SessionID, id.UserID, id.Location)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionOwner):
			ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "Invalid session"))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			ErrorResponse(w, r, h.logger, domain.Unavailable(op, "Entitlement is not available"))
		default:
			ErrorResponse(w, r, h.logger, err)
		}
		return nil, false
	}
	return s, true
}

func (h *QuotaHandler) entitlementResponse(s *session.Session, e domain.Entitlement) EntitlementResponse {
	return EntitlementResponse{
		Entitlement: e,
		ResetIn:     domain.TimeUntilReset(h.now().In(s.Tracker.Location())),
		State:       s.Tracker.State().String(),
	}
}
