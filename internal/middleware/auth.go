// Package middleware contains HTTP middleware for the Parley API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/parley/internal/auth"
	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/handler"
	"github.com/DukeRupert/parley/internal/session"
)

// Authenticator resolves a raw session token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// AuthMiddleware provides authentication middleware functionality.
//
// Create one instance and use its methods as middleware.
type AuthMiddleware struct {
	sessions Authenticator
	logger   *slog.Logger
	isSecure bool // Whether to set Secure flag on cookies (true in production)
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(sessions Authenticator, logger *slog.Logger, isSecure bool) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		logger:   logger,
		isSecure: isSecure,
	}
}

// WithIdentity loads the caller's identity from a bearer token or the
// session cookie and stores it in the request context. It always calls the
// next handler; use RequireIdentity to reject anonymous requests.
//
// Flow:
//
//	Request -> WithIdentity -> Handler
//	           |
//	           +-> Read Authorization header, then cookie
//	           +-> Validate session (if a token exists)
//	           +-> Set identity in context (if valid)
//	           +-> Call next handler (always)
func (m *AuthMiddleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, source := session.TokenFromRequest(r)
		if source == session.TokenNone {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.sessions.Authenticate(r.Context(), token)
		if err != nil {
			if domain.ErrorCode(err) == domain.EUNAUTHORIZED {
				if source == session.TokenCookie {
					session.ClearCookie(w, m.isSecure)
				}
			} else {
				m.logger.Warn("session lookup failed", "error", err, "path", r.URL.Path)
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetIdentity(r.Context(), id)))
	})
}

// RequireIdentity rejects requests without an identity with 401.
//
// IMPORTANT: This middleware must be used AFTER WithIdentity in the chain.
func (m *AuthMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetIdentity(r.Context()) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw, authMw.WithIdentity, authMw.RequireIdentity)
//	mux.Handle("GET /api/entitlement", stack(entitlementHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).WithIdentity
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireIdentity
)
