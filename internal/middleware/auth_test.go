package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/parley/internal/auth"
	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/session"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type mockAuthenticator struct {
	AuthenticateFunc func(ctx context.Context, token string) (*auth.Identity, error)
	calls            int
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	m.calls++
	return m.AuthenticateFunc(ctx, token)
}

// newTestLogger creates a logger that discards output for testing.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var validToken = strings.Repeat("a1", 32)

func acceptToken(id *auth.Identity) *mockAuthenticator {
	return &mockAuthenticator{
		AuthenticateFunc: func(ctx context.Context, token string) (*auth.Identity, error) {
			if token == validToken {
				return id, nil
			}
			return nil, domain.Unauthorized("session.authenticate", "Invalid session")
		},
	}
}

// captureIdentity records the identity seen by the wrapped handler.
func captureIdentity(got **auth.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = auth.GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// WithIdentity
// =============================================================================

func TestWithIdentity(t *testing.T) {
	id := &auth.Identity{SessionID: uuid.New(), UserID: uuid.New(), Location: time.UTC}

	tests := []struct {
		name          string
		header        string
		cookie        string
		wantIdentity  bool
		wantCleared   bool
		wantAuthCalls int
	}{
		{"anonymous", "", "", false, false, 0},
		{"valid bearer", "Bearer " + validToken, "", true, false, 1},
		{"valid cookie", "", validToken, true, false, 1},
		{"invalid bearer leaves cookies alone", "Bearer nope", "", false, false, 1},
		{"invalid cookie is cleared", "", "stale", false, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := acceptToken(id)
			mw := NewAuthMiddleware(authn, newTestLogger(), false)

			req := httptest.NewRequest("GET", "/api/entitlement", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: session.CookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			var got *auth.Identity
			mw.WithIdentity(captureIdentity(&got)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantAuthCalls, authn.calls)
			if tt.wantIdentity {
				assert.Same(t, id, got)
			} else {
				assert.Nil(t, got)
			}

			cleared := false
			for _, c := range rec.Result().Cookies() {
				if c.Name == session.CookieName && c.MaxAge < 0 {
					cleared = true
				}
			}
			assert.Equal(t, tt.wantCleared, cleared)
		})
	}
}

func TestWithIdentity_LookupFailureContinuesAnonymous(t *testing.T) {
	authn := &mockAuthenticator{
		AuthenticateFunc: func(ctx context.Context, token string) (*auth.Identity, error) {
			return nil, domain.Internal(errors.New("db down"), "session.authenticate", "failed to look up session")
		},
	}
	mw := NewAuthMiddleware(authn, newTestLogger(), false)

	req := httptest.NewRequest("GET", "/api/entitlement", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: validToken})
	rec := httptest.NewRecorder()

	var got *auth.Identity
	mw.WithIdentity(captureIdentity(&got)).ServeHTTP(rec, req)

	assert.Nil(t, got)
	// A database outage must not log the user out.
	assert.Empty(t, rec.Result().Cookies())
}

// =============================================================================
// RequireIdentity
// =============================================================================

func TestRequireIdentity(t *testing.T) {
	id := &auth.Identity{SessionID: uuid.New(), UserID: uuid.New()}
	mw := NewAuthMiddleware(acceptToken(id), newTestLogger(), false)
	stack := Stack(mw.WithIdentity, mw.RequireIdentity)

	t.Run("anonymous is rejected", func(t *testing.T) {
		called := false
		h := stack(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/entitlement", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), domain.EUNAUTHORIZED)
	})

	t.Run("authenticated passes", func(t *testing.T) {
		var got *auth.Identity
		h := stack(captureIdentity(&got))

		req := httptest.NewRequest("GET", "/api/entitlement", nil)
		req.Header.Set("Authorization", "Bearer "+validToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, id.UserID, got.UserID)
	})
}

// =============================================================================
// Stack
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("outer"), mark("middle"), mark("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner", "handler"}, order)
}
