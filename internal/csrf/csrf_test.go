package csrf

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/parley/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	mw := NewMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, called
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   bool
	}{
		{"match", "abc", "abc", true},
		{"mismatch", "abc", "abd", false},
		{"missing header", "abc", "", false},
		{"missing cookie", "", "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateToken(tt.cookie, tt.header))
		})
	}
}

func TestMiddleware_IssuesTokenOnSafeRequest(t *testing.T) {
	rec, called := serve(httptest.NewRequest("GET", "/api/entitlement", nil))

	assert.True(t, called)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.False(t, cookies[0].HttpOnly)
}

func TestMiddleware_KeepsExistingToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/entitlement", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "existing"})

	rec, _ := serve(req)

	assert.Empty(t, rec.Result().Cookies())
}

func TestMiddleware_UnsafeRequests(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
	}{
		{
			name: "cookie session without header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "sess"})
				r.AddCookie(&http.Cookie{Name: CookieName, Value: "tok"})
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "cookie session with matching header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "sess"})
				r.AddCookie(&http.Cookie{Name: CookieName, Value: "tok"})
				r.Header.Set(HeaderName, "tok")
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "cookie session with wrong header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "sess"})
				r.AddCookie(&http.Cookie{Name: CookieName, Value: "tok"})
				r.Header.Set(HeaderName, "forged")
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "bearer token is exempt",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer sess")
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "anonymous passes through",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/messages/quota", nil)
			tt.setup(req)

			rec, called := serve(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
		})
	}
}
