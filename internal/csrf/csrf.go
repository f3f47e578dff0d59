// Package csrf protects cookie-authenticated API calls with the
// double-submit cookie pattern.
//
// The server sets a random token in a cookie readable by the web client.
// The client echoes it in the X-CSRF-Token header on every unsafe request.
// A cross-site page can make the browser send the cookie but cannot read
// it, so it cannot produce the header. Requests authenticated with a
// bearer token carry no ambient credential and are not checked.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/handler"
	"github.com/DukeRupert/parley/internal/session"
)

const (
	// CookieName is the name of the CSRF token cookie.
	CookieName = "parley_csrf"

	// HeaderName carries the echoed token on unsafe requests.
	HeaderName = "X-CSRF-Token"

	// TokenLength is the number of random bytes in a token.
	TokenLength = 32

	// CookieMaxAge is the lifetime of the CSRF cookie (12 hours).
	CookieMaxAge = 12 * 3600
)

// GenerateToken returns 32 random bytes, base64 URL-encoded.
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken compares the cookie and header tokens in constant time.
func ValidateToken(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) == 1
}

// ValidateRequest checks the request's header token against its cookie.
func ValidateRequest(r *http.Request) bool {
	return ValidateToken(tokenFromCookie(r), r.Header.Get(HeaderName))
}

// SetCookie sets the CSRF token cookie. It is readable by scripts so the
// client can echo it.
func SetCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: false,
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func tokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Middleware issues tokens on safe requests and enforces them on unsafe
// requests that authenticate with the session cookie.
type Middleware struct {
	logger   *slog.Logger
	isSecure bool
}

// NewMiddleware creates the CSRF middleware.
func NewMiddleware(logger *slog.Logger, isSecure bool) *Middleware {
	return &Middleware{logger: logger, isSecure: isSecure}
}

// Handler returns the middleware.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			if tokenFromCookie(r) == "" {
				token, err := GenerateToken()
				if err != nil {
					m.logger.Error("failed to generate csrf token", "error", err)
				} else {
					SetCookie(w, token, m.isSecure)
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		if _, source := session.TokenFromRequest(r); source == session.TokenCookie && !ValidateRequest(r) {
			handler.ErrorResponse(w, r, m.logger,
				domain.Errorf(domain.EFORBIDDEN, "csrf.validate", "Missing or invalid CSRF token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
