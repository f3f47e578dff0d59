package session

import (
	"net/http"
	"strings"
)

// TokenSource says where a session token was found.
type TokenSource int

const (
	TokenNone TokenSource = iota
	TokenHeader
	TokenCookie
)

// TokenFromRequest extracts the raw session token. An Authorization bearer
// token takes precedence over the session cookie.
func TokenFromRequest(r *http.Request) (string, TokenSource) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, TokenHeader
			}
		}
	}

	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, TokenCookie
	}

	return "", TokenNone
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
