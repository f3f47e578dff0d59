package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// BasicAuthMiddleware guards operator endpoints such as /metrics with HTTP
// basic authentication.
type BasicAuthMiddleware struct {
	realm    string
	username []byte
	password []byte
	enabled  bool
	logger   *slog.Logger
}

// NewBasicAuthMiddleware creates a basic auth guard. With both username and
// password empty the guard is disabled and every request passes.
func NewBasicAuthMiddleware(realm, username, password string, logger *slog.Logger) *BasicAuthMiddleware {
	return &BasicAuthMiddleware{
		realm:    realm,
		username: []byte(username),
		password: []byte(password),
		enabled:  username != "" || password != "",
		logger:   logger,
	}
}

// Enabled reports whether credentials are required.
func (m *BasicAuthMiddleware) Enabled() bool {
	return m.enabled
}

// Handler returns middleware that requires basic authentication.
func (m *BasicAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !m.matches(user, pass) {
			m.logger.Warn("basic auth rejected",
				"realm", m.realm,
				"path", r.URL.Path,
				"ip", getClientIP(r),
				"credentials_present", ok,
			)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+m.realm+`"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// matches compares both fields in constant time and never short-circuits.
func (m *BasicAuthMiddleware) matches(user, pass string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(user), m.username)
	passMatch := subtle.ConstantTimeCompare([]byte(pass), m.password)
	return userMatch&passMatch == 1
}
