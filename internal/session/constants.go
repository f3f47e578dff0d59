package session

const (
	// CookieName is the name of the cookie that carries the session token.
	CookieName = "parley_session"

	// CookiePath ensures the cookie is sent with all requests.
	CookiePath = "/"
)
