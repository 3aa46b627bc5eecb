package auth

import (
	"context"
	"net/http"
	"strings"
)

// SessionCookieName is the cookie carrying the ID token after browser sign-in
const SessionCookieName = "campus_session"

// Verifier turns a raw ID token into a session
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Session, error)
}

// TokenFromRequest returns the bearer token of r, falling back to the session
// cookie. It returns "" when the request carries neither.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
