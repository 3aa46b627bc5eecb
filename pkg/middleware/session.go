package middleware

import (
	"net/http"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/contextkeys"
	"github.com/platinummonkey/campus/pkg/observability"
)

// SessionMiddleware attaches the request's session to its context. A missing
// or invalid token yields an absent session rather than an error; route
// guards decide what an absent session may see. A nil verifier treats every
// request as signed out.
func SessionMiddleware(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session := auth.AbsentSession()

			if token := auth.TokenFromRequest(r); token != "" && verifier != nil {
				verified, err := verifier.Verify(ctx, token)
				if err != nil {
					observability.FromContext(ctx).WithError(err).Debug("Ignoring invalid session token")
				} else if verified != nil {
					session = verified
				}
			}

			ctx = contextkeys.WithSession(ctx, session)
			if session.Authenticated() {
				ctx = contextkeys.WithUserID(ctx, session.Principal.ID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the session attached by SessionMiddleware, or an absent
// session when there is none
func GetSession(r *http.Request) *auth.Session {
	if session, ok := r.Context().Value(contextkeys.SessionKey).(*auth.Session); ok && session != nil {
		return session
	}
	return auth.AbsentSession()
}

// WithSession returns r carrying session, for handlers and tests that bypass
// the middleware
func WithSession(r *http.Request, session *auth.Session) *http.Request {
	return r.WithContext(contextkeys.WithSession(r.Context(), session))
}
