package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/rbac"
)

const (
	stateCookieName     = "campus_oidc_state"
	samlStateCookieName = "campus_saml_state"
	returnToCookieName  = "campus_return_to"
	loginCookieMaxAge   = 600 // 10 minutes
)

// Authenticator is the identity provider surface the handlers need.
// *OIDCProvider and *SAMLProvider implement it. Exchange turns what the
// provider sends back into the session credential stored in the cookie.
type Authenticator interface {
	auth.Verifier
	LoginURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (string, error)
}

// Revoker ends a server-side session on sign-out
type Revoker interface {
	Revoke(ctx context.Context, credential string) error
}

// MetadataProvider publishes the service provider metadata
type MetadataProvider interface {
	Metadata() ([]byte, error)
}

// ProfileEnsurer creates the profile row for a first sign-in
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, principal uuid.UUID, email, token string) error
}

// HandlersConfig configures the sign-in flow
type HandlersConfig struct {
	// PostLoginRedirect is used when the login request carried no return path
	PostLoginRedirect string
	SecureCookies     bool
}

// Handlers serves the sign-in, callback and sign-out endpoints
type Handlers struct {
	provider Authenticator
	saml     Authenticator
	broker   *auth.Broker
	profiles ProfileEnsurer
	config   HandlersConfig
	logger   *observability.Logger
}

// NewHandlers creates the SSO handlers. provider and profiles may be nil.
func NewHandlers(provider Authenticator, broker *auth.Broker, profiles ProfileEnsurer, config HandlersConfig, logger *observability.Logger) *Handlers {
	if config.PostLoginRedirect == "" {
		config.PostLoginRedirect = "/"
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		provider: provider,
		broker:   broker,
		profiles: profiles,
		config:   config,
		logger:   logger,
	}
}

// WithSAML adds SAML sign-in next to the OIDC flow
func (h *Handlers) WithSAML(provider Authenticator) *Handlers {
	h.saml = provider
	return h
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	if h.provider != nil {
		router.HandleFunc("/auth/login", h.initiateLogin(h.provider, stateCookieName, http.SameSiteLaxMode)).Methods("GET")
		router.HandleFunc("/auth/callback", h.handleCallback).Methods("GET")
	}
	if h.saml != nil {
		// the IdP posts the response cross-site, so a Lax state cookie would not come back
		router.HandleFunc("/auth/saml/login", h.initiateLogin(h.saml, samlStateCookieName, http.SameSiteNoneMode)).Methods("GET")
		router.HandleFunc("/auth/saml/acs", h.handleAssertion).Methods("POST")
		if md, ok := h.saml.(MetadataProvider); ok {
			router.HandleFunc("/auth/saml/metadata", serveMetadata(md)).Methods("GET")
		}
	}
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
}

// initiateLogin handles GET /auth/login and GET /auth/saml/login
func (h *Handlers) initiateLogin(provider Authenticator, cookieName string, sameSite http.SameSite) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stateBytes := make([]byte, 32)
		if _, err := rand.Read(stateBytes); err != nil {
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to generate state")
			return
		}
		state := base64.RawURLEncoding.EncodeToString(stateBytes)

		loginURL, err := provider.LoginURL(state)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Failed to build login URL")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to start sign-in")
			return
		}

		http.SetCookie(w, h.shortLivedCookie(cookieName, state, sameSite))

		// Only same-site paths are accepted so the redirect cannot leave the app
		if returnTo := r.URL.Query().Get("return_to"); isLocalPath(returnTo) {
			http.SetCookie(w, h.shortLivedCookie(returnToCookieName, returnTo, sameSite))
		}

		http.Redirect(w, r, loginURL, http.StatusFound)
	}
}

// handleCallback handles GET /auth/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.checkState(w, r, stateCookieName, r.URL.Query().Get("state")) {
		return
	}

	if idpErr := r.URL.Query().Get("error"); idpErr != "" {
		httputil.WriteErrorCode(w, http.StatusUnauthorized, idpErr, r.URL.Query().Get("error_description"))
		return
	}

	h.signIn(w, r, h.provider, stateCookieName, r.URL.Query().Get("code"))
}

// handleAssertion handles POST /auth/saml/acs
func (h *Handlers) handleAssertion(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "failed to parse form")
		return
	}
	if !h.checkState(w, r, samlStateCookieName, r.PostForm.Get("RelayState")) {
		return
	}

	h.signIn(w, r, h.saml, samlStateCookieName, r.PostForm.Get("SAMLResponse"))
}

func (h *Handlers) checkState(w http.ResponseWriter, r *http.Request, cookieName, state string) bool {
	stateCookie, err := r.Cookie(cookieName)
	if err != nil {
		httputil.WriteBadRequest(w, "missing state cookie")
		return false
	}
	if state != stateCookie.Value {
		httputil.WriteBadRequest(w, "invalid state parameter")
		return false
	}
	return true
}

// signIn exchanges what the provider sent back for a session, makes sure the
// principal has a profile, sets the session cookie and announces the sign-in
func (h *Handlers) signIn(w http.ResponseWriter, r *http.Request, provider Authenticator, stateCookie, code string) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	credential, err := provider.Exchange(ctx, code)
	if err != nil {
		logger.WithError(err).Warn("Sign-in exchange failed")
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	session, err := provider.Verify(ctx, credential)
	if err != nil {
		logger.WithError(err).Warn("Sign-in credential rejected")
		httputil.WriteUnauthorized(w, "authentication failed")
		return
	}

	if h.profiles != nil {
		hint, _ := session.Principal.RoleHint()
		token := rbac.ToStorage(rbac.ToDisplay(hint))
		if err := h.profiles.EnsureProfile(ctx, session.Principal.ID, session.Principal.Email, token); err != nil {
			// Resolution falls back to the role hint until the profile exists
			logger.WithError(err).WithField("principal_id", session.Principal.ID.String()).
				Warn("Failed to ensure profile")
		}
	}

	maxAge := 0
	if !session.ExpiresAt.IsZero() {
		maxAge = int(time.Until(session.ExpiresAt).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    credential,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, expiredCookie(stateCookie))

	h.broker.SignedIn(session)
	logger.WithField("principal_id", session.Principal.ID.String()).Info("Principal signed in")

	redirect := h.config.PostLoginRedirect
	if returnCookie, err := r.Cookie(returnToCookieName); err == nil && isLocalPath(returnCookie.Value) {
		redirect = returnCookie.Value
		http.SetCookie(w, expiredCookie(returnToCookieName))
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// logout handles POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if raw := auth.TokenFromRequest(r); raw != "" {
		// An expired or forged token has no session to end
		for _, provider := range []Authenticator{h.provider, h.saml} {
			if provider == nil {
				continue
			}
			session, err := provider.Verify(ctx, raw)
			if err != nil {
				continue
			}
			if revoker, ok := provider.(Revoker); ok {
				if err := revoker.Revoke(ctx, raw); err != nil {
					observability.FromContext(ctx).WithError(err).Warn("Failed to revoke session")
				}
			}
			h.broker.SignedOut(session)
			observability.FromContext(ctx).
				WithField("principal_id", session.Principal.ID.String()).
				Info("Principal signed out")
			break
		}
	}

	http.SetCookie(w, expiredCookie(auth.SessionCookieName))
	httputil.WriteNoContent(w)
}

func serveMetadata(md MetadataProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := md.Metadata()
		if err != nil {
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to generate metadata")
			return
		}
		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// shortLivedCookie holds sign-in state. SameSite=None needs Secure, so
// insecure deployments fall back to Lax.
func (h *Handlers) shortLivedCookie(name, value string, sameSite http.SameSite) *http.Cookie {
	if sameSite == http.SameSiteNoneMode && !h.config.SecureCookies {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: sameSite,
		MaxAge:   loginCookieMaxAge,
	}
}

func expiredCookie(name string) *http.Cookie {
	return &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1}
}

// isLocalPath accepts absolute paths on this host, rejecting "//host" and "/\host"
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(p, "\r\n")
}
