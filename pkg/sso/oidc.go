package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/campus/pkg/auth"
)

// ErrInvalidSubject is returned when the ID token subject is not a UUID
var ErrInvalidSubject = errors.New("ID token subject is not a principal id")

// OIDCProvider signs principals in with OpenID Connect and turns ID tokens
// into sessions
type OIDCProvider struct {
	config       *OIDCConfig
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and creates a provider
func NewOIDCProvider(ctx context.Context, config *OIDCConfig) (*OIDCProvider, error) {
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
	})
	return newProvider(config, verifier, provider.Endpoint()), nil
}

// NewOIDCProviderWithKeySet creates a provider without discovery, verifying
// tokens against keySet
func NewOIDCProviderWithKeySet(config *OIDCConfig, keySet oidc.KeySet, endpoint oauth2.Endpoint) *OIDCProvider {
	verifier := oidc.NewVerifier(config.IssuerURL, keySet, &oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
	})
	return newProvider(config, verifier, endpoint)
}

func newProvider(config *OIDCConfig, verifier *oidc.IDTokenVerifier, endpoint oauth2.Endpoint) *OIDCProvider {
	return &OIDCProvider{
		config:   config,
		verifier: verifier,
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
		},
	}
}

// LoginURL returns the authorization endpoint URL for state
func (p *OIDCProvider) LoginURL(state string) (string, error) {
	return p.oauth2Config.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for the raw ID token
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("missing authorization code")
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("missing id_token in response")
	}
	return rawIDToken, nil
}

// Verify checks an ID token and returns the session it describes. The token's
// subject is the principal id; the role claim becomes the session role hint.
func (p *OIDCProvider) Verify(ctx context.Context, rawIDToken string) (*auth.Session, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	principalID, err := uuid.Parse(idToken.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, idToken.Subject)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	principal := &auth.Principal{
		ID:       principalID,
		Email:    getStringValue(claims, "email"),
		Metadata: make(map[string]string),
	}
	if role := getStringValue(claims, p.config.RoleClaim); role != "" {
		principal.Metadata[auth.MetadataRoleKey] = role
	}

	// Tokens without a session id claim are their own session
	sessionID := getStringValue(claims, "sid")
	if sessionID == "" {
		sessionID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawIDToken)).String()
	}

	return auth.NewSession(sessionID, principal, idToken.IssuedAt, idToken.Expiry), nil
}
