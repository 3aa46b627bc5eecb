package sso

import (
	"fmt"

	"github.com/platinummonkey/campus/pkg/config"
)

// OIDCConfig holds OpenID Connect configuration
type OIDCConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"` // Never expose secret in JSON
	IssuerURL    string   `json:"issuer_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`

	// RoleClaim is the dotted claim path of the role hint, e.g. "user_metadata.role"
	RoleClaim string `json:"role_claim"`

	SkipIssuerCheck bool `json:"skip_issuer_check,omitempty"`
}

// ConfigFromAuth builds the provider configuration from the service config
func ConfigFromAuth(a config.AuthConfig) *OIDCConfig {
	return &OIDCConfig{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		IssuerURL:    a.IssuerURL,
		RedirectURL:  a.RedirectURL,
		Scopes:       a.Scopes,
		RoleClaim:    a.RoleClaim,
	}
}

// ValidateConfig validates the provider configuration
func (c *OIDCConfig) ValidateConfig() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	hasOpenID := false
	for _, scope := range c.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("openid scope is required for OIDC")
	}
	return nil
}
