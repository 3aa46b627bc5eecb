package sso

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/cache"
	"github.com/platinummonkey/campus/pkg/config"
)

// ErrUnknownSession is returned for a credential with no live SAML session
var ErrUnknownSession = errors.New("unknown or expired session")

// samlCredentialPrefix marks the opaque session credentials SAML sign-in issues
const samlCredentialPrefix = "saml_"

// SAMLConfig holds SAML 2.0 service provider configuration
type SAMLConfig struct {
	IDPEntityID    string `json:"idp_entity_id"`
	IDPSSOURL      string `json:"idp_sso_url"`
	IDPCertificate string `json:"idp_certificate"` // PEM encoded

	EntityID string `json:"entity_id"`
	ACSURL   string `json:"acs_url"`

	Certificate string `json:"certificate,omitempty"` // PEM encoded, signs AuthnRequests
	PrivateKey  string `json:"-"`                     // Never expose private key in JSON

	NameIDFormat   string        `json:"name_id_format,omitempty"`
	RoleAttribute  string        `json:"role_attribute"`
	EmailAttribute string        `json:"email_attribute"`
	SessionTTL     time.Duration `json:"session_ttl"`
}

// SAMLConfigFromAuth builds the provider configuration from the service config
func SAMLConfigFromAuth(a config.SAMLConfig) *SAMLConfig {
	return &SAMLConfig{
		IDPEntityID:    a.IDPEntityID,
		IDPSSOURL:      a.IDPSSOURL,
		IDPCertificate: a.IDPCertificate,
		EntityID:       a.EntityID,
		ACSURL:         a.ACSURL,
		Certificate:    a.Certificate,
		PrivateKey:     a.PrivateKey,
		NameIDFormat:   a.NameIDFormat,
		RoleAttribute:  a.RoleAttribute,
		EmailAttribute: a.EmailAttribute,
		SessionTTL:     a.SessionTTL,
	}
}

// ValidateConfig validates the SAML configuration
func (c *SAMLConfig) ValidateConfig() error {
	if c.IDPSSOURL == "" {
		return fmt.Errorf("idp_sso_url is required")
	}
	if c.ACSURL == "" {
		return fmt.Errorf("acs_url is required")
	}
	if c.IDPCertificate == "" {
		return fmt.Errorf("idp_certificate is required")
	}
	if (c.Certificate == "") != (c.PrivateKey == "") {
		return fmt.Errorf("certificate and private_key must be set together")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	return nil
}

// SAMLProvider signs principals in with a SAML 2.0 identity provider. A
// validated assertion becomes a server-side session held in a cache under an
// opaque credential; the credential is what the session cookie carries.
type SAMLProvider struct {
	config   *SAMLConfig
	sp       *saml2.SAMLServiceProvider
	sessions *cache.Tiered[auth.Session]
	now      func() time.Time
}

// NewSAMLProvider creates a SAML provider. sessions holds the signed-in
// sessions; a nil cache keeps them in process memory.
func NewSAMLProvider(config *SAMLConfig, sessions *cache.Tiered[auth.Session]) (*SAMLProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("SAML config is required")
	}
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	idpCert, err := parseCertificate(config.IDPCertificate)
	if err != nil {
		return nil, err
	}
	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{idpCert},
	}

	var keyStore dsig.X509KeyStore
	if config.PrivateKey != "" {
		spCert, err := parseCertificate(config.Certificate)
		if err != nil {
			return nil, err
		}
		privateKey, err := parsePrivateKey(config.PrivateKey)
		if err != nil {
			return nil, err
		}
		keyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  privateKey,
			Certificate: [][]byte{spCert.Raw},
		}
	}

	entityID := config.EntityID
	if entityID == "" {
		entityID = config.ACSURL
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      config.IDPSSOURL,
		IdentityProviderIssuer:      config.IDPEntityID,
		ServiceProviderIssuer:       entityID,
		AssertionConsumerServiceURL: config.ACSURL,
		SignAuthnRequests:           keyStore != nil,
		AudienceURI:                 entityID,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  keyStore,
	}
	if config.NameIDFormat != "" {
		sp.NameIdFormat = config.NameIDFormat
	}

	if sessions == nil {
		sessions = cache.NewTiered[auth.Session](nil, cache.NewMemoryTier[auth.Session](10000, config.SessionTTL))
	}

	return &SAMLProvider{
		config:   config,
		sp:       sp,
		sessions: sessions,
		now:      time.Now,
	}, nil
}

func parseCertificate(data string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func parsePrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	// Try PKCS8 format
	pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// LoginURL returns the IdP redirect carrying an AuthnRequest, with state as
// the RelayState
func (p *SAMLProvider) LoginURL(state string) (string, error) {
	authURL, err := p.sp.BuildAuthURL(state)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

// Exchange validates a base64 encoded SAMLResponse and opens a session for
// the asserted principal. It returns the session credential.
func (p *SAMLProvider) Exchange(ctx context.Context, samlResponse string) (string, error) {
	if samlResponse == "" {
		return "", fmt.Errorf("missing SAMLResponse parameter")
	}
	if _, err := base64.StdEncoding.DecodeString(samlResponse); err != nil {
		return "", fmt.Errorf("failed to decode SAMLResponse: %w", err)
	}

	info, err := p.sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return "", fmt.Errorf("failed to validate assertion: %w", err)
	}

	session, err := p.sessionFromAssertion(info)
	if err != nil {
		return "", err
	}
	return p.open(ctx, session)
}

// sessionFromAssertion maps a validated assertion to a session. A NameID
// that is a UUID is the principal id; any other NameID is mapped to a stable
// id derived from the IdP and the NameID.
func (p *SAMLProvider) sessionFromAssertion(info *saml2.AssertionInfo) (*auth.Session, error) {
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("assertion has invalid time")
		}
		if info.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("assertion not in expected audience")
		}
	}

	nameID := strings.TrimSpace(info.NameID)
	if nameID == "" {
		return nil, fmt.Errorf("missing NameID in SAML assertion")
	}

	principalID, err := uuid.Parse(nameID)
	if err != nil {
		principalID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.config.IDPEntityID+"#"+nameID))
	}

	principal := &auth.Principal{
		ID:       principalID,
		Email:    info.Values.Get(p.config.EmailAttribute),
		Metadata: make(map[string]string),
	}
	if principal.Email == "" && strings.Contains(nameID, "@") {
		principal.Email = nameID
	}
	if role := info.Values.Get(p.config.RoleAttribute); role != "" {
		principal.Metadata[auth.MetadataRoleKey] = role
	}

	now := p.now()
	expiresAt := now.Add(p.config.SessionTTL)
	if info.SessionNotOnOrAfter != nil && info.SessionNotOnOrAfter.Before(expiresAt) {
		expiresAt = *info.SessionNotOnOrAfter
	}

	sessionID := info.SessionIndex
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return auth.NewSession(sessionID, principal, now, expiresAt), nil
}

// open stores session under a fresh credential
func (p *SAMLProvider) open(ctx context.Context, session *auth.Session) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session credential: %w", err)
	}
	credential := samlCredentialPrefix + base64.RawURLEncoding.EncodeToString(b)

	if err := p.sessions.Set(ctx, credential, *session); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return credential, nil
}

// Verify returns the live session stored under credential
func (p *SAMLProvider) Verify(ctx context.Context, credential string) (*auth.Session, error) {
	if !strings.HasPrefix(credential, samlCredentialPrefix) {
		return nil, ErrUnknownSession
	}

	session, err := p.sessions.Get(ctx, credential)
	if err != nil {
		return nil, ErrUnknownSession
	}
	if !session.ExpiresAt.IsZero() && !p.now().Before(session.ExpiresAt) {
		_ = p.sessions.Delete(ctx, credential)
		return nil, ErrUnknownSession
	}
	return &session, nil
}

// Revoke ends the session stored under credential
func (p *SAMLProvider) Revoke(ctx context.Context, credential string) error {
	if err := p.sessions.Delete(ctx, credential); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// Metadata returns the service provider metadata for the IdP
func (p *SAMLProvider) Metadata() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>` + "\n")
	fmt.Fprintf(&buf, `<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%s">`+"\n", xmlEscape(p.sp.ServiceProviderIssuer))
	fmt.Fprintf(&buf, `  <md:SPSSODescriptor AuthnRequestsSigned="%t" WantAssertionsSigned="true" protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">`+"\n", p.sp.SignAuthnRequests)
	if p.sp.NameIdFormat != "" {
		fmt.Fprintf(&buf, "    <md:NameIDFormat>%s</md:NameIDFormat>\n", xmlEscape(p.sp.NameIdFormat))
	}
	fmt.Fprintf(&buf, `    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="%s" index="1"/>`+"\n", xmlEscape(p.sp.AssertionConsumerServiceURL))
	buf.WriteString("  </md:SPSSODescriptor>\n")
	buf.WriteString("</md:EntityDescriptor>\n")
	return buf.Bytes(), nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
