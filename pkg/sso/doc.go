// Package sso signs principals in with an OpenID Connect or SAML 2.0 identity
// provider.
//
// # Overview
//
// With OIDC the provider's ID token is the session credential. Verify turns a
// raw token into an auth.Session whose principal id is the token subject and
// whose role hint comes from a configurable claim:
//
//	cfg := sso.ConfigFromAuth(appConfig.Auth)
//	provider, err := sso.NewOIDCProvider(ctx, cfg)
//	session, err := provider.Verify(ctx, rawIDToken)
//
// With SAML the signed assertion is checked once at the assertion consumer
// service. The resulting session is kept in a cache.Tiered under an opaque
// credential, so with a Redis tier every replica accepts it. Verifiers chains
// both methods behind one auth.Verifier.
//
// # Sign-in flow
//
// Handlers serve these endpoints:
//
//	GET  /auth/login          redirect to the OIDC provider
//	GET  /auth/callback       exchange the code, set the session cookie
//	GET  /auth/saml/login     redirect to the SAML IdP
//	POST /auth/saml/acs       validate the assertion, set the session cookie
//	GET  /auth/saml/metadata  service provider metadata
//	POST /auth/logout         end the session and clear the cookie
//
// A successful sign-in makes sure a profile exists for the principal and
// publishes a sign-in event on the auth.Broker; logout publishes a sign-out
// event so cached role state is dropped.
package sso
