// Package auth models authentication sessions for the campus role service.
//
// A Session is what one request (or one mounted view) knows about who is signed in:
//
//	StatusAbsent   - nobody is signed in
//	StatusLoading  - session retrieval is still in flight
//	StatusPresent  - a Principal is signed in
//
// The Principal carries the identity (a UUID subject) and the metadata attached to the
// session by the identity provider. The "role" metadata entry is the role hint used as
// the second stage of role resolution in pkg/rbac.
//
// # Session Events
//
// Sign-in and sign-out are published through a Broker. Role caches subscribe to it so
// that role state is dropped the moment a session ends:
//
//	broker := auth.NewBroker()
//	unsubscribe := broker.Subscribe(func(e auth.Event) {
//		if e.Type == auth.EventSignedOut {
//			directory.Invalidate(ctx, e.Session)
//		}
//	})
//	defer unsubscribe()
//
// Password handling and token refresh are the identity provider's business and are not
// modeled here. See pkg/sso for the OpenID Connect provider that produces sessions.
package auth
