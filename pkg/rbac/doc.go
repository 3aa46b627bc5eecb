// Package rbac resolves, mutates and enforces the application roles of a
// signed-in principal.
//
// # Overview
//
// Every principal holds a non-empty set of roles drawn from four values and
// one primary role inside that set. The roles split into two mutually
// exclusive clusters:
//
//	Staff:       Teacher, Administrator
//	Participant: Learner, TeachingAssistant
//
// A role set never straddles the clusters.
//
// # Components
//
//   - Codec (codec.go): maps roles to storage tokens and back. ToDisplay never
//     fails; ParseRole is strict and meant for user input.
//   - Compatibility (compatibility.go): cluster rules and the roles a set may
//     still add.
//   - Resolver (resolver.go): derives a session's state from the assignment
//     service, then the session's role hint, then the default. Lookup failures
//     are logged and counted, never returned.
//   - Store (store.go): the three mutations. Local state changes only after the
//     remote write succeeds.
//   - Directory (directory.go): one store per session, resolved once and
//     shared, cached in the tiered cache and dropped on sign-out.
//   - Guard (guard.go, middleware.go): classifies a route visit as Pending,
//     Denied or Granted and enforces it over HTTP.
//   - RouteTable (routes.go): YAML route declarations with hot reload.
//
// # Usage
//
//	manager := rbac.NewManager(assignments, profiles, routes, rbac.Config{
//		LookupTimeout: 5 * time.Second,
//		States:        states,
//		Logger:        logger,
//		Metrics:       metrics,
//	})
//	defer manager.Attach(broker)()
//	manager.RegisterRoutes(router)
//	router.Use(manager.GetMiddleware().Protect)
//
// # HTTP API
//
//	GET    /v1/me/roles           resolved state, available roles, greeting
//	PUT    /v1/me/roles/primary   {"role": "teacher"}
//	POST   /v1/me/roles           {"role": "administrator"}
//	DELETE /v1/me/roles/{role}
//	GET    /v1/access?path=/x     guard decision for a declared route
//
// Mutation errors map to statuses: cluster and primary-role violations and
// refused removals are 409, a mutation already in flight is 429, and a
// failed remote write is 502.
package rbac
