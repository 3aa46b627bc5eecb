// Package middleware provides the HTTP middleware of the campus role service.
//
// SessionMiddleware verifies the bearer token or session cookie and attaches an
// *auth.Session to the request context. It never rejects a request: an
// invalid token yields an absent session, and the rbac guard decides what
// that session may see.
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.Logging(logger))
//	router.Use(middleware.Recovery(logger))
//	router.Use(middleware.SessionMiddleware(oidcProvider))
//
// RateLimit caps role mutations per principal. RateLimiter keeps token buckets
// in process; DistributedRateLimiter shares a fixed window through Redis.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.MutationRateLimitConfig(30), "")
//	mutations.Use(middleware.RateLimit(limiter))
package middleware
