// Package cache provides the session-scoped role state cache.
//
// Two tiers are layered by Tiered:
//
//   - MemoryTier: in-process expirable LRU (hashicorp/golang-lru/v2)
//   - RedisTier: shared Redis tier so that replicas agree on a session's state
//
// Reads walk the tiers in order and backfill the faster tiers on a hit. Writes and
// deletes go to every tier.
//
// Broadcaster announces changed keys over Redis pub/sub so that other replicas
// drop their private copies with DeleteLocal.
//
//	tiers := cache.NewTiered[rbac.State](metrics,
//		cache.NewMemoryTier[rbac.State](10000, 15*time.Minute),
//		cache.NewRedisTier[rbac.State](client, "campus:state:", 15*time.Minute),
//	)
package cache
