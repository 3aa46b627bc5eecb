package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryTier implements an in-process LRU tier with per-entry expiry
type MemoryTier[V any] struct {
	cache  *lru.LRU[string, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryTier creates a memory tier holding at most size entries for ttl each
func NewMemoryTier[V any](size int, ttl time.Duration) *MemoryTier[V] {
	if size < 10 {
		size = 10 // Minimum 10 entries
	}
	return &MemoryTier[V]{
		cache: lru.NewLRU[string, V](size, nil, ttl),
	}
}

// Name implements Tier
func (m *MemoryTier[V]) Name() string {
	return "memory"
}

// Get implements Tier
func (m *MemoryTier[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrInvalidCacheKey
	}

	value, ok := m.cache.Get(key)
	if !ok {
		m.misses.Add(1)
		return zero, ErrCacheMiss
	}

	m.hits.Add(1)
	return value, nil
}

// Set implements Tier
func (m *MemoryTier[V]) Set(ctx context.Context, key string, value V) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	m.cache.Add(key, value)
	return nil
}

// Delete implements Tier
func (m *MemoryTier[V]) Delete(ctx context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// Len returns the number of live entries
func (m *MemoryTier[V]) Len() int {
	return m.cache.Len()
}

// Stats returns cache statistics
func (m *MemoryTier[V]) Stats() Stats {
	stats := Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		ItemCount: int64(m.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Purge drops every entry
func (m *MemoryTier[V]) Purge() {
	m.cache.Purge()
}
