package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss is returned when a key is not cached
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidCacheKey is returned for an empty key
	ErrInvalidCacheKey = errors.New("invalid cache key")
)

// Tier is one level of the cache
type Tier[V any] interface {
	// Name labels the tier in metrics
	Name() string
	// Get returns ErrCacheMiss when key is absent
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives hit and miss events. *observability.Metrics satisfies it.
type Recorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
}

// Stats holds cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int64   `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}
