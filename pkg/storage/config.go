package storage

import (
	"context"
	"time"
)

// HealthChecker is implemented by backends that can report their health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config for the profile store, role assignment service and state cache
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs string // comma separated
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	MigrateOnStart      bool

	// Redis config. An empty RedisURL disables the shared cache tier.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     time.Duration // resolved role state lifetime
	L1CacheSize  int           // entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		MigrateOnStart:   true,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL:         15 * time.Minute,
		L1CacheSize:      10000,
	}
}
