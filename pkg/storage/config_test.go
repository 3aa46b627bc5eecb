package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 2, cfg.PostgresMinConns)
	assert.Equal(t, 10*time.Second, cfg.PostgresTimeout)
	assert.True(t, cfg.MigrateOnStart)
	assert.Empty(t, cfg.RedisURL, "shared cache tier is opt-in")
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10000, cfg.L1CacheSize)
}
