package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Primary string   `json:"primary"`
	Roles   []string `json:"roles"`
}

func TestMemoryTier_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	tier := NewMemoryTier[entry](100, time.Minute)

	_, err := tier.Get(ctx, "session-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	want := entry{Primary: "teacher", Roles: []string{"teacher", "administrator"}}
	require.NoError(t, tier.Set(ctx, "session-1", want))

	got, err := tier.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, tier.Len())

	require.NoError(t, tier.Delete(ctx, "session-1"))
	_, err = tier.Get(ctx, "session-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryTier_InvalidKey(t *testing.T) {
	tier := NewMemoryTier[entry](100, time.Minute)

	_, err := tier.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCacheKey)
	assert.ErrorIs(t, tier.Set(context.Background(), "", entry{}), ErrInvalidCacheKey)
}

func TestMemoryTier_Expiry(t *testing.T) {
	ctx := context.Background()
	tier := NewMemoryTier[entry](100, 20*time.Millisecond)

	require.NoError(t, tier.Set(ctx, "session-1", entry{Primary: "learner"}))
	time.Sleep(60 * time.Millisecond)

	_, err := tier.Get(ctx, "session-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryTier_Eviction(t *testing.T) {
	ctx := context.Background()
	tier := NewMemoryTier[int](1, time.Minute) // raised to the 10 entry minimum

	for i := 0; i < 11; i++ {
		require.NoError(t, tier.Set(ctx, string(rune('a'+i)), i))
	}

	assert.Equal(t, 10, tier.Len())
	_, err := tier.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss, "oldest entry should be evicted")
}

func TestMemoryTier_Stats(t *testing.T) {
	ctx := context.Background()
	tier := NewMemoryTier[int](100, time.Minute)

	require.NoError(t, tier.Set(ctx, "k", 1))
	_, _ = tier.Get(ctx, "k")
	_, _ = tier.Get(ctx, "k")
	_, _ = tier.Get(ctx, "missing")

	stats := tier.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.ItemCount)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)

	tier.Purge()
	assert.Equal(t, 0, tier.Len())
}
