package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToOtherReplicas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := setupRedis(t)

	sender := NewBroadcaster(client, "campus:test:invalidate")
	receiver := NewBroadcaster(client, "campus:test:invalidate")

	own, err := sender.Subscribe(ctx)
	require.NoError(t, err)
	defer own.Close()
	other, err := receiver.Subscribe(ctx)
	require.NoError(t, err)
	defer other.Close()

	ownKeys := make(chan string, 4)
	otherKeys := make(chan string, 4)
	go func() { _ = own.Run(ctx, func(key string) { ownKeys <- key }) }()
	go func() { _ = other.Run(ctx, func(key string) { otherKeys <- key }) }()

	require.NoError(t, sender.Publish(ctx, "session-1:principal"))

	select {
	case key := <-otherKeys:
		assert.Equal(t, "session-1:principal", key)
	case <-time.After(2 * time.Second):
		t.Fatal("announcement never arrived")
	}

	select {
	case key := <-ownKeys:
		t.Fatalf("sender received its own announcement for %q", key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_SkipsMalformedPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := setupRedis(t)

	broadcaster := NewBroadcaster(client, "campus:test:invalidate")
	sub, err := broadcaster.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	keys := make(chan string, 4)
	go func() { _ = sub.Run(ctx, func(key string) { keys <- key }) }()

	require.NoError(t, client.Publish(ctx, "campus:test:invalidate", "not json").Err())
	require.NoError(t, client.Publish(ctx, "campus:test:invalidate", `{"origin":"elsewhere","key":"session-2:principal"}`).Err())

	select {
	case key := <-keys:
		assert.Equal(t, "session-2:principal", key)
	case <-time.After(2 * time.Second):
		t.Fatal("announcement never arrived")
	}
}

func TestBroadcaster_RejectsEmptyKey(t *testing.T) {
	_, client := setupRedis(t)
	err := NewBroadcaster(client, "campus:test:invalidate").Publish(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCacheKey)
}

func TestBroadcaster_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, client := setupRedis(t)

	sub, err := NewBroadcaster(client, "campus:test:invalidate").Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, func(string) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
