package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/campus/pkg/storage"
)

// NewRedisClient creates a Redis client from the storage configuration and
// verifies the connection
func NewRedisClient(ctx context.Context, config storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisTier stores JSON encoded values in Redis under a key prefix
type RedisTier[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTier creates a Redis tier
func NewRedisTier[V any](client *redis.Client, prefix string, ttl time.Duration) *RedisTier[V] {
	return &RedisTier[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Name implements Tier
func (r *RedisTier[V]) Name() string {
	return "redis"
}

// Shared reports that every replica reads the same entries
func (r *RedisTier[V]) Shared() bool {
	return true
}

func (r *RedisTier[V]) key(key string) string {
	return r.prefix + key
}

// Get implements Tier. Entries that no longer decode are deleted and reported as a miss.
func (r *RedisTier[V]) Get(ctx context.Context, key string) (V, error) {
	var value V
	if key == "" {
		return value, ErrInvalidCacheKey
	}

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, ErrCacheMiss
	} else if err != nil {
		return value, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		r.client.Del(ctx, r.key(key))
		var zero V
		return zero, ErrCacheMiss
	}

	return value, nil
}

// Set implements Tier
func (r *RedisTier[V]) Set(ctx context.Context, key string, value V) error {
	if key == "" {
		return ErrInvalidCacheKey
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete implements Tier
func (r *RedisTier[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
