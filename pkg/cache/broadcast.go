package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Broadcaster announces changed keys to every replica over Redis pub/sub, so
// replicas can drop what their private tiers hold for the key. A replica never
// receives its own announcements.
type Broadcaster struct {
	client  *redis.Client
	channel string
	origin  string
}

type announcement struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// NewBroadcaster creates a broadcaster on channel
func NewBroadcaster(client *redis.Client, channel string) *Broadcaster {
	return &Broadcaster{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Publish announces that key changed
func (b *Broadcaster) Publish(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	data, err := json.Marshal(announcement{Origin: b.origin, Key: key})
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe joins the channel. Announcements published after Subscribe
// returns are delivered by Run.
func (b *Broadcaster) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	return &Subscription{pubsub: pubsub, origin: b.origin}, nil
}

// Subscription receives announcements from other replicas
type Subscription struct {
	pubsub *redis.PubSub
	origin string
}

// Run calls fn with every key announced by another replica until ctx is
// cancelled or the subscription is closed. Malformed payloads are skipped.
func (s *Subscription) Run(ctx context.Context, fn func(key string)) error {
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var a announcement
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil || a.Key == "" {
				continue
			}
			if a.Origin == s.origin {
				continue
			}
			fn(a.Key)
		}
	}
}

// Close leaves the channel
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
