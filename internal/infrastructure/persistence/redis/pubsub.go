package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/cohortly/progression-engine/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts the Redis client to the transport the distributed event bus
// expects. Implements messaging.RedisClient.
type PubSub struct {
	cache *Cache

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewPubSub creates a pub/sub transport over an existing cache connection.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish publishes a message to a channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.cache.Publish(ctx, channel, message)
}

// Subscribe subscribes to channels and pumps messages into the returned
// channel until ctx is cancelled or Close is called. Receive errors are
// forwarded with Err set so the bus can log and resubscribe.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.cache.Subscribe(ctx, channels...)

	// Blocks until the server confirms the subscription, so a publish
	// racing this call is not silently dropped.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		src := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes all active subscriptions. The underlying connection is owned
// by the cache and is closed there.
func (p *PubSub) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
