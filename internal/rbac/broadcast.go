package rbac

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// allRoles is the wire payload for "clear every entry".
const allRoles = "*"

// RedisBroadcaster invalidates the local cache and fans the invalidation out to
// every other instance over a Redis channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	local   *Cache
	logger  *zap.Logger
}

// NewRedisBroadcaster constructs the broadcaster.
func NewRedisBroadcaster(client *redis.Client, channel string, local *Cache, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, channel: channel, local: local, logger: logger}
}

// Invalidate applies locally first, so this instance is consistent even when
// the publish fails.
func (b *RedisBroadcaster) Invalidate(ctx context.Context, roleCode string) error {
	b.local.Invalidate(roleCode)

	payload := roleCode
	if payload == "" {
		payload = allRoles
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation for %q: %w", payload, err)
	}
	return nil
}

// Listen subscribes to the channel and applies remote invalidations until ctx
// is done or the returned stop function is called. It returns once the
// subscription is confirmed.
func (b *RedisBroadcaster) Listen(ctx context.Context) (func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				role := msg.Payload
				if role == allRoles {
					role = ""
				}
				b.local.Invalidate(role)
				b.logger.Debug("applied remote permission invalidation", zap.String("role", msg.Payload))
			}
		}
	}()

	stop := func() {
		cancel()
		_ = sub.Close()
		<-done
	}
	return stop, nil
}
