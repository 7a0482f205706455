package activation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier listens for change notifications on a Redis pub/sub
// channel. Whatever publishes configuration announces it there; the payload
// of each message is the source URI that changed.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisNotifier creates a notifier on channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  slog.Default().With("component", "activation.redis"),
	}
}

// DialRedisNotifier connects to addr and creates a notifier on channel.
func DialRedisNotifier(addr, password string, db int, channel string) *RedisNotifier {
	return NewRedisNotifier(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), channel)
}

// Listen subscribes and calls fn for every message until ctx is done. fn runs
// on the listening goroutine, so a slow reload delays the next one.
func (n *RedisNotifier) Listen(ctx context.Context, fn func(ctx context.Context, source string)) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("activation: subscribe to %s: %w", n.channel, err)
	}
	n.logger.InfoContext(ctx, "listening for changes", "channel", n.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n.logger.DebugContext(ctx, "change notification", "channel", msg.Channel, "source", msg.Payload)
			fn(ctx, msg.Payload)
		}
	}
}

// Close closes the underlying client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
