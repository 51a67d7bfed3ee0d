package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"voidmod.org/internal/obs"
)

// DefaultRelayChannel is the pub/sub channel shared by the console and the worker.
const DefaultRelayChannel = "voidmod:events"

// RedisRelay carries events between processes over Redis pub/sub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedisRelay builds a relay on channel, or DefaultRelayChannel when empty.
func NewRedisRelay(client redis.UniversalClient, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel, logger: obs.Logger()}
}

// Publish sends ev to every process forwarding the channel.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode relay event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Forward republishes relayed events into dst until ctx ends. It returns once the
// subscription is lost or ctx is done.
func (r *RedisRelay) Forward(ctx context.Context, dst Publisher) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Name == "" {
				r.logger.Warn("relay event discarded", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			if err := dst.Publish(ctx, ev); err != nil {
				r.logger.Warn("relay forward failed", slog.String("event", ev.Name), slog.Any("error", err))
			}
		}
	}
}
