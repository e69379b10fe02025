package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis pub/sub channel carrying import events.
const DefaultChannel = "bookmarks:import:events"

// RedisPublisher publishes events on a Redis channel so observers in other
// processes can follow a run. Publish failures are logged, not returned.
type RedisPublisher struct {
	redis   *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisPublisher creates a publisher on channel (DefaultChannel if empty).
func NewRedisPublisher(redisClient *redis.Client, channel string, logger zerolog.Logger) *RedisPublisher {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{redis: redisClient, channel: channel, logger: logger}
}

// Publish implements Notifier.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal event")
		eventsDroppedTotal.WithLabelValues("redis").Inc()
		return
	}

	// Delivery must not depend on the run context being alive.
	if err := p.redis.Publish(context.WithoutCancel(ctx), p.channel, data).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", p.channel).Msg("Failed to publish event")
		eventsDroppedTotal.WithLabelValues("redis").Inc()
	}
}

// Listen subscribes to channel and calls fn for every decoded event until
// ctx is cancelled. Undecodable messages are skipped.
func Listen(ctx context.Context, redisClient *redis.Client, channel string, fn func(Event)) error {
	if channel == "" {
		channel = DefaultChannel
	}

	sub := redisClient.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			fn(event)
		}
	}
}
