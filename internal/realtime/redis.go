package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes the per-session pub/sub channels.
const DefaultChannelPrefix = "netdesk:chat:"

// RedisChannel subscribes to per-session Redis pub/sub channels.
type RedisChannel struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisChannel creates a Redis-backed channel.
func NewRedisChannel(client *redis.Client, prefix string, logger *slog.Logger) *RedisChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisChannel{client: client, prefix: prefix, logger: logger}
}

// Connect subscribes to the session's channel and waits for confirmation.
func (c *RedisChannel) Connect(ctx context.Context, sessionID string) (Subscription, error) {
	topic := Topic(c.prefix, sessionID)
	ps := c.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		if closeErr := ps.Close(); closeErr != nil {
			c.logger.Debug("failed to close redis subscription", "error", closeErr)
		}
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("Realtime subscription established", "session_id", sessionID, "topic", topic)
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("receive redis message: %w", err)
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

// Publisher pushes payloads to the per-session Redis channels.
type Publisher struct {
	client *redis.Client
	prefix string
}

// NewPublisher creates a Redis publisher using the same channel naming as RedisChannel.
func NewPublisher(client *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Publisher{client: client, prefix: prefix}
}

// Publish sends payload to the session's channel and returns the number of receivers.
func (p *Publisher) Publish(ctx context.Context, sessionID string, payload []byte) (int64, error) {
	n, err := p.client.Publish(ctx, Topic(p.prefix, sessionID), payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", sessionID, err)
	}
	return n, nil
}
