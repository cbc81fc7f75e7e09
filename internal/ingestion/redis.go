package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/metrics"
)

// RedisSource consumes the market-data pub/sub channel.
type RedisSource struct {
	client         *redis.Client
	channel        string
	reconnectDelay time.Duration
	metrics        *metrics.Metrics
}

func NewRedisSource(cfg config.RedisConfig, feedCfg config.FeedConfig, m *metrics.Metrics) (*RedisSource, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisSource{
		client:         redis.NewClient(opts),
		channel:        cfg.Channel,
		reconnectDelay: time.Duration(feedCfg.ReconnectDelaySecs) * time.Second,
		metrics:        m,
	}, nil
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Run(ctx context.Context, deliver func([]byte)) error {
	delay := s.reconnectDelay
	maxDelay := 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		subscribed, err := s.pump(ctx, deliver)
		s.metrics.FeedUp(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			// Reset backoff after a session that got as far as subscribing
			delay = s.reconnectDelay
		}
		log.Printf("redis source: %v, reconnecting in %v", err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (s *RedisSource) pump(ctx context.Context, deliver func([]byte)) (bool, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %q: %w", s.channel, err)
	}
	log.Printf("redis source: subscribed to %q", s.channel)
	s.metrics.FeedUp(true)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription closed")
			}
			deliver([]byte(msg.Payload))
		}
	}
}

// NewRedisClient builds a plain client for non-pub/sub access such as the
// instrument catalog.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
