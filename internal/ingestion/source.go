package ingestion

import (
	"context"
	"fmt"

	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/metrics"
)

// Source is one upstream bus delivering raw market-data payloads. Run
// blocks until ctx is done, reconnecting on transport failures, and hands
// every payload to deliver in arrival order.
type Source interface {
	Name() string
	Run(ctx context.Context, deliver func(payload []byte)) error
}

// NewSource builds the configured feed source.
func NewSource(cfg config.Config, m *metrics.Metrics) (Source, error) {
	switch cfg.Feed.Source {
	case "redis":
		return NewRedisSource(cfg.Redis, cfg.Feed, m)
	case "websocket":
		return NewWebSocketSource(cfg.WebSocket, cfg.Feed, m), nil
	case "nats":
		return NewNATSSource(cfg.NATS, m), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
	}
}
