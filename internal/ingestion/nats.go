package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/metrics"
)

// NATSSource consumes the market-data subject from a NATS connection.
// Reconnection is handled by the client, so Run only parks on ctx.
type NATSSource struct {
	url     string
	subject string
	metrics *metrics.Metrics
}

func NewNATSSource(cfg config.NATSConfig, m *metrics.Metrics) *NATSSource {
	return &NATSSource{url: cfg.URL, subject: cfg.Subject, metrics: m}
}

func (s *NATSSource) Name() string { return "nats" }

func (s *NATSSource) Run(ctx context.Context, deliver func([]byte)) error {
	nc, err := nats.Connect(s.url,
		nats.Name("market-board"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.metrics.FeedUp(false)
			log.Printf("nats source: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.metrics.FeedUp(true)
			log.Printf("nats source: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", s.url, err)
	}
	defer nc.Drain()

	sub, err := nc.Subscribe(s.subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	log.Printf("nats source: subscribed to %q", s.subject)
	s.metrics.FeedUp(true)

	<-ctx.Done()
	return ctx.Err()
}
