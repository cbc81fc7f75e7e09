package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/metrics"
)

// WebSocketSource consumes the market-data stream from a websocket feed.
type WebSocketSource struct {
	url            string
	reconnectDelay time.Duration
	metrics        *metrics.Metrics
}

func NewWebSocketSource(cfg config.WebSocketConfig, feedCfg config.FeedConfig, m *metrics.Metrics) *WebSocketSource {
	return &WebSocketSource{
		url:            cfg.URL,
		reconnectDelay: time.Duration(feedCfg.ReconnectDelaySecs) * time.Second,
		metrics:        m,
	}
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Run(ctx context.Context, deliver func([]byte)) error {
	delay := s.reconnectDelay
	maxDelay := 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connected, err := s.connectAndListen(ctx, deliver)
		s.metrics.FeedUp(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = s.reconnectDelay
		}
		log.Printf("websocket source: %v, reconnecting in %v", err, delay)

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

func (s *WebSocketSource) connectAndListen(ctx context.Context, deliver func([]byte)) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	log.Printf("websocket source: connected to %s", s.url)
	s.metrics.FeedUp(true)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			deliver(message)
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-done:
			return true, err
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return true, err
			}
		}
	}
}
