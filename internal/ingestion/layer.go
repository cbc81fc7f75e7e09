package ingestion

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/exchange-market-board/internal/metrics"
	"github.com/exchange-market-board/internal/state"
	"github.com/exchange-market-board/internal/stream"
)

// Layer connects one feed source to the state engine and the SSE hub:
// decode, admit against the catalog, ingest, fan out.
type Layer struct {
	source  Source
	decoder *Decoder
	engine  *state.Engine
	hub     *stream.Hub
	catalog *Catalog
	metrics *metrics.Metrics
	warn    *rate.Limiter
}

func NewLayer(source Source, engine *state.Engine, hub *stream.Hub, catalog *Catalog, m *metrics.Metrics) *Layer {
	return &Layer{
		source:  source,
		decoder: NewDecoder(m),
		engine:  engine,
		hub:     hub,
		catalog: catalog,
		metrics: m,
		warn:    rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Run refreshes the catalog in the background and blocks on the feed
// pump until ctx is done.
func (l *Layer) Run(ctx context.Context) error {
	if l.catalog != nil {
		go func() {
			if err := l.catalog.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("catalog error: %v", err)
			}
		}()
	}
	log.Printf("ingestion: consuming from %s", l.source.Name())
	return l.source.Run(ctx, l.handle)
}

// handle processes one raw payload end to end. Rejections never stop the
// pump; they are counted and the next payload proceeds.
func (l *Layer) handle(payload []byte) {
	ev, err := l.decoder.Decode(payload)
	if err != nil {
		return
	}

	topic := stream.TopicPnl
	switch ev := ev.(type) {
	case *state.OrderbookUpdate:
		if !l.admit(ev.Instrument) {
			return
		}
		topic = ev.Instrument
	case *state.Trade:
		if !l.admit(ev.Instrument) {
			return
		}
		topic = ev.Instrument
	}

	l.engine.Ingest(ev)
	l.metrics.EventIngested(EventType(ev))
	l.publish(topic, ev)
}

func (l *Layer) admit(instrument string) bool {
	if l.catalog == nil || l.catalog.Known(instrument) {
		return true
	}
	l.metrics.EventRejected(metrics.ReasonUnknownInstrument)
	if l.warn.Allow() {
		log.Printf("ingestion: dropped event for unknown instrument %q", instrument)
	}
	return false
}

func (l *Layer) publish(topic string, ev state.MarketEvent) {
	if l.hub == nil {
		return
	}
	payload, err := json.Marshal(streamPayload{Type: EventType(ev), Event: ev})
	if err != nil {
		return
	}
	l.hub.Publish(topic, payload)
}

// streamPayload is the SSE wire shape: the normalized event wrapped with
// its type tag so browser clients can switch without re-deriving it.
type streamPayload struct {
	Type  string            `json:"type"`
	Event state.MarketEvent `json:"event"`
}

// EventType names an event variant for metrics labels and stream tags.
func EventType(ev state.MarketEvent) string {
	switch ev.(type) {
	case *state.OrderbookUpdate:
		return "orderbook"
	case *state.Trade:
		return "trade"
	case *state.PositionUpdate:
		return "position"
	case *state.PnlUpdate:
		return "pnl"
	default:
		return "unknown"
	}
}
