package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/exchange-market-board/internal/metrics"
	"github.com/exchange-market-board/internal/state"
)

// Rejection kinds for bus payloads. All of them are local to the one
// message: the pump counts, maybe logs, and moves on.
var (
	ErrMalformed   = errors.New("malformed event")
	ErrUnknownType = errors.New("unknown event type")
	ErrNonFinite   = errors.New("non-finite value")
)

// envelope is the common wire shell. Numeric fields are pointers so a
// missing field is distinguishable from zero.
type envelope struct {
	Type          string             `json:"type"`
	Instrument    string             `json:"instrument"`
	Trader        string             `json:"trader"`
	Timestamp     *int64             `json:"timestamp"`
	Bids          []wireLevel        `json:"bids"`
	Asks          []wireLevel        `json:"asks"`
	Price         *float64           `json:"price"`
	Volume        *float64           `json:"volume"`
	Buyer         string             `json:"buyer"`
	Seller        string             `json:"seller"`
	BuyerOrderID  string             `json:"buyer_order_id"`
	SellerOrderID string             `json:"seller_order_id"`
	Positions     map[string]float64 `json:"positions"`
	Pnl           *float64           `json:"pnl"`
}

type wireLevel struct {
	Price     *float64 `json:"price"`
	LeavesQty *float64 `json:"leaves_qty"`
}

// Decoder classifies raw bus payloads into MarketEvent variants. This is
// the only place a type discriminant is inspected; everything downstream
// works with the closed variant set.
type Decoder struct {
	metrics *metrics.Metrics
	warn    *rate.Limiter
	now     func() time.Time
}

func NewDecoder(m *metrics.Metrics) *Decoder {
	return &Decoder{
		metrics: m,
		warn:    rate.NewLimiter(rate.Every(time.Second), 5),
		now:     time.Now,
	}
}

// Decode parses payload into exactly one MarketEvent. Wire timestamps are
// unix milliseconds; a missing or non-positive timestamp falls back to
// receive time. Unknown types are counted but not logged.
func (d *Decoder) Decode(payload []byte) (state.MarketEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, d.reject(metrics.ReasonMalformed, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	at := d.eventTime(env.Timestamp)

	switch env.Type {
	case "orderbook", "orderbook_update":
		if env.Instrument == "" {
			return nil, d.reject(metrics.ReasonMalformed, fmt.Errorf("%w: orderbook update without instrument", ErrMalformed))
		}
		return &state.OrderbookUpdate{
			Instrument: env.Instrument,
			Bids:       toLevels(env.Bids),
			Asks:       toLevels(env.Asks),
			Timestamp:  at,
		}, nil

	case "trade":
		if env.Instrument == "" || env.Price == nil || env.Volume == nil {
			return nil, d.reject(metrics.ReasonMalformed, fmt.Errorf("%w: trade missing instrument, price or volume", ErrMalformed))
		}
		if !finite(*env.Price) || !finite(*env.Volume) {
			return nil, d.reject(metrics.ReasonNonFinite, fmt.Errorf("%w: trade price=%v volume=%v", ErrNonFinite, *env.Price, *env.Volume))
		}
		return &state.Trade{
			Instrument:    env.Instrument,
			Price:         *env.Price,
			Volume:        *env.Volume,
			Buyer:         env.Buyer,
			Seller:        env.Seller,
			BuyerOrderID:  env.BuyerOrderID,
			SellerOrderID: env.SellerOrderID,
			Timestamp:     at,
		}, nil

	case "position", "position_update":
		if env.Trader == "" || env.Positions == nil {
			return nil, d.reject(metrics.ReasonMalformed, fmt.Errorf("%w: position update missing trader or positions", ErrMalformed))
		}
		return &state.PositionUpdate{
			Trader:    env.Trader,
			Positions: d.sanitizePositions(env.Trader, env.Positions),
			Timestamp: at,
		}, nil

	case "pnl", "pnl_update":
		if env.Trader == "" || env.Pnl == nil {
			return nil, d.reject(metrics.ReasonMalformed, fmt.Errorf("%w: pnl update missing trader or pnl", ErrMalformed))
		}
		if !finite(*env.Pnl) {
			return nil, d.reject(metrics.ReasonNonFinite, fmt.Errorf("%w: pnl %v for %q", ErrNonFinite, *env.Pnl, env.Trader))
		}
		return &state.PnlUpdate{Trader: env.Trader, Pnl: *env.Pnl, Timestamp: at}, nil

	case "":
		return nil, d.reject(metrics.ReasonMalformed, fmt.Errorf("%w: missing type", ErrMalformed))

	default:
		d.metrics.EventRejected(metrics.ReasonUnknownType)
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// sanitizePositions drops non-finite pairs so one bad instrument cannot
// sink the rest of the batch.
func (d *Decoder) sanitizePositions(trader string, positions map[string]float64) map[string]float64 {
	bad := 0
	for _, qty := range positions {
		if !finite(qty) {
			bad++
		}
	}
	if bad == 0 {
		return positions
	}
	clean := make(map[string]float64, len(positions)-bad)
	for instrument, qty := range positions {
		if !finite(qty) {
			d.metrics.EventRejected(metrics.ReasonNonFinite)
			d.warnf("decoder: dropped non-finite position %v for %s/%s", qty, trader, instrument)
			continue
		}
		clean[instrument] = qty
	}
	return clean
}

func (d *Decoder) eventTime(ts *int64) time.Time {
	if ts == nil || *ts <= 0 {
		return d.now()
	}
	return time.UnixMilli(*ts)
}

func (d *Decoder) reject(reason string, err error) error {
	d.metrics.EventRejected(reason)
	d.warnf("decoder: %v", err)
	return err
}

func (d *Decoder) warnf(format string, args ...any) {
	if d.warn.Allow() {
		log.Printf(format, args...)
	}
}

func toLevels(in []wireLevel) []state.PriceLevel {
	if len(in) == 0 {
		return nil
	}
	out := make([]state.PriceLevel, 0, len(in))
	for _, lv := range in {
		if lv.Price == nil || lv.LeavesQty == nil {
			continue
		}
		out = append(out, state.PriceLevel{Price: *lv.Price, LeavesQty: *lv.LeavesQty})
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
