package state

import (
	"sort"
	"sync"
	"time"

	"github.com/exchange-market-board/internal/metrics"
)

// PnlSample is one P&L observation for a single trader.
type PnlSample struct {
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"value"`
}

// PnlPoint is one flattened history point across traders.
type PnlPoint struct {
	Trader    string    `json:"trader"`
	Timestamp time.Time `json:"t"`
	Value     float64   `json:"value"`
}

// PnlEngine keeps an independent sliding window of P&L samples per
// trader. Traders appear on their first sample and disappear once their
// window drains.
type PnlEngine struct {
	mu      sync.Mutex
	windows map[string]*TimeWindow[PnlSample]
	keep    time.Duration
	metrics *metrics.Metrics
}

func NewPnlEngine(keep time.Duration, m *metrics.Metrics) *PnlEngine {
	if keep <= 0 {
		keep = 30 * time.Minute
	}
	return &PnlEngine{
		windows: make(map[string]*TimeWindow[PnlSample]),
		keep:    keep,
		metrics: m,
	}
}

// Window reports the retention horizon.
func (p *PnlEngine) Window() time.Duration { return p.keep }

// Ingest appends value to the trader's window. Non-finite values are
// dropped, counted and rate-limit logged.
func (p *PnlEngine) Ingest(trader string, value float64, at time.Time) {
	if trader == "" {
		return
	}
	if !isFinite(value) {
		p.metrics.EventRejected(metrics.ReasonNonFinite)
		dropWarn(trader, "pnl", value)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.windows[trader]
	if w == nil {
		w = NewTimeWindow[PnlSample]()
		p.windows[trader] = w
	}
	w.Push(PnlSample{Timestamp: at, Value: value}, at)
	if n := w.Evict(at, p.keep); n > 0 {
		p.metrics.WindowEvicted("pnl", n)
	}
}

// LatestByTrader returns each tracked trader's most recent retained value.
func (p *PnlEngine) LatestByTrader() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.windows))
	for trader, w := range p.windows {
		if s, ok := w.Last(); ok {
			out[trader] = s.Value
		}
	}
	return out
}

// AggregateTotal sums the latest retained value across traders.
func (p *PnlEngine) AggregateTotal() float64 {
	total := 0.0
	for _, v := range p.LatestByTrader() {
		total += v
	}
	return total
}

// HistorySince flattens every retained sample newer than now-window
// across traders, sorted time-ascending for multi-series charting.
// Windows longer than the retention horizon clamp to it.
func (p *PnlEngine) HistorySince(now time.Time, window time.Duration) []PnlPoint {
	if window <= 0 || window > p.keep {
		window = p.keep
	}
	cutoff := now.Add(-window)

	p.mu.Lock()
	var points []PnlPoint
	for trader, w := range p.windows {
		for _, s := range w.Snapshot() {
			if s.Timestamp.After(cutoff) {
				points = append(points, PnlPoint{Trader: trader, Timestamp: s.Timestamp, Value: s.Value})
			}
		}
	}
	p.mu.Unlock()

	sort.Slice(points, func(i, j int) bool {
		if !points[i].Timestamp.Equal(points[j].Timestamp) {
			return points[i].Timestamp.Before(points[j].Timestamp)
		}
		return points[i].Trader < points[j].Trader
	})
	return points
}

// Traders returns the traders with at least one retained sample, sorted.
func (p *PnlEngine) Traders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.windows))
	for trader, w := range p.windows {
		if !w.Empty() {
			out = append(out, trader)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep evicts every trader's window and forgets traders whose window
// drained.
func (p *PnlEngine) Sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for trader, w := range p.windows {
		evicted += w.Evict(now, p.keep)
		if w.Empty() {
			delete(p.windows, trader)
		}
	}
	if evicted > 0 {
		p.metrics.WindowEvicted("pnl", evicted)
	}
}
