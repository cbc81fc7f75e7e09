package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/exchange-market-board/internal/metrics"
)

// Config tunes retention and display limits for every subject.
type Config struct {
	BBOWindow     time.Duration
	TradeWindow   time.Duration
	PnlWindow     time.Duration
	SweepInterval time.Duration
	TradeTail     int
	PositionLimit int
}

func (c Config) withDefaults() Config {
	if c.BBOWindow <= 0 {
		c.BBOWindow = 5 * time.Minute
	}
	if c.TradeWindow <= 0 {
		c.TradeWindow = 5 * time.Minute
	}
	if c.PnlWindow <= 0 {
		c.PnlWindow = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 100 * time.Millisecond
	}
	if c.TradeTail <= 0 {
		c.TradeTail = 10
	}
	if c.PositionLimit <= 0 {
		c.PositionLimit = 50
	}
	return c
}

// Engine is the registry of per-subject state: one MarketEngine per
// instrument plus the shared position book and per-trader P&L windows.
// The registry lock guards only the maps; each subject carries its own
// lock, so different instruments ingest and export in parallel.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*MarketEngine

	positions *PositionBook
	pnl       *PnlEngine

	cfg     Config
	metrics *metrics.Metrics
}

func NewEngine(cfg Config, m *metrics.Metrics) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		markets:   make(map[string]*MarketEngine),
		positions: NewPositionBook(cfg.PositionLimit),
		pnl:       NewPnlEngine(cfg.PnlWindow, m),
		cfg:       cfg,
		metrics:   m,
	}
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Market returns the engine for instrument, creating it on first use.
func (e *Engine) Market(instrument string) *MarketEngine {
	e.mu.RLock()
	me := e.markets[instrument]
	e.mu.RUnlock()
	if me != nil {
		return me
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if me = e.markets[instrument]; me == nil {
		me = newMarketEngine(instrument, e.cfg, e.metrics)
		e.markets[instrument] = me
	}
	return me
}

// Lookup returns the engine for instrument without creating one.
func (e *Engine) Lookup(instrument string) (*MarketEngine, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	me, ok := e.markets[instrument]
	return me, ok
}

// Instruments returns the tracked instrument names, sorted.
func (e *Engine) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.markets))
	for name := range e.markets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Positions returns the shared position book.
func (e *Engine) Positions() *PositionBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions
}

// Pnl returns the per-trader P&L windows.
func (e *Engine) Pnl() *PnlEngine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pnl
}

// Ingest routes one decoded event to the owning subject state. Rejections
// happen inside the subject engines; Ingest itself never fails.
func (e *Engine) Ingest(ev MarketEvent) {
	switch ev := ev.(type) {
	case *OrderbookUpdate:
		e.Market(ev.Instrument).IngestOrderbook(ev)
	case *Trade:
		e.Market(ev.Instrument).IngestTrade(ev)
	case *PositionUpdate:
		e.ingestPositions(ev)
	case *PnlUpdate:
		e.Pnl().Ingest(ev.Trader, ev.Pnl, ev.Timestamp)
	}
}

func (e *Engine) ingestPositions(ev *PositionUpdate) {
	for instrument, qty := range ev.Positions {
		if !isFinite(qty) {
			e.metrics.EventRejected(metrics.ReasonNonFinite)
			dropWarn(ev.Trader, "position "+instrument, qty)
		}
	}
	e.Positions().ApplyUpdate(ev)
}

// ResetInstrument replaces the instrument's engine with a fresh one.
// Readers that already resolved the old engine finish against that
// discarded snapshot; every later read sees empty state.
func (e *Engine) ResetInstrument(instrument string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[instrument] = newMarketEngine(instrument, e.cfg, e.metrics)
}

// ResetAll discards every subject: market engines, positions and P&L.
func (e *Engine) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets = make(map[string]*MarketEngine)
	e.positions = NewPositionBook(e.cfg.PositionLimit)
	e.pnl = NewPnlEngine(e.cfg.PnlWindow, e.metrics)
}

// Sweep evicts every subject window once.
func (e *Engine) Sweep(now time.Time) {
	e.mu.RLock()
	engines := make([]*MarketEngine, 0, len(e.markets))
	for _, me := range e.markets {
		engines = append(engines, me)
	}
	pnl := e.pnl
	e.mu.RUnlock()

	for _, me := range engines {
		me.Sweep(now)
	}
	pnl.Sweep(now)
}

// RunSweeper drives Sweep on the configured cadence until ctx is done, so
// windows drain during quiet stretches with no incoming events.
func (e *Engine) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.Sweep(now)
		}
	}
}
