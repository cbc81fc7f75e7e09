package state

import (
	"sync"
	"time"

	"github.com/exchange-market-board/internal/metrics"
)

// TradeSample is one retained trade print.
type TradeSample struct {
	Timestamp     time.Time `json:"t"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Buyer         string    `json:"buyer"`
	Seller        string    `json:"seller"`
	BuyerOrderID  string    `json:"buyer_order_id,omitempty"`
	SellerOrderID string    `json:"seller_order_id,omitempty"`
}

// MarketEngine holds the windowed market state for one instrument. Every
// operation takes the engine lock, so ingestion and export on the same
// instrument are mutually exclusive; engines for different instruments
// share nothing and run fully in parallel.
type MarketEngine struct {
	mu         sync.Mutex
	instrument string

	bboWindow   *TimeWindow[BBOSample]
	tradeWindow *TimeWindow[TradeSample]
	rng         RangeTracker
	bbo         BBOCache
	lastBook    *OrderbookUpdate

	bboKeep   time.Duration
	tradeKeep time.Duration

	metrics *metrics.Metrics
}

func newMarketEngine(instrument string, cfg Config, m *metrics.Metrics) *MarketEngine {
	return &MarketEngine{
		instrument:  instrument,
		bboWindow:   NewTimeWindow[BBOSample](),
		tradeWindow: NewTimeWindow[TradeSample](),
		bboKeep:     cfg.BBOWindow,
		tradeKeep:   cfg.TradeWindow,
		metrics:     m,
	}
}

func (e *MarketEngine) Instrument() string { return e.instrument }

// IngestOrderbook derives the BBO for update, appends it to the BBO
// window and folds both sides into the price range.
func (e *MarketEngine) IngestOrderbook(update *OrderbookUpdate) {
	if update == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sample := e.deriveLocked(update)
	e.lastBook = update
	e.bboWindow.Push(sample, sample.Timestamp)
	e.rng.Observe(floatOrNaN(sample.BestBid), floatOrNaN(sample.BestAsk))
	e.evictLocked(update.Timestamp)
}

// IngestTrade appends a trade sample and folds its price into the range.
// Prints with a non-finite price or volume are dropped.
func (e *MarketEngine) IngestTrade(trade *Trade) {
	if trade == nil {
		return
	}
	if !isFinite(trade.Price) || !isFinite(trade.Volume) {
		e.metrics.EventRejected(metrics.ReasonNonFinite)
		dropWarn(e.instrument, "trade", trade.Price)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tradeWindow.Push(TradeSample{
		Timestamp:     trade.Timestamp,
		Price:         trade.Price,
		Volume:        trade.Volume,
		Buyer:         trade.Buyer,
		Seller:        trade.Seller,
		BuyerOrderID:  trade.BuyerOrderID,
		SellerOrderID: trade.SellerOrderID,
	}, trade.Timestamp)
	e.rng.Observe(trade.Price)
	e.evictLocked(trade.Timestamp)
}

// ExportSeries returns copies of the BBO and trade series for rendering,
// evicting first so neither carries expired samples. The BBO series is
// extended to now: when the newest sample is already synthetic its
// timestamp just advances in place, otherwise a synthetic copy of the
// last values is appended. Repeated exports therefore keep the chart
// current without growing the window by one point per render tick.
func (e *MarketEngine) ExportSeries(now time.Time) (bbo []BBOSample, trades []TradeSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evictLocked(now)

	if last, ok := e.bboWindow.Last(); ok {
		carried := BBOSample{Timestamp: now, BestBid: last.BestBid, BestAsk: last.BestAsk}
		if last.Real {
			e.bboWindow.Push(carried, now)
		} else {
			e.bboWindow.ReplaceLast(carried, now)
		}
	}
	return e.bboWindow.Snapshot(), e.tradeWindow.Snapshot()
}

// RecentTrades returns up to n of the latest trade samples, newest first.
func (e *MarketEngine) RecentTrades(n int) []TradeSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tradeWindow.Tail(n)
}

// CurrentBBO derives the best bid/offer of the most recent book. Polls
// between ingests are served by the memoized sample.
func (e *MarketEngine) CurrentBBO() (BBOSample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastBook == nil {
		return BBOSample{}, false
	}
	return e.deriveLocked(e.lastBook), true
}

// CurrentRange returns the price range across the retained BBO and trade
// samples, rescanning both windows only when an eviction invalidated the
// cached bounds.
func (e *MarketEngine) CurrentRange() PriceRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Value(e.rescanLocked)
}

// Sweep evicts by timer so windows drain even when no events arrive.
func (e *MarketEngine) Sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evictLocked(now)
}

// Counts reports the retained sample counts for health reporting.
func (e *MarketEngine) Counts() (bboSamples, tradeSamples int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bboWindow.Len(), e.tradeWindow.Len()
}

func (e *MarketEngine) deriveLocked(book *OrderbookUpdate) BBOSample {
	before := e.bbo.Recomputes()
	sample := e.bbo.Derive(book)
	if e.bbo.Recomputes() == before {
		e.metrics.BBOCacheHit()
	} else {
		e.metrics.BBORecompute()
	}
	return sample
}

func (e *MarketEngine) evictLocked(now time.Time) {
	evicted := 0
	if n := e.bboWindow.Evict(now, e.bboKeep); n > 0 {
		e.metrics.WindowEvicted("bbo", n)
		evicted += n
	}
	if n := e.tradeWindow.Evict(now, e.tradeKeep); n > 0 {
		e.metrics.WindowEvicted("trade", n)
		evicted += n
	}
	if evicted > 0 {
		e.rng.Invalidate()
	}
}

func (e *MarketEngine) rescanLocked() PriceRange {
	var scan RangeTracker
	for _, s := range e.bboWindow.Snapshot() {
		scan.Observe(floatOrNaN(s.BestBid), floatOrNaN(s.BestAsk))
	}
	for _, t := range e.tradeWindow.Snapshot() {
		scan.Observe(t.Price)
	}
	e.metrics.RangeRescan()
	return scan.current()
}
