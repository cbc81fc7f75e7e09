package state

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarketEngine(t *testing.T, bboKeep, tradeKeep time.Duration) *MarketEngine {
	t.Helper()
	return newMarketEngine("AAPL", Config{BBOWindow: bboKeep, TradeWindow: tradeKeep}, nil)
}

func bookAt(at time.Time, bid, ask float64) *OrderbookUpdate {
	return &OrderbookUpdate{
		Instrument: "AAPL",
		Bids:       []PriceLevel{{Price: bid, LeavesQty: 5}},
		Asks:       []PriceLevel{{Price: ask, LeavesQty: 2}},
		Timestamp:  at,
	}
}

func tradeAt(at time.Time, price, volume float64) *Trade {
	return &Trade{
		Instrument: "AAPL",
		Price:      price,
		Volume:     volume,
		Buyer:      "alice",
		Seller:     "bob",
		Timestamp:  at,
	}
}

func TestIngestOrderbookAppendsRealSample(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	e.IngestOrderbook(bookAt(baseTime, 100, 101))

	bbo, trades := e.ExportSeries(baseTime)
	require.Len(t, bbo, 1)
	assert.Empty(t, trades)
	assert.True(t, bbo[0].Real)
	assert.Equal(t, 100.0, *bbo[0].BestBid)
	assert.Equal(t, 101.0, *bbo[0].BestAsk)
}

func TestExportSeriesSyntheticCarryForward(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	e.IngestOrderbook(bookAt(baseTime, 100, 101))

	bbo, _ := e.ExportSeries(baseTime.Add(10 * time.Second))
	require.Len(t, bbo, 2)
	assert.True(t, bbo[0].Real)
	assert.False(t, bbo[1].Real)
	assert.Equal(t, baseTime.Add(10*time.Second), bbo[1].Timestamp)
	assert.Equal(t, 100.0, *bbo[1].BestBid)
	assert.Equal(t, 101.0, *bbo[1].BestAsk)

	// later ticks advance the synthetic point instead of appending more
	bbo, _ = e.ExportSeries(baseTime.Add(20 * time.Second))
	require.Len(t, bbo, 2)
	assert.Equal(t, baseTime.Add(20*time.Second), bbo[1].Timestamp)

	bbo, _ = e.ExportSeries(baseTime.Add(30 * time.Second))
	require.Len(t, bbo, 2)
	assert.Equal(t, baseTime.Add(30*time.Second), bbo[1].Timestamp)
	assert.Equal(t, 100.0, *bbo[1].BestBid)
}

func TestExportSeriesEmptyHasNoSynthetic(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	bbo, trades := e.ExportSeries(baseTime)
	assert.Empty(t, bbo)
	assert.Empty(t, trades)
}

func TestExportSeriesRealResumesAfterSynthetic(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	e.IngestOrderbook(bookAt(baseTime, 100, 101))

	_, _ = e.ExportSeries(baseTime.Add(10 * time.Second))
	e.IngestOrderbook(bookAt(baseTime.Add(30*time.Second), 99, 102))

	bbo, _ := e.ExportSeries(baseTime.Add(40 * time.Second))
	require.Len(t, bbo, 4)
	assert.Equal(t, []bool{true, false, true, false},
		[]bool{bbo[0].Real, bbo[1].Real, bbo[2].Real, bbo[3].Real})
	assert.Equal(t, 99.0, *bbo[3].BestBid)
	assert.Equal(t, baseTime.Add(40*time.Second), bbo[3].Timestamp)
}

func TestTradesEvictToEmptyWindowAndAbsentRange(t *testing.T) {
	e := testMarketEngine(t, time.Minute, time.Minute)

	e.IngestTrade(tradeAt(baseTime, 100, 1))
	e.IngestTrade(tradeAt(baseTime.Add(2*time.Minute), 105, 2))

	// ingesting the second trade already evicted the first
	trades := e.tradeWindow.Snapshot()
	require.Len(t, trades, 1)
	assert.Equal(t, 105.0, trades[0].Price)

	bbo, exported := e.ExportSeries(baseTime.Add(3*time.Minute + time.Second))
	assert.Empty(t, bbo)
	assert.Empty(t, exported)
	assert.Empty(t, e.RecentTrades(10))

	r := e.CurrentRange()
	assert.Nil(t, r.Min)
	assert.Nil(t, r.Max)
}

func TestRecentTradesNewestFirstCapped(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	for i := 0; i < 5; i++ {
		e.IngestTrade(tradeAt(baseTime.Add(time.Duration(i)*time.Second), 100+float64(i), 1))
	}

	recent := e.RecentTrades(3)
	require.Len(t, recent, 3)
	assert.Equal(t, 104.0, recent[0].Price)
	assert.Equal(t, 103.0, recent[1].Price)
	assert.Equal(t, 102.0, recent[2].Price)

	assert.Len(t, e.RecentTrades(100), 5)
}

func TestIngestTradeNonFiniteDropped(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	e.IngestTrade(tradeAt(baseTime, math.NaN(), 1))
	e.IngestTrade(tradeAt(baseTime, 100, math.Inf(1)))

	assert.Empty(t, e.RecentTrades(10))
	r := e.CurrentRange()
	assert.Nil(t, r.Min)
}

func TestCurrentRangeSpansBBOAndTrades(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	e.IngestOrderbook(bookAt(baseTime, 99, 103))
	e.IngestTrade(tradeAt(baseTime.Add(time.Second), 104, 1))

	r := e.CurrentRange()
	require.NotNil(t, r.Min)
	assert.Equal(t, 99.0, *r.Min)
	assert.Equal(t, 104.0, *r.Max)
}

func TestCurrentRangeRecomputesAfterEviction(t *testing.T) {
	e := testMarketEngine(t, time.Minute, time.Minute)
	e.IngestTrade(tradeAt(baseTime, 200, 1))
	e.IngestTrade(tradeAt(baseTime.Add(50*time.Second), 50, 1))

	r := e.CurrentRange()
	require.NotNil(t, r.Min)
	assert.Equal(t, 50.0, *r.Min)
	assert.Equal(t, 200.0, *r.Max)

	// the 200 print ages out; the cached max must not survive it
	e.Sweep(baseTime.Add(65 * time.Second))
	r = e.CurrentRange()
	require.NotNil(t, r.Max)
	assert.Equal(t, 50.0, *r.Min)
	assert.Equal(t, 50.0, *r.Max)
	assert.Equal(t, uint64(1), e.rng.Rescans())
}

func TestCurrentBBOMemoizedBetweenIngests(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	e.IngestOrderbook(bookAt(baseTime, 100, 101))
	require.Equal(t, uint64(1), e.bbo.Recomputes())

	for i := 0; i < 10; i++ {
		sample, ok := e.CurrentBBO()
		require.True(t, ok)
		assert.Equal(t, 100.0, *sample.BestBid)
	}
	assert.Equal(t, uint64(1), e.bbo.Recomputes())

	e.IngestOrderbook(bookAt(baseTime.Add(time.Second), 100.5, 101.5))
	assert.Equal(t, uint64(2), e.bbo.Recomputes())
}

func TestCurrentBBOWithoutBook(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)
	_, ok := e.CurrentBBO()
	assert.False(t, ok)
}

func TestMarketEngineConcurrentAccess(t *testing.T) {
	e := testMarketEngine(t, 5*time.Minute, 5*time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				at := baseTime.Add(time.Duration(g*100+i) * time.Millisecond)
				e.IngestOrderbook(bookAt(at, 100, 101))
				e.IngestTrade(tradeAt(at, 100.5, 1))
				e.ExportSeries(at)
				e.CurrentRange()
				e.RecentTrades(5)
			}
		}(g)
	}
	wg.Wait()

	r := e.CurrentRange()
	require.NotNil(t, r.Min)
	assert.Equal(t, 100.0, *r.Min)
	assert.Equal(t, 101.0, *r.Max)
}
