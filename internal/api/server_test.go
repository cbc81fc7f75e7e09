package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/metrics"
	"github.com/exchange-market-board/internal/state"
	"github.com/exchange-market-board/internal/stream"
)

func testServer() (*Server, *state.Engine, *stream.Hub) {
	engine := state.NewEngine(state.Config{}, nil)
	hub := stream.NewHub(4, nil)
	s := NewServer(config.APIConfig{CORSOrigins: []string{"*"}}, engine, hub, nil, nil)
	return s, engine, hub
}

func doJSON(t *testing.T, h http.Handler, method, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func ingestBook(engine *state.Engine, instrument string, bid, ask float64) {
	engine.Ingest(&state.OrderbookUpdate{
		Instrument: instrument,
		Bids:       []state.PriceLevel{{Price: bid, LeavesQty: 5}},
		Asks:       []state.PriceLevel{{Price: ask, LeavesQty: 5}},
		Timestamp:  time.Now(),
	})
}

func TestGetHealth(t *testing.T) {
	s, engine, _ := testServer()
	ingestBook(engine, "AAPL", 100, 101)

	var body struct {
		Status      string `json:"status"`
		Instruments int    `json:"instruments"`
		Catalog     int    `json:"catalog"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/health", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Instruments)
	assert.Equal(t, 0, body.Catalog)
}

func TestGetInstrumentsWithoutCatalog(t *testing.T) {
	s, engine, _ := testServer()
	ingestBook(engine, "MSFT", 300, 301)
	ingestBook(engine, "AAPL", 100, 101)

	var body struct {
		Instruments []struct {
			Name string `json:"name"`
		} `json:"instruments"`
		Count int `json:"count"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Instruments, 2)
	assert.Equal(t, "AAPL", body.Instruments[0].Name)
	assert.Equal(t, "MSFT", body.Instruments[1].Name)
}

func TestGetSeries(t *testing.T) {
	s, engine, _ := testServer()
	ingestBook(engine, "AAPL", 100, 101)
	engine.Ingest(&state.Trade{
		Instrument: "AAPL",
		Price:      100.5,
		Volume:     2,
		Buyer:      "alice",
		Seller:     "bob",
		Timestamp:  time.Now(),
	})

	var body struct {
		Instrument  string              `json:"instrument"`
		BBO         []state.BBOSample   `json:"bbo"`
		BidSegments [][]state.BBOSample `json:"bid_segments"`
		AskSegments [][]state.BBOSample `json:"ask_segments"`
		Trades      []state.TradeSample `json:"trades"`
		Range       state.PriceRange    `json:"range"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/AAPL/series", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", body.Instrument)
	require.NotEmpty(t, body.BBO)
	assert.Equal(t, 100.0, *body.BBO[0].BestBid)
	require.Len(t, body.BidSegments, 1)
	require.Len(t, body.Trades, 1)
	assert.Equal(t, "alice", body.Trades[0].Buyer)
	require.NotNil(t, body.Range.Min)
	assert.Equal(t, 100.0, *body.Range.Min)
	assert.Equal(t, 101.0, *body.Range.Max)
}

func TestGetSeriesUnknownWithoutCatalog(t *testing.T) {
	// No reference data loaded, so any instrument is admitted and
	// simply reports empty series.
	s, _, _ := testServer()

	var body struct {
		BBO    []state.BBOSample   `json:"bbo"`
		Trades []state.TradeSample `json:"trades"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/GHOST/series", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body.BBO)
	assert.Empty(t, body.Trades)
}

func TestGetTradesLimit(t *testing.T) {
	s, engine, _ := testServer()
	now := time.Now()
	for i, price := range []float64{100, 101, 102} {
		engine.Ingest(&state.Trade{
			Instrument: "AAPL",
			Price:      price,
			Volume:     1,
			Timestamp:  now.Add(time.Duration(i) * time.Second),
		})
	}

	var body struct {
		Trades []state.TradeSample `json:"trades"`
		Count  int                 `json:"count"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/AAPL/trades?limit=2", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Trades, 2)
	// newest first
	assert.Equal(t, 102.0, body.Trades[0].Price)
	assert.Equal(t, 101.0, body.Trades[1].Price)
}

func TestGetBBO(t *testing.T) {
	s, engine, _ := testServer()
	ingestBook(engine, "AAPL", 100, 101)

	var body struct {
		BestBid *float64 `json:"bid"`
		BestAsk *float64 `json:"ask"`
		Spread  *float64 `json:"spread"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/AAPL/bbo", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body.BestBid)
	assert.Equal(t, 100.0, *body.BestBid)
	assert.Equal(t, 101.0, *body.BestAsk)
	assert.Equal(t, 1.0, *body.Spread)
}

func TestGetBBONotFound(t *testing.T) {
	s, engine, _ := testServer()

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/GHOST/bbo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// tracked but no orderbook yet
	engine.Ingest(&state.Trade{Instrument: "EMPTY", Price: 1, Volume: 1, Timestamp: time.Now()})
	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/EMPTY/bbo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetInstrument(t *testing.T) {
	s, engine, _ := testServer()
	ingestBook(engine, "AAPL", 100, 101)

	var body struct {
		Status string `json:"status"`
	}
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/instruments/AAPL/reset", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset", body.Status)

	var series struct {
		BBO []state.BBOSample `json:"bbo"`
	}
	doJSON(t, s.Handler(), http.MethodGet, "/api/v1/instruments/AAPL/series", &series)
	assert.Empty(t, series.BBO)
}

func TestResetAll(t *testing.T) {
	s, engine, _ := testServer()
	ingestBook(engine, "AAPL", 100, 101)
	engine.Ingest(&state.PnlUpdate{Trader: "T1", Pnl: 5, Timestamp: time.Now()})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Instruments int `json:"instruments"`
		Traders     int `json:"traders"`
	}
	doJSON(t, s.Handler(), http.MethodGet, "/api/v1/health", &health)
	assert.Zero(t, health.Instruments)
	assert.Zero(t, health.Traders)
}

func TestGetPositionsSorted(t *testing.T) {
	s, engine, _ := testServer()
	now := time.Now()
	engine.Ingest(&state.PositionUpdate{Trader: "T1", Positions: map[string]float64{"AAPL": 10}, Timestamp: now})
	engine.Ingest(&state.PositionUpdate{Trader: "T2", Positions: map[string]float64{"AAPL": -30}, Timestamp: now})
	engine.Ingest(&state.PositionUpdate{Trader: "T3", Positions: map[string]float64{"MSFT": 20}, Timestamp: now})

	var body struct {
		Positions []state.PositionEntry `json:"positions"`
		Sort      string                `json:"sort"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/positions?sort=abs_position", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abs_position", body.Sort)
	require.Len(t, body.Positions, 3)
	assert.Equal(t, -30.0, body.Positions[0].Position)
	assert.Equal(t, 20.0, body.Positions[1].Position)
	assert.Equal(t, 10.0, body.Positions[2].Position)
}

func TestGetPnlAndHistory(t *testing.T) {
	s, engine, _ := testServer()
	now := time.Now()
	engine.Ingest(&state.PnlUpdate{Trader: "T1", Pnl: 50, Timestamp: now.Add(-time.Second)})
	engine.Ingest(&state.PnlUpdate{Trader: "T1", Pnl: -20, Timestamp: now})
	engine.Ingest(&state.PnlUpdate{Trader: "T2", Pnl: 10, Timestamp: now})

	var pnl struct {
		Total   float64            `json:"total"`
		Latest  map[string]float64 `json:"latest"`
		Traders []string           `json:"traders"`
	}
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/pnl", &pnl)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, -10.0, pnl.Total, 1e-9)
	assert.Equal(t, -20.0, pnl.Latest["T1"])
	assert.Equal(t, []string{"T1", "T2"}, pnl.Traders)

	var history struct {
		Points     []state.PnlPoint `json:"points"`
		Count      int              `json:"count"`
		WindowSecs int              `json:"window_secs"`
	}
	doJSON(t, s.Handler(), http.MethodGet, "/api/v1/pnl/history?window=60", &history)

	assert.Equal(t, 3, history.Count)
	assert.Equal(t, 60, history.WindowSecs)
	require.Len(t, history.Points, 3)
	assert.Equal(t, "T1", history.Points[0].Trader)
	assert.Equal(t, 50.0, history.Points[0].Value)
}

func TestMetricsEndpoint(t *testing.T) {
	engine := state.NewEngine(state.Config{}, nil)
	hub := stream.NewHub(4, nil)

	withMetrics := NewServer(config.APIConfig{}, engine, hub, nil, metrics.New("test"))
	rec := doJSON(t, withMetrics.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_feed_connected")

	without, _, _ := testServer()
	rec = doJSON(t, without.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamInstrument(t *testing.T) {
	s, _, hub := testServer()
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/sse/AAPL")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"connected\"}\n", line)

	// subscription is live once the hello arrived
	hub.Publish("AAPL", []byte(`{"type":"trade"}`))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if line == "data: {\"type\":\"trade\"}\n" {
			break
		}
	}
}

func TestParseInt(t *testing.T) {
	n, err := parseInt("42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = parseInt("nope")
	assert.Error(t, err)
}
