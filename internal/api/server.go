package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/ingestion"
	"github.com/exchange-market-board/internal/metrics"
	"github.com/exchange-market-board/internal/state"
	"github.com/exchange-market-board/internal/stream"
)

type Server struct {
	config  config.APIConfig
	engine  *state.Engine
	hub     *stream.Hub
	catalog *ingestion.Catalog
	metrics *metrics.Metrics
	server  *http.Server
	started time.Time
}

func NewServer(cfg config.APIConfig, engine *state.Engine, hub *stream.Hub, catalog *ingestion.Catalog, m *metrics.Metrics) *Server {
	return &Server{
		config:  cfg,
		engine:  engine,
		hub:     hub,
		catalog: catalog,
		metrics: m,
		started: time.Now(),
	}
}

// Handler builds the routing table wrapped in CORS.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/instruments", s.getInstruments).Methods("GET")
	api.HandleFunc("/instruments/{instrument}/series", s.getSeries).Methods("GET")
	api.HandleFunc("/instruments/{instrument}/trades", s.getTrades).Methods("GET")
	api.HandleFunc("/instruments/{instrument}/bbo", s.getBBO).Methods("GET")
	api.HandleFunc("/instruments/{instrument}/range", s.getRange).Methods("GET")
	api.HandleFunc("/instruments/{instrument}/reset", s.resetInstrument).Methods("POST")
	api.HandleFunc("/reset", s.resetAll).Methods("POST")
	api.HandleFunc("/positions", s.getPositions).Methods("GET")
	api.HandleFunc("/pnl", s.getPnl).Methods("GET")
	api.HandleFunc("/pnl/history", s.getPnlHistory).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")

	// Streaming and metrics live outside the versioned prefix
	router.HandleFunc("/sse/pnl", s.streamPnl).Methods("GET")
	router.HandleFunc("/sse/{instrument}", s.streamInstrument).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	return c.Handler(router)
}

func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.config.BindAddress,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown: %v", err)
		}
	}()

	log.Printf("API server starting on %s", s.config.BindAddress)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// admitted reports whether instrument is worth serving: anything in a
// loaded catalog, anything already tracked, and everything when running
// without reference data.
func (s *Server) admitted(instrument string) bool {
	if _, ok := s.engine.Lookup(instrument); ok {
		return true
	}
	if s.catalog != nil && s.catalog.Len() > 0 {
		return s.catalog.Known(instrument)
	}
	return true
}

func (s *Server) getInstruments(w http.ResponseWriter, r *http.Request) {
	var instruments []ingestion.InstrumentDetails
	if s.catalog != nil && s.catalog.Len() > 0 {
		instruments = s.catalog.List()
	} else {
		// No reference data loaded; expose whatever the feed produced.
		for _, name := range s.engine.Instruments() {
			instruments = append(instruments, ingestion.InstrumentDetails{Name: name})
		}
	}

	response := struct {
		Instruments []ingestion.InstrumentDetails `json:"instruments"`
		Count       int                           `json:"count"`
	}{
		Instruments: instruments,
		Count:       len(instruments),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getSeries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instrument := vars["instrument"]

	if !s.admitted(instrument) {
		http.Error(w, "Instrument not found", http.StatusNotFound)
		return
	}

	me := s.engine.Market(instrument)
	now := time.Now()
	bbo, trades := me.ExportSeries(now)

	// Optional display window narrower than retention
	if windowStr := r.URL.Query().Get("window"); windowStr != "" {
		if secs, err := parseInt(windowStr); err == nil && secs > 0 {
			cutoff := now.Add(-time.Duration(secs) * time.Second)
			bbo = clipBBO(bbo, cutoff)
			trades = clipTrades(trades, cutoff)
		}
	}

	response := struct {
		Instrument  string              `json:"instrument"`
		BBO         []state.BBOSample   `json:"bbo"`
		BidSegments [][]state.BBOSample `json:"bid_segments"`
		AskSegments [][]state.BBOSample `json:"ask_segments"`
		Trades      []state.TradeSample `json:"trades"`
		Range       state.PriceRange    `json:"range"`
		Timestamp   time.Time           `json:"timestamp"`
	}{
		Instrument:  instrument,
		BBO:         bbo,
		BidSegments: state.SegmentBySide(bbo, state.SideBid),
		AskSegments: state.SegmentBySide(bbo, state.SideAsk),
		Trades:      trades,
		Range:       me.CurrentRange(),
		Timestamp:   now,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instrument := vars["instrument"]

	if !s.admitted(instrument) {
		http.Error(w, "Instrument not found", http.StatusNotFound)
		return
	}

	limit := s.engine.Config().TradeTail
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	trades := s.engine.Market(instrument).RecentTrades(limit)

	response := struct {
		Instrument string              `json:"instrument"`
		Trades     []state.TradeSample `json:"trades"`
		Count      int                 `json:"count"`
	}{
		Instrument: instrument,
		Trades:     trades,
		Count:      len(trades),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getBBO(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instrument := vars["instrument"]

	me, ok := s.engine.Lookup(instrument)
	if !ok {
		http.Error(w, "Instrument not found", http.StatusNotFound)
		return
	}
	sample, ok := me.CurrentBBO()
	if !ok {
		http.Error(w, "No orderbook received yet", http.StatusNotFound)
		return
	}

	response := struct {
		Instrument string    `json:"instrument"`
		BestBid    *float64  `json:"bid"`
		BestAsk    *float64  `json:"ask"`
		Spread     *float64  `json:"spread"`
		Timestamp  time.Time `json:"timestamp"`
	}{
		Instrument: instrument,
		BestBid:    sample.BestBid,
		BestAsk:    sample.BestAsk,
		Spread:     sample.Spread(),
		Timestamp:  sample.Timestamp,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getRange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instrument := vars["instrument"]

	me, ok := s.engine.Lookup(instrument)
	if !ok {
		http.Error(w, "Instrument not found", http.StatusNotFound)
		return
	}

	response := struct {
		Instrument string           `json:"instrument"`
		Range      state.PriceRange `json:"range"`
		Timestamp  time.Time        `json:"timestamp"`
	}{
		Instrument: instrument,
		Range:      me.CurrentRange(),
		Timestamp:  time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) resetInstrument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instrument := vars["instrument"]

	s.engine.ResetInstrument(instrument)
	log.Printf("API: reset instrument %q", instrument)

	response := struct {
		Status     string    `json:"status"`
		Instrument string    `json:"instrument"`
		Timestamp  time.Time `json:"timestamp"`
	}{
		Status:     "reset",
		Instrument: instrument,
		Timestamp:  time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) resetAll(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetAll()
	log.Printf("API: reset all subjects")

	response := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "reset",
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getPositions(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	sortBy := state.ParsePositionSort(r.URL.Query().Get("sort"))

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	positions := s.engine.Positions().SnapshotSorted(filter, sortBy, limit)

	response := struct {
		Positions []state.PositionEntry `json:"positions"`
		Count     int                   `json:"count"`
		Sort      string                `json:"sort"`
		Timestamp time.Time             `json:"timestamp"`
	}{
		Positions: positions,
		Count:     len(positions),
		Sort:      string(sortBy),
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getPnl(w http.ResponseWriter, r *http.Request) {
	pnl := s.engine.Pnl()

	response := struct {
		Total     float64            `json:"total"`
		Latest    map[string]float64 `json:"latest"`
		Traders   []string           `json:"traders"`
		Timestamp time.Time          `json:"timestamp"`
	}{
		Total:     pnl.AggregateTotal(),
		Latest:    pnl.LatestByTrader(),
		Traders:   pnl.Traders(),
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getPnlHistory(w http.ResponseWriter, r *http.Request) {
	pnl := s.engine.Pnl()

	window := pnl.Window()
	if windowStr := r.URL.Query().Get("window"); windowStr != "" {
		if secs, err := parseInt(windowStr); err == nil && secs > 0 {
			window = time.Duration(secs) * time.Second
		}
	}

	points := pnl.HistorySince(time.Now(), window)

	response := struct {
		Points     []state.PnlPoint `json:"points"`
		Count      int              `json:"count"`
		WindowSecs int              `json:"window_secs"`
	}{
		Points:     points,
		Count:      len(points),
		WindowSecs: int(window / time.Second),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	catalogSize := 0
	if s.catalog != nil {
		catalogSize = s.catalog.Len()
	}

	response := struct {
		Status      string    `json:"status"`
		Timestamp   time.Time `json:"timestamp"`
		UptimeSecs  int       `json:"uptime_secs"`
		Instruments int       `json:"instruments"`
		Catalog     int       `json:"catalog"`
		Traders     int       `json:"traders"`
		Positions   int       `json:"positions"`
	}{
		Status:      "healthy",
		Timestamp:   time.Now(),
		UptimeSecs:  int(time.Since(s.started) / time.Second),
		Instruments: len(s.engine.Instruments()),
		Catalog:     catalogSize,
		Traders:     len(s.engine.Pnl().Traders()),
		Positions:   s.engine.Positions().Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func clipBBO(samples []state.BBOSample, cutoff time.Time) []state.BBOSample {
	out := make([]state.BBOSample, 0, len(samples))
	for _, sample := range samples {
		if sample.Timestamp.After(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

func clipTrades(samples []state.TradeSample, cutoff time.Time) []state.TradeSample {
	out := make([]state.TradeSample, 0, len(samples))
	for _, sample := range samples {
		if sample.Timestamp.After(cutoff) {
			out = append(out, sample)
		}
	}
	return out
}

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}
