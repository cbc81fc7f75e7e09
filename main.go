package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/exchange-market-board/internal/api"
	"github.com/exchange-market-board/internal/config"
	"github.com/exchange-market-board/internal/ingestion"
	"github.com/exchange-market-board/internal/metrics"
	"github.com/exchange-market-board/internal/state"
	"github.com/exchange-market-board/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Exchange Market Board")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded")

	// Initialize metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
		log.Println("Metrics registry initialized")
	}

	// Initialize state engine
	stateEngine := state.NewEngine(state.Config{
		BBOWindow:     time.Duration(cfg.Windows.BBOSecs) * time.Second,
		TradeWindow:   time.Duration(cfg.Windows.TradeSecs) * time.Second,
		PnlWindow:     time.Duration(cfg.Windows.PnlSecs) * time.Second,
		SweepInterval: time.Duration(cfg.Windows.SweepIntervalMillis) * time.Millisecond,
		TradeTail:     cfg.Display.TradeTail,
		PositionLimit: cfg.Display.PositionLimit,
	}, m)
	log.Println("State engine initialized")

	// Initialize SSE hub
	hub := stream.NewHub(cfg.Display.StreamBuffer, m)

	// Initialize instrument catalog when reference data is reachable
	var catalog *ingestion.Catalog
	if cfg.Redis.URL != "" {
		client, err := ingestion.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to initialize redis client: %v", err)
		}
		catalog = ingestion.NewCatalog(client, time.Duration(cfg.Redis.CatalogRefreshSecs)*time.Second)
		log.Println("Instrument catalog initialized")
	}

	// Initialize feed source and ingestion layer
	source, err := ingestion.NewSource(*cfg, m)
	if err != nil {
		log.Fatalf("Failed to initialize feed source: %v", err)
	}
	ingestionLayer := ingestion.NewLayer(source, stateEngine, hub, catalog, m)
	log.Println("Ingestion layer initialized")

	// Initialize API server
	apiServer := api.NewServer(cfg.API, stateEngine, hub, catalog, m)
	log.Println("API server initialized")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start all components
	var wg sync.WaitGroup

	// Start ingestion
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestionLayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Ingestion layer error: %v", err)
		}
	}()

	// Start the eviction sweeper
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stateEngine.RunSweeper(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Sweeper error: %v", err)
		}
	}()

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	log.Println("All components started. System running...")

	// Wait for interrupt signal
	<-sigChan
	log.Println("Shutting down...")

	// Cancel context to stop all components
	cancel()

	// Wait for all components to finish
	wg.Wait()
	log.Println("Shutdown complete")
}
