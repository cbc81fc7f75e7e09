package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reference-data fallbacks applied when a static_data key is missing.
const (
	defaultAbsoluteLimit = 1000.0
	defaultDeltaLimit    = 20.0
	defaultMaxOrderSize  = 10000.0
)

const (
	keyUnderlyings = "static_data:underlyings"
	keyInstruments = "static_data:instruments"
)

// InstrumentDetails is the reference data for one tradable instrument.
type InstrumentDetails struct {
	Name          string  `json:"name"`
	Underlying    string  `json:"underlying"`
	TickSize      float64 `json:"tick_size"`
	AbsoluteLimit float64 `json:"absolute_limit"`
	DeltaLimit    float64 `json:"delta_limit"`
	MaxOrderSize  float64 `json:"max_order_size"`
}

// Catalog holds the instrument universe loaded from the static_data keys
// and refreshed periodically. An empty catalog admits any instrument seen
// on the feed, so the board still works against a bus with no reference
// data loaded.
type Catalog struct {
	mu          sync.RWMutex
	instruments map[string]InstrumentDetails

	client  *redis.Client
	refresh time.Duration
}

func NewCatalog(client *redis.Client, refresh time.Duration) *Catalog {
	if refresh <= 0 {
		refresh = time.Minute
	}
	return &Catalog{
		instruments: make(map[string]InstrumentDetails),
		client:      client,
		refresh:     refresh,
	}
}

// Run loads the catalog once, then refreshes it on a ticker. Load
// failures keep the previous catalog.
func (c *Catalog) Run(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		log.Printf("catalog: initial load failed: %v", err)
	}

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Load(ctx); err != nil {
				log.Printf("catalog: refresh failed: %v", err)
			}
		}
	}
}

// Load reads the static_data keys and swaps in the parsed universe.
func (c *Catalog) Load(ctx context.Context) error {
	if c.client == nil {
		return errors.New("no redis client")
	}

	rawUnderlyings, err := c.get(ctx, keyUnderlyings)
	if err != nil {
		return fmt.Errorf("load %s: %w", keyUnderlyings, err)
	}
	rawInstruments, err := c.get(ctx, keyInstruments)
	if err != nil {
		return fmt.Errorf("load %s: %w", keyInstruments, err)
	}

	deltaLimits, err := parseUnderlyings(rawUnderlyings)
	if err != nil {
		return fmt.Errorf("parse %s: %w", keyUnderlyings, err)
	}
	parsed, err := parseInstruments(rawInstruments, deltaLimits)
	if err != nil {
		return fmt.Errorf("parse %s: %w", keyInstruments, err)
	}

	for name, details := range parsed {
		details.AbsoluteLimit = c.absoluteLimit(ctx, name)
		parsed[name] = details
	}

	c.mu.Lock()
	c.instruments = parsed
	c.mu.Unlock()

	log.Printf("catalog: loaded %d instruments", len(parsed))
	return nil
}

func (c *Catalog) get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (c *Catalog) absoluteLimit(ctx context.Context, instrument string) float64 {
	raw, err := c.get(ctx, "static_data:"+instrument+":absolute_limit")
	if err != nil || raw == "" {
		return defaultAbsoluteLimit
	}
	limit, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultAbsoluteLimit
	}
	return limit
}

// Known reports whether name is in the universe. An empty catalog admits
// everything.
func (c *Catalog) Known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.instruments) == 0 {
		return true
	}
	_, ok := c.instruments[name]
	return ok
}

// Get returns the details for name.
func (c *Catalog) Get(name string) (InstrumentDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	details, ok := c.instruments[name]
	return details, ok
}

// List returns every instrument, sorted by name.
func (c *Catalog) List() []InstrumentDetails {
	c.mu.RLock()
	out := make([]InstrumentDetails, 0, len(c.instruments))
	for _, details := range c.instruments {
		out = append(out, details)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the universe size.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}

type wireUnderlying struct {
	Name       string   `json:"name"`
	DeltaLimit *float64 `json:"delta_limit"`
}

type wireInstrument struct {
	Name         string   `json:"name"`
	Underlying   string   `json:"underlying"`
	TickSize     *float64 `json:"tick_size"`
	MaxOrderSize *float64 `json:"max_order_size"`
}

// parseUnderlyings maps underlying name to its delta limit. Entries
// without a name are skipped; a missing limit takes the default.
func parseUnderlyings(raw string) (map[string]float64, error) {
	out := make(map[string]float64)
	if raw == "" {
		return out, nil
	}
	var entries []wireUnderlying
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	for _, u := range entries {
		if u.Name == "" {
			continue
		}
		limit := defaultDeltaLimit
		if u.DeltaLimit != nil {
			limit = *u.DeltaLimit
		}
		out[u.Name] = limit
	}
	return out, nil
}

// parseInstruments builds the universe, inheriting each instrument's
// delta limit from its underlying. Entries missing a name, underlying or
// tick size are skipped.
func parseInstruments(raw string, deltaLimits map[string]float64) (map[string]InstrumentDetails, error) {
	out := make(map[string]InstrumentDetails)
	if raw == "" {
		return out, nil
	}
	var entries []wireInstrument
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	for _, in := range entries {
		if in.Name == "" || in.Underlying == "" || in.TickSize == nil {
			continue
		}
		details := InstrumentDetails{
			Name:          in.Name,
			Underlying:    in.Underlying,
			TickSize:      *in.TickSize,
			AbsoluteLimit: defaultAbsoluteLimit,
			DeltaLimit:    defaultDeltaLimit,
			MaxOrderSize:  defaultMaxOrderSize,
		}
		if limit, ok := deltaLimits[in.Underlying]; ok {
			details.DeltaLimit = limit
		}
		if in.MaxOrderSize != nil {
			details.MaxOrderSize = *in.MaxOrderSize
		}
		out[in.Name] = details
	}
	return out, nil
}
