package state

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// PositionEntry is the latest known position for one (trader, instrument)
// pair.
type PositionEntry struct {
	Trader     string    `json:"trader"`
	Instrument string    `json:"instrument"`
	Position   float64   `json:"position"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PositionSort selects the primary ordering of SnapshotSorted.
type PositionSort string

const (
	SortByTrader      PositionSort = "trader"
	SortByInstrument  PositionSort = "instrument"
	SortByAbsPosition PositionSort = "abs_position"
)

// ParsePositionSort maps a query value onto a sort order, defaulting to
// trader for anything unrecognized.
func ParsePositionSort(s string) PositionSort {
	switch PositionSort(s) {
	case SortByInstrument:
		return SortByInstrument
	case SortByAbsPosition:
		return SortByAbsPosition
	default:
		return SortByTrader
	}
}

type positionKey struct {
	trader     string
	instrument string
}

// PositionBook keeps the latest position per (trader, instrument). Values
// overwrite rather than accumulate, so replaying the same update is
// idempotent.
type PositionBook struct {
	mu      sync.RWMutex
	entries map[positionKey]PositionEntry
	limit   int
}

func NewPositionBook(limit int) *PositionBook {
	if limit <= 0 {
		limit = 50
	}
	return &PositionBook{
		entries: make(map[positionKey]PositionEntry),
		limit:   limit,
	}
}

// Apply overwrites the entry for one (trader, instrument) pair.
func (b *PositionBook) Apply(trader, instrument string, position float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyLocked(trader, instrument, position, at)
}

// ApplyUpdate applies every pair of the update under one lock hold, so a
// concurrent snapshot never sees the batch half-applied. Instruments the
// update does not mention keep their last value.
func (b *PositionBook) ApplyUpdate(update *PositionUpdate) {
	if update == nil || update.Trader == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for instrument, qty := range update.Positions {
		b.applyLocked(update.Trader, instrument, qty, update.Timestamp)
	}
}

func (b *PositionBook) applyLocked(trader, instrument string, position float64, at time.Time) {
	if instrument == "" || !isFinite(position) {
		return
	}
	b.entries[positionKey{trader: trader, instrument: instrument}] = PositionEntry{
		Trader:     trader,
		Instrument: instrument,
		Position:   position,
		UpdatedAt:  at,
	}
}

// Len reports the number of live (trader, instrument) entries.
func (b *PositionBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// SnapshotSorted returns up to limit entries, filtered by a
// case-insensitive substring match against trader or instrument and
// ordered by sortBy. String orders are ascending, absolute position is
// descending, and every order breaks ties by (trader, instrument)
// ascending so the table renders identically for identical state.
func (b *PositionBook) SnapshotSorted(filter string, sortBy PositionSort, limit int) []PositionEntry {
	needle := strings.ToLower(filter)

	b.mu.RLock()
	out := make([]PositionEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		if needle != "" &&
			!strings.Contains(strings.ToLower(entry.Trader), needle) &&
			!strings.Contains(strings.ToLower(entry.Instrument), needle) {
			continue
		}
		out = append(out, entry)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		switch sortBy {
		case SortByInstrument:
			if x.Instrument != y.Instrument {
				return x.Instrument < y.Instrument
			}
		case SortByAbsPosition:
			xa, ya := math.Abs(x.Position), math.Abs(y.Position)
			if xa != ya {
				return xa > ya
			}
		default:
			if x.Trader != y.Trader {
				return x.Trader < y.Trader
			}
		}
		if x.Trader != y.Trader {
			return x.Trader < y.Trader
		}
		return x.Instrument < y.Instrument
	})

	if limit <= 0 || limit > b.limit {
		limit = b.limit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
