package state

import "math"

// PriceRange is the min/max over every retained BBO price and trade
// print. Nil bounds mean no finite sample is retained.
type PriceRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// RangeTracker keeps incremental min/max bounds over a stream of prices.
// Observe extends the bounds in O(1). Eviction can remove the extremal
// sample, which a min/max pair cannot undo incrementally, so owners call
// Invalidate after evicting and the next Value pays one full rescan.
type RangeTracker struct {
	min, max float64
	has      bool
	stale    bool
	rescans  uint64
}

// Observe folds prices into the bounds, ignoring NaN and infinities.
func (rt *RangeTracker) Observe(prices ...float64) {
	for _, p := range prices {
		if !isFinite(p) {
			continue
		}
		if !rt.has {
			rt.min, rt.max = p, p
			rt.has = true
			continue
		}
		if p < rt.min {
			rt.min = p
		}
		if p > rt.max {
			rt.max = p
		}
	}
}

// Invalidate marks the cached bounds stale.
func (rt *RangeTracker) Invalidate() {
	rt.has = false
	rt.stale = true
}

// Value returns the current bounds, running recompute first if an
// Invalidate left them stale.
func (rt *RangeTracker) Value(recompute func() PriceRange) PriceRange {
	if rt.stale {
		r := recompute()
		rt.stale = false
		rt.rescans++
		rt.has = r.Min != nil && r.Max != nil
		if rt.has {
			rt.min, rt.max = *r.Min, *r.Max
		}
	}
	return rt.current()
}

// Rescans reports how many full recomputes Value has performed.
func (rt *RangeTracker) Rescans() uint64 { return rt.rescans }

func (rt *RangeTracker) current() PriceRange {
	if !rt.has {
		return PriceRange{}
	}
	lo, hi := rt.min, rt.max
	return PriceRange{Min: &lo, Max: &hi}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func floatOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
