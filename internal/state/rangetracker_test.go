package state

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noRecompute(t *testing.T) func() PriceRange {
	return func() PriceRange {
		t.Fatal("recompute called without a preceding invalidate")
		return PriceRange{}
	}
}

func TestRangeTrackerEmpty(t *testing.T) {
	var rt RangeTracker
	r := rt.Value(noRecompute(t))
	assert.Nil(t, r.Min)
	assert.Nil(t, r.Max)
}

func TestRangeTrackerObserveExtends(t *testing.T) {
	var rt RangeTracker
	rt.Observe(10)
	rt.Observe(5, 20)

	r := rt.Value(noRecompute(t))
	require.NotNil(t, r.Min)
	require.NotNil(t, r.Max)
	assert.Equal(t, 5.0, *r.Min)
	assert.Equal(t, 20.0, *r.Max)
}

func TestRangeTrackerIgnoresNonFinite(t *testing.T) {
	var rt RangeTracker
	rt.Observe(math.NaN(), math.Inf(1), math.Inf(-1))

	r := rt.Value(noRecompute(t))
	assert.Nil(t, r.Min)

	rt.Observe(7, math.NaN())
	r = rt.Value(noRecompute(t))
	require.NotNil(t, r.Min)
	assert.Equal(t, 7.0, *r.Min)
	assert.Equal(t, 7.0, *r.Max)
}

func TestRangeTrackerInvalidateRecomputesOnce(t *testing.T) {
	var rt RangeTracker
	rt.Observe(10, 30)
	rt.Invalidate()

	calls := 0
	recompute := func() PriceRange {
		calls++
		lo, hi := 12.0, 25.0
		return PriceRange{Min: &lo, Max: &hi}
	}

	r := rt.Value(recompute)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 12.0, *r.Min)
	assert.Equal(t, 25.0, *r.Max)
	assert.Equal(t, uint64(1), rt.Rescans())

	// cached until the next invalidate
	r = rt.Value(recompute)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 12.0, *r.Min)
}

func TestRangeTrackerRecomputeToEmpty(t *testing.T) {
	var rt RangeTracker
	rt.Observe(10)
	rt.Invalidate()

	r := rt.Value(func() PriceRange { return PriceRange{} })
	assert.Nil(t, r.Min)
	assert.Nil(t, r.Max)

	// fresh observations rebuild the bounds without another rescan
	rt.Observe(3)
	r = rt.Value(noRecompute(t))
	require.NotNil(t, r.Min)
	assert.Equal(t, 3.0, *r.Min)
	assert.Equal(t, uint64(1), rt.Rescans())
}

func TestRangeTrackerMatchesFullScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var rt RangeTracker

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < 500; i++ {
		p := rng.Float64()*200 - 100
		rt.Observe(p)
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}

	r := rt.Value(noRecompute(t))
	require.NotNil(t, r.Min)
	assert.Equal(t, lo, *r.Min)
	assert.Equal(t, hi, *r.Max)
}
