package state

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPnlLatestAndAggregate(t *testing.T) {
	p := NewPnlEngine(30*time.Minute, nil)
	p.Ingest("T1", 50, baseTime)
	p.Ingest("T1", -20, baseTime.Add(time.Second))
	p.Ingest("T2", 10, baseTime.Add(2*time.Second))

	latest := p.LatestByTrader()
	require.Len(t, latest, 2)
	assert.Equal(t, -20.0, latest["T1"])
	assert.Equal(t, 10.0, latest["T2"])
	assert.InDelta(t, -10.0, p.AggregateTotal(), 1e-9)

	assert.Equal(t, []string{"T1", "T2"}, p.Traders())
}

func TestPnlWindowEviction(t *testing.T) {
	p := NewPnlEngine(30*time.Minute, nil)
	p.Ingest("T1", 100, baseTime)
	p.Ingest("T1", 200, baseTime.Add(31*time.Minute))

	latest := p.LatestByTrader()
	assert.Equal(t, 200.0, latest["T1"])

	points := p.HistorySince(baseTime.Add(31*time.Minute), 30*time.Minute)
	require.Len(t, points, 1)
	assert.Equal(t, 200.0, points[0].Value)
}

func TestPnlIngestRejectsNonFinite(t *testing.T) {
	p := NewPnlEngine(30*time.Minute, nil)
	p.Ingest("T1", math.NaN(), baseTime)
	p.Ingest("", 5, baseTime)

	assert.Empty(t, p.Traders())
	assert.Zero(t, p.AggregateTotal())
}

func TestPnlHistorySinceFlattensAscending(t *testing.T) {
	p := NewPnlEngine(30*time.Minute, nil)
	p.Ingest("T2", 1, baseTime.Add(2*time.Minute))
	p.Ingest("T1", 2, baseTime.Add(time.Minute))
	p.Ingest("T1", 3, baseTime.Add(3*time.Minute))
	p.Ingest("T2", 4, baseTime.Add(4*time.Minute))

	points := p.HistorySince(baseTime.Add(5*time.Minute), 30*time.Minute)
	require.Len(t, points, 4)
	for i := 1; i < len(points); i++ {
		assert.False(t, points[i].Timestamp.Before(points[i-1].Timestamp))
	}
	assert.Equal(t, "T1", points[0].Trader)
	assert.Equal(t, 2.0, points[0].Value)
	assert.Equal(t, "T2", points[3].Trader)
}

func TestPnlHistorySinceNarrowWindow(t *testing.T) {
	p := NewPnlEngine(30*time.Minute, nil)
	p.Ingest("T1", 1, baseTime)
	p.Ingest("T1", 2, baseTime.Add(20*time.Minute))

	now := baseTime.Add(25 * time.Minute)
	points := p.HistorySince(now, 10*time.Minute)
	require.Len(t, points, 1)
	assert.Equal(t, 2.0, points[0].Value)

	// a window wider than retention clamps to retention
	points = p.HistorySince(now, 5*time.Hour)
	assert.Len(t, points, 2)
}

func TestPnlSweepForgetsDrainedTraders(t *testing.T) {
	p := NewPnlEngine(30*time.Minute, nil)
	p.Ingest("T1", 1, baseTime)
	p.Ingest("T2", 2, baseTime.Add(20*time.Minute))

	p.Sweep(baseTime.Add(35 * time.Minute))

	assert.Equal(t, []string{"T2"}, p.Traders())
	latest := p.LatestByTrader()
	_, stillThere := latest["T1"]
	assert.False(t, stillThere)
}
