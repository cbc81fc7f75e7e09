package state

// Side selects which side of a BBO series a renderer draws.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

func (s Side) of(sample BBOSample) *float64 {
	if s == SideBid {
		return sample.BestBid
	}
	return sample.BestAsk
}

// SegmentBySide splits series into maximal runs of samples whose selected
// side is present, preserving order. A renderer draws each run as one
// polyline and leaves a visual gap where the book had no resting
// interest instead of interpolating across it.
func SegmentBySide(series []BBOSample, side Side) [][]BBOSample {
	var segments [][]BBOSample
	var current []BBOSample
	for _, sample := range series {
		if side.of(sample) == nil {
			if len(current) > 0 {
				segments = append(segments, current)
				current = nil
			}
			continue
		}
		current = append(current, sample)
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}
