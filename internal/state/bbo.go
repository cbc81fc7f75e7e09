package state

import "time"

// BBOSample is one best-bid/offer observation. A nil side means the book
// had no aggregate resting interest there. Synthetic samples (Real=false)
// are carry-forward points appended while exporting, not observations.
type BBOSample struct {
	Timestamp time.Time `json:"t"`
	BestBid   *float64  `json:"bid"`
	BestAsk   *float64  `json:"ask"`
	Real      bool      `json:"real"`
}

// Spread returns ask-bid when both sides are present.
func (s BBOSample) Spread() *float64 {
	if s.BestBid == nil || s.BestAsk == nil {
		return nil
	}
	sp := *s.BestAsk - *s.BestBid
	return &sp
}

// BBOCache memoizes BBO derivation on the identity of the book snapshot.
// Deriving from the same *OrderbookUpdate again returns the cached
// sample, which keeps poll-driven reads O(1) between ingests. The cache
// is discarded with its engine on reset rather than cleared in place.
type BBOCache struct {
	lastBook   *OrderbookUpdate
	cached     BBOSample
	recomputes uint64
}

// Derive computes the best bid and ask of book. Quantities at the same
// price are summed before comparison; levels with non-finite price or
// quantity are skipped; a side whose aggregate interest is zero or
// negative everywhere is absent.
func (c *BBOCache) Derive(book *OrderbookUpdate) BBOSample {
	if book == nil {
		return BBOSample{}
	}
	if book == c.lastBook {
		return c.cached
	}
	sample := BBOSample{Timestamp: book.Timestamp, Real: true}
	sample.BestBid = bestPrice(book.Bids, func(p, best float64) bool { return p > best })
	sample.BestAsk = bestPrice(book.Asks, func(p, best float64) bool { return p < best })
	c.lastBook = book
	c.cached = sample
	c.recomputes++
	return sample
}

// Recomputes reports how many times Derive ran a full scan.
func (c *BBOCache) Recomputes() uint64 { return c.recomputes }

func bestPrice(levels []PriceLevel, better func(p, best float64) bool) *float64 {
	if len(levels) == 0 {
		return nil
	}
	qtyByPrice := make(map[float64]float64, len(levels))
	for _, lv := range levels {
		if !isFinite(lv.Price) || !isFinite(lv.LeavesQty) {
			continue
		}
		qtyByPrice[lv.Price] += lv.LeavesQty
	}
	var best *float64
	for price, qty := range qtyByPrice {
		if qty <= 0 {
			continue
		}
		if best == nil || better(price, *best) {
			p := price
			best = &p
		}
	}
	return best
}
