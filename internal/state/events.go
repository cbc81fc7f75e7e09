package state

import "time"

// PriceLevel is one resting price level of an order book side. Multiple
// levels at the same price are summed during BBO derivation.
type PriceLevel struct {
	Price     float64 `json:"price"`
	LeavesQty float64 `json:"leaves_qty"`
}

// MarketEvent is the closed set of inputs the engine accepts. Payloads are
// classified into one of the four variants exactly once, at the transport
// boundary; nothing downstream inspects a type discriminant.
type MarketEvent interface {
	EventTime() time.Time
	marketEvent()
}

// OrderbookUpdate is a full snapshot of an instrument's resting interest.
type OrderbookUpdate struct {
	Instrument string       `json:"instrument"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Trade is a single print on an instrument.
type Trade struct {
	Instrument    string    `json:"instrument"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Buyer         string    `json:"buyer"`
	Seller        string    `json:"seller"`
	BuyerOrderID  string    `json:"buyer_order_id"`
	SellerOrderID string    `json:"seller_order_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// PositionUpdate carries a trader's signed quantities per instrument.
type PositionUpdate struct {
	Trader    string             `json:"trader"`
	Positions map[string]float64 `json:"positions"`
	Timestamp time.Time          `json:"timestamp"`
}

// PnlUpdate carries a trader's marked P&L.
type PnlUpdate struct {
	Trader    string    `json:"trader"`
	Pnl       float64   `json:"pnl"`
	Timestamp time.Time `json:"timestamp"`
}

func (u *OrderbookUpdate) EventTime() time.Time { return u.Timestamp }
func (t *Trade) EventTime() time.Time           { return t.Timestamp }
func (p *PositionUpdate) EventTime() time.Time  { return p.Timestamp }
func (p *PnlUpdate) EventTime() time.Time       { return p.Timestamp }

func (*OrderbookUpdate) marketEvent() {}
func (*Trade) marketEvent()           {}
func (*PositionUpdate) marketEvent()  {}
func (*PnlUpdate) marketEvent()       {}
