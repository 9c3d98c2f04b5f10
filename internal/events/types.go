package events

import "time"

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventPriceTick        Event = "price_tick"
	EventTransition       Event = "symbol.transition"
	EventSymbolRemoved    Event = "symbol.removed"
	EventSymbolFlagged    Event = "symbol.flagged"
	EventOrderSubmitted   Event = "order.submitted"
	EventOrderRejected    Event = "order.rejected"
	EventOrderFilled      Event = "order.filled"
	EventOrderCancelled   Event = "order.cancelled"
	EventOrderModified    Event = "order.modified"
	EventPositionOpened   Event = "position.opened"
	EventPositionClosed   Event = "position.closed"
	EventStopLossModified Event = "position.sl_modified"
	EventHMAUpdated       Event = "hma.updated"
)

// All lists every topic, for relays that forward everything.
var All = []Event{
	EventTransition, EventSymbolRemoved, EventSymbolFlagged,
	EventOrderSubmitted, EventOrderRejected, EventOrderFilled, EventOrderCancelled, EventOrderModified,
	EventPositionOpened, EventPositionClosed, EventStopLossModified, EventHMAUpdated,
}

// Transition is published whenever a symbol changes trigger status.
type Transition struct {
	SymbolID string    `json:"symbolId"`
	Symbol   string    `json:"symbol"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	LTP      float64   `json:"ltp"`
	HMA      float64   `json:"hma"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// OrderEvent describes an order milestone.
type OrderEvent struct {
	OrderID   string    `json:"orderId"`
	ClientTag string    `json:"clientTag,omitempty"`
	Symbol    string    `json:"symbol"`
	Purpose   string    `json:"purpose"`
	Side      string    `json:"side"`
	Price     float64   `json:"price,omitempty"`
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Envelope wraps a payload with its topic for external streaming.
type Envelope struct {
	Type    Event `json:"type"`
	Payload any   `json:"payload"`
}

// Flag is published when a symbol or position exhausted retries.
type Flag struct {
	ID     string    `json:"id"`
	Symbol string    `json:"symbol"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// StopLossChange is published for every accepted stop-loss move.
type StopLossChange struct {
	PositionID string    `json:"positionId"`
	Symbol     string    `json:"symbol"`
	Old        float64   `json:"old"`
	New        float64   `json:"new"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// HMAUpdate is published when a fresh HMA value is applied to an instrument.
type HMAUpdate struct {
	Symbol   string    `json:"symbol"`
	Value    float64   `json:"value"`
	CandleTS int64     `json:"candleTs"`
	At       time.Time `json:"at"`
}
