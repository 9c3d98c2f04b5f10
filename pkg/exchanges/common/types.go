package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order styles the engine submits.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus normalizes broker status into a small set.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusUnknown   OrderStatus = "UNKNOWN"
)

// Terminal reports whether the broker will not change the order any more.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCancelled
}

// OrderRequest captures an order intent to be sent to a broker.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Qty          int
	Price        float64 // required for LIMIT and STOP_LIMIT
	TriggerPrice float64 // required for STOP_LIMIT
	Product      string
	// ClientTag identifies the intent; gateways treat it as an idempotency key.
	ClientTag string
}

// OrderResult returns the broker ack.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	ClientTag string
	// AvgPrice is set when the broker reports an immediate fill.
	AvgPrice float64
}

// OrderState is the broker's current view of an order.
type OrderState struct {
	OrderID      string
	Status       OrderStatus
	FillPrice    float64
	FilledQty    int
	RejectReason string
	UpdatedAt    time.Time
}
