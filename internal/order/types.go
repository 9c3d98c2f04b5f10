package order

import (
	"time"

	"options-engine/internal/model"
	"options-engine/pkg/exchanges/common"
)

// Kind is what an intent asks the broker to do.
type Kind string

const (
	KindSubmit Kind = "SUBMIT"
	KindCancel Kind = "CANCEL"
)

// Intent is an order action to be sent to a broker. ID is the client tag
// of a submission and doubles as the broker idempotency key, so a replayed
// intent cannot create a second order.
type Intent struct {
	ID         string              `json:"id"`
	Kind       Kind                `json:"kind"`
	Mode       model.TradingMode   `json:"mode"`
	Symbol     string              `json:"symbol"`
	SymbolID   string              `json:"symbolId,omitempty"`
	PositionID string              `json:"positionId,omitempty"`
	Purpose    model.OrderPurpose  `json:"purpose"`
	Request    common.OrderRequest `json:"request"`
	// CancelOrderID is the broker order to cancel for KindCancel.
	CancelOrderID string  `json:"cancelOrderId,omitempty"`
	HMAValue      float64 `json:"hmaValue"`
	// Generation ties the intent to the owner that issued it. Zero marks an
	// intent replayed from the WAL.
	Generation uint64    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Pending converts an acknowledged submission into a tracked order.
func (in Intent) Pending(orderID string, now time.Time) model.PendingOrder {
	basis := in.Request.Price
	return model.PendingOrder{
		ID:           in.ID,
		OrderID:      orderID,
		ClientTag:    in.ID,
		Symbol:       in.Symbol,
		SymbolID:     in.SymbolID,
		PositionID:   in.PositionID,
		Purpose:      in.Purpose,
		Mode:         in.Mode,
		Side:         string(in.Request.Side),
		OrderType:    model.OrderType(in.Request.Type),
		Quantity:     in.Request.Qty,
		BoughtPrice:  basis,
		TriggerPrice: in.Request.TriggerPrice,
		HMAValue:     in.HMAValue,
		SubmittedAt:  now,
	}
}
