package engine

import (
	"github.com/shopspring/decimal"

	"options-engine/internal/model"
	"options-engine/internal/position"
	"options-engine/pkg/exchanges/common"
)

// entryPrices returns the limit and trigger of an entry order. MARKET
// orders carry neither. A LIMIT entry is priced at the LTP when first
// placed and follows the HMA once it is being replaced; STOP_LIMIT triggers
// at the HMA rounded up to tick with the limit a buffer of ticks above.
func entryPrices(s *model.MonitoredSymbol, replacing bool) (price, trigger float64) {
	switch s.OrderType {
	case model.OrderLimit:
		if !replacing {
			return position.CeilToTick(s.CurrentLTP, s.TickSize), 0
		}
		return addTicks(position.CeilToTick(s.HMAValue, s.TickSize), s.TickSize, s.LimitBufferTicks), 0
	case model.OrderStopLimit:
		trigger = position.CeilToTick(s.HMAValue, s.TickSize)
		return addTicks(trigger, s.TickSize, s.LimitBufferTicks), trigger
	}
	return 0, 0
}

func entryRequest(s *model.MonitoredSymbol, tag string, price, trigger float64) common.OrderRequest {
	return common.OrderRequest{
		Symbol:       s.Symbol,
		Side:         common.SideBuy,
		Type:         common.OrderType(s.OrderType),
		Qty:          s.Quantity,
		Price:        price,
		TriggerPrice: trigger,
		Product:      string(s.ProductType),
		ClientTag:    tag,
	}
}

// stopPrices returns the trigger and limit of the resting SELL stop: the
// trigger sits on the stop loss floored to tick, the limit a buffer of
// ticks below, never under one tick.
func stopPrices(p *model.ActivePosition) (trigger, limit float64) {
	trigger = position.FloorToTick(p.StopLoss, p.TickSize)
	limit = addTicks(trigger, p.TickSize, -p.LimitBufferTicks)
	if p.TickSize > 0 && limit < p.TickSize {
		limit = p.TickSize
	}
	return trigger, limit
}

func addTicks(v, tick float64, n int) float64 {
	return decimal.NewFromFloat(v).Add(decimal.NewFromFloat(tick).Mul(decimal.NewFromInt(int64(n)))).InexactFloat64()
}

func lastStopReason(p *model.ActivePosition) string {
	if n := len(p.SLModifications); n > 0 {
		return p.SLModifications[n-1].Reason
	}
	return position.ReasonTrailToCost
}
