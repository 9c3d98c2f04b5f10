package position

import (
	"math"

	"github.com/shopspring/decimal"

	"options-engine/internal/model"
)

// Trail reasons recorded in the stop-loss log.
const (
	ReasonTrailToCost = "trailing: ltp - stop loss points"
	ReasonInterval    = "trailing: interval step"
)

// TrailToCost returns LTP - stopLossPoints once the position is in profit.
func TrailToCost(p *model.ActivePosition, ltp float64) (float64, bool) {
	if !p.TrailingStopLoss || ltp <= p.BoughtPrice {
		return 0, false
	}
	return ltp - p.StopLossPoints, true
}

// IntervalStop returns initialStopLoss + floor(movement/X)*Y once movement
// reaches X.
func IntervalStop(p *model.ActivePosition, ltp float64) (float64, bool) {
	if !p.UseTrailingStoploss || p.TrailingX <= 0 || p.TrailingY <= 0 {
		return 0, false
	}
	movement := decimal.NewFromFloat(ltp).Sub(decimal.NewFromFloat(p.BoughtPrice))
	x := decimal.NewFromFloat(p.TrailingX)
	if movement.LessThan(x) {
		return 0, false
	}
	intervals := movement.Div(x).Floor()
	stop := decimal.NewFromFloat(p.InitialStopLoss).Add(intervals.Mul(decimal.NewFromFloat(p.TrailingY)))
	return stop.InexactFloat64(), true
}

// NextStop evaluates both trailing modes and returns the most protective
// candidate if it tightens the current stop. The stop never loosens.
func NextStop(p *model.ActivePosition, ltp float64) (float64, string, bool) {
	best, reason := math.Inf(-1), ""
	if c, ok := TrailToCost(p, ltp); ok && c > best {
		best, reason = c, ReasonTrailToCost
	}
	if c, ok := IntervalStop(p, ltp); ok && c > best {
		best, reason = c, ReasonInterval
	}
	if reason == "" {
		return 0, "", false
	}
	best = FloorToTick(best, p.TickSize)
	if best <= p.StopLoss {
		return 0, "", false
	}
	return best, reason, true
}

// FloorToTick rounds v down to a multiple of tick.
func FloorToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(v).Div(t).Floor().Mul(t).InexactFloat64()
}

// CeilToTick rounds v up to a multiple of tick.
func CeilToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(v).Div(t).Ceil().Mul(t).InexactFloat64()
}

// PnL returns (exit - bought) * qty.
func PnL(bought, exit float64, qty int) float64 {
	return decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(bought)).Mul(decimal.NewFromInt(int64(qty))).InexactFloat64()
}
