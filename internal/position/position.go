// Package position manages the target, stop-loss and trailing rules of an
// open long option position. Like lifecycle, it mutates records owned and
// serialized by the caller.
package position

import (
	"time"

	"github.com/google/uuid"

	"options-engine/internal/model"
)

// Open builds a position from the monitored symbol whose entry filled.
func Open(s *model.MonitoredSymbol, orderID string, fillPrice float64, now time.Time) *model.ActivePosition {
	p := &model.ActivePosition{
		ID:                     uuid.NewString(),
		SymbolID:               s.ID,
		ConfigID:               s.ConfigID,
		Symbol:                 s.Symbol,
		OptionType:             s.OptionType,
		BuyOrderID:             orderID,
		BoughtPrice:            fillPrice,
		Quantity:               s.Quantity,
		InitialStopLoss:        fillPrice - s.StopLossPoints,
		Target:                 fillPrice + s.TargetPoints,
		CurrentLTP:             fillPrice,
		HMAValue:               s.HMAValue,
		HMALastCandleTimestamp: s.HMALastCandleTimestamp,
		TradingParams:          s.TradingParams,
		SLModifications:        []model.SLModification{},
		ReEntryCount:           s.ReEntryCount,
		OpenedAt:               now,
		UpdatedAt:              now,
	}
	p.StopLoss = p.InitialStopLoss
	return p
}

// Decision is the outcome of evaluating one tick.
type Decision struct {
	Exit       bool
	ExitReason model.ExitReason
	// SLChange is set when the stop moved.
	SLChange *model.SLModification
}

// Evaluate applies a tick: exit checks first (target, then stop-loss when
// auto exit is enabled), otherwise trailing. A stop resting at the broker
// owns the stop-loss exit, and exits are held while RetryAfter is pending.
func Evaluate(p *model.ActivePosition, ltp float64, now time.Time) Decision {
	p.CurrentLTP = ltp
	if p.ExitPending {
		return Decision{}
	}
	if !now.Before(p.RetryAfter) {
		if ltp >= p.Target {
			MarkExit(p, model.ExitTarget, ltp, now)
			return Decision{Exit: true, ExitReason: model.ExitTarget}
		}
		if p.AutoExitOnStopLoss && p.SLOrderDetails == nil && ltp <= p.StopLoss {
			MarkExit(p, model.ExitStopLoss, ltp, now)
			return Decision{Exit: true, ExitReason: model.ExitStopLoss}
		}
	}

	newStop, reason, ok := NextStop(p, ltp)
	if !ok {
		return Decision{}
	}
	mod, _ := ApplyStop(p, newStop, reason, now)
	return Decision{SLChange: mod}
}

// ApplyStop moves the stop to newStop if it tightens it and logs the change.
// A loosening request is ignored.
func ApplyStop(p *model.ActivePosition, newStop float64, reason string, now time.Time) (*model.SLModification, bool) {
	if newStop <= p.StopLoss {
		return nil, false
	}
	mod := model.SLModification{Timestamp: now, OldStopLoss: p.StopLoss, NewStopLoss: newStop, Reason: reason}
	p.StopLoss = newStop
	p.SLModifications = append(p.SLModifications, mod)
	p.UpdatedAt = now
	return &mod, true
}

// OnExitFailed releases a failed exit so a later tick can retry it after
// cooldown.
func OnExitFailed(p *model.ActivePosition, err error, cooldown time.Duration, now time.Time) {
	p.ExitPending = false
	p.Flagged = true
	p.LastError = err.Error()
	p.RetryAfter = now.Add(cooldown)
	p.UpdatedAt = now
}

// MarkExit queues the position for exit. The first reason wins.
func MarkExit(p *model.ActivePosition, reason model.ExitReason, price float64, now time.Time) bool {
	if p.ExitPending {
		return false
	}
	p.ExitPending = true
	p.ExitReason = reason
	p.ExitPrice = price
	p.UpdatedAt = now
	return true
}

// Close produces the closed-trade record for a filled exit.
func Close(p *model.ActivePosition, sellOrderID string, exitPrice float64, now time.Time) model.ClosedTrade {
	reason := p.ExitReason
	if reason == "" {
		reason = model.ExitManual
	}
	p.SellOrderID = sellOrderID
	return model.ClosedTrade{
		ID:           uuid.NewString(),
		PositionID:   p.ID,
		ConfigID:     p.ConfigID,
		Symbol:       p.Symbol,
		BuyOrderID:   p.BuyOrderID,
		SellOrderID:  sellOrderID,
		BoughtPrice:  p.BoughtPrice,
		ExitPrice:    exitPrice,
		Quantity:     p.Quantity,
		ExitReason:   reason,
		ExitStatus:   reason.ExitStatus(),
		PnL:          PnL(p.BoughtPrice, exitPrice, p.Quantity),
		ReEntryCount: p.ReEntryCount,
		OpenedAt:     p.OpenedAt,
		ClosedAt:     now,
	}
}

// ReEntryAllowed reports whether a new monitored symbol may be armed after
// the given trade closed.
func ReEntryAllowed(p *model.ActivePosition) bool {
	return p.ReEntryEnabled && p.ReEntryCount < p.MaxReEntries
}
