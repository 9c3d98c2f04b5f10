package lifecycle

import (
	"time"

	"options-engine/internal/model"
	"options-engine/pkg/clock"
)

// Timers computes confirmation windows.
type Timers struct {
	// Reversal is the fixed confirmation window after a cross below the HMA.
	Reversal time.Duration
	// Candle is the width of the candle whose close bounds the entry window.
	Candle time.Duration
}

// DefaultTimers is 15 minutes for reversals and 5-minute candles for entries.
var DefaultTimers = Timers{Reversal: 15 * time.Minute, Candle: 5 * time.Minute}

// ReversalDeadline returns when a reversal triggered at t is confirmed.
func (tm Timers) ReversalDeadline(t time.Time) time.Time {
	return t.Add(tm.Reversal)
}

// EntryDeadline returns the decision time for an entry triggered at t: the
// last second of the current candle. A trigger inside that last second
// decides on the boundary itself.
func (tm Timers) EntryDeadline(t time.Time) time.Time {
	boundary := clock.NextBoundary(t, tm.Candle)
	deadline := boundary.Add(-time.Second)
	if !t.Before(deadline) {
		return boundary
	}
	return deadline
}

// NewSignal starts a confirmation window for the given direction.
func (tm Timers) NewSignal(dir model.Direction, now time.Time, hma float64) *model.PendingSignal {
	end := tm.ReversalDeadline(now)
	if dir == model.DirectionAbove {
		end = tm.EntryDeadline(now)
	}
	return &model.PendingSignal{
		Direction:           dir,
		TriggeredAt:         now,
		HMAAtTrigger:        hma,
		ConfirmationEndTime: end,
	}
}

// Expired reports whether the pending signal's window has closed at now.
func Expired(ps *model.PendingSignal, now time.Time) bool {
	return ps != nil && !now.Before(ps.ConfirmationEndTime)
}
