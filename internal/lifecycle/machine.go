// Package lifecycle is the per-symbol trigger state machine. It is pure:
// callers own the MonitoredSymbol, serialize calls per symbol and carry out
// the returned Action.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"options-engine/internal/model"
)

var (
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Action is a side effect the caller must perform after a step.
type Action int

const (
	ActionNone Action = iota
	// ActionSubmitEntry asks the caller to submit the BUY entry order.
	ActionSubmitEntry
)

// Transition records one status change.
type Transition struct {
	From   model.TriggerStatus
	To     model.TriggerStatus
	Reason string
	At     time.Time
}

// Result is the outcome of one step.
type Result struct {
	Transitions []Transition
	Action      Action
}

// Changed reports whether the step moved the symbol.
func (r Result) Changed() bool { return len(r.Transitions) > 0 }

// Machine evaluates ticks and timer expiries.
type Machine struct {
	Timers Timers
	// ResubmitCooldown spaces entry retries after a transient failure.
	ResubmitCooldown time.Duration
}

func New(t Timers) *Machine {
	return &Machine{Timers: t, ResubmitCooldown: 5 * time.Second}
}

// Start initializes a freshly monitored symbol.
func (m *Machine) Start(s *model.MonitoredSymbol, now time.Time) {
	s.TriggerStatus = model.StatusWaitingForReversal
	s.PendingSignal = nil
	s.CreatedAt = now
	s.UpdatedAt = now
}

// OnTick applies a new LTP observed at now. An expired confirmation window
// is resolved against the state before this tick, then the tick is
// evaluated in the resulting state.
func (m *Machine) OnTick(s *model.MonitoredSymbol, ltp float64, now time.Time) Result {
	var res Result
	m.expire(s, now, &res)
	s.CurrentLTP = ltp
	s.LastTick = now
	m.evaluate(s, now, &res)
	if res.Changed() {
		s.UpdatedAt = now
	}
	return res
}

// OnTimer resolves an expired confirmation window without a new price.
func (m *Machine) OnTimer(s *model.MonitoredSymbol, now time.Time) Result {
	var res Result
	m.expire(s, now, &res)
	if res.Changed() {
		s.UpdatedAt = now
	}
	return res
}

// Reevaluate re-checks the stored LTP against the current HMA, typically
// after a refresh.
func (m *Machine) Reevaluate(s *model.MonitoredSymbol, now time.Time) Result {
	var res Result
	m.expire(s, now, &res)
	m.evaluate(s, now, &res)
	if res.Changed() {
		s.UpdatedAt = now
	}
	return res
}

func hmaKnown(s *model.MonitoredSymbol) bool {
	return s.HMAValue > 0 && s.CurrentLTP > 0
}

func (m *Machine) move(s *model.MonitoredSymbol, to model.TriggerStatus, reason string, now time.Time, res *Result) {
	res.Transitions = append(res.Transitions, Transition{From: s.TriggerStatus, To: to, Reason: reason, At: now})
	s.TriggerStatus = to
}

func (m *Machine) expire(s *model.MonitoredSymbol, now time.Time, res *Result) {
	if !s.TriggerStatus.Confirming() || !Expired(s.PendingSignal, now) {
		return
	}
	switch s.TriggerStatus {
	case model.StatusConfirmingReversal:
		// Any close above the HMA during the window would have cancelled it.
		s.PendingSignal = nil
		m.move(s, model.StatusWaitingForEntry, "reversal confirmed", now, res)
	case model.StatusConfirmingEntry:
		if s.SubmitPending || now.Before(s.RetryAfter) {
			return
		}
		if s.CurrentLTP > s.HMAValue {
			s.SubmitPending = true
			res.Action = ActionSubmitEntry
		}
	}
}

func (m *Machine) evaluate(s *model.MonitoredSymbol, now time.Time, res *Result) {
	if !hmaKnown(s) || s.SubmitPending {
		return
	}
	ltp, hma := s.CurrentLTP, s.HMAValue
	switch s.TriggerStatus {
	case model.StatusWaitingForReversal:
		if ltp < hma {
			s.PendingSignal = m.Timers.NewSignal(model.DirectionBelow, now, hma)
			m.move(s, model.StatusConfirmingReversal, "ltp crossed below hma", now, res)
		}
	case model.StatusConfirmingReversal:
		if ltp > hma {
			s.PendingSignal = nil
			m.move(s, model.StatusWaitingForReversal, "ltp crossed back above hma", now, res)
		}
	case model.StatusWaitingForEntry:
		if ltp > hma {
			s.PendingSignal = m.Timers.NewSignal(model.DirectionAbove, now, hma)
			m.move(s, model.StatusConfirmingEntry, "ltp crossed above hma", now, res)
		}
	case model.StatusConfirmingEntry:
		if ltp <= hma {
			s.PendingSignal = nil
			s.RetryAfter = time.Time{}
			m.move(s, model.StatusWaitingForEntry, "ltp fell back to hma", now, res)
		}
	}
}

// ForceEntry moves a symbol straight into WAITING_FOR_ENTRY, bypassing the
// reversal timer. LTP must still be at or below the HMA.
func (m *Machine) ForceEntry(s *model.MonitoredSymbol, now time.Time) (Result, error) {
	var res Result
	switch s.TriggerStatus {
	case model.StatusWaitingForReversal, model.StatusConfirmingReversal:
	default:
		return res, fmt.Errorf("%w: cannot move strike from %s", ErrInvalidTransition, s.TriggerStatus)
	}
	if !hmaKnown(s) {
		return res, fmt.Errorf("%w: ltp and hma must be known", ErrPreconditionFailed)
	}
	if s.CurrentLTP > s.HMAValue {
		return res, fmt.Errorf("%w: ltp %.2f is above hma %.2f", ErrPreconditionFailed, s.CurrentLTP, s.HMAValue)
	}
	s.PendingSignal = nil
	m.move(s, model.StatusWaitingForEntry, "manual move strike", now, &res)
	s.UpdatedAt = now
	return res, nil
}

// ApplyHMA stores a refreshed HMA. It is a no-op unless candleTS is strictly
// newer than the stored one.
func ApplyHMA(s *model.MonitoredSymbol, value float64, candleTS int64, now time.Time) bool {
	if candleTS <= s.HMALastCandleTimestamp || value <= 0 {
		return false
	}
	s.HMAValue = value
	s.HMALastCandleTimestamp = candleTS
	s.UpdatedAt = now
	return true
}

// OnSubmitted records the broker ack of the entry order.
func (m *Machine) OnSubmitted(s *model.MonitoredSymbol, orderID string, now time.Time) Result {
	var res Result
	s.SubmitPending = false
	s.Flagged = false
	s.LastError = ""
	s.OrderID = orderID
	s.OrderStatus = model.OrderStatusOpen
	s.PendingSignal = nil
	if s.TriggerStatus != model.StatusOrderPlaced {
		m.move(s, model.StatusOrderPlaced, "entry order accepted", now, &res)
	}
	s.UpdatedAt = now
	return res
}

// OnSubmitFailed handles a transient failure after retries were exhausted:
// the symbol is flagged and keeps its state.
func (m *Machine) OnSubmitFailed(s *model.MonitoredSymbol, err error, now time.Time) {
	s.SubmitPending = false
	s.Flagged = true
	s.LastError = err.Error()
	s.RetryAfter = now.Add(m.ResubmitCooldown)
	s.UpdatedAt = now
}

// OnRejected marks the attempt terminal with a classified reason.
func (m *Machine) OnRejected(s *model.MonitoredSymbol, category, reason string, now time.Time) Result {
	var res Result
	s.SubmitPending = false
	s.PendingSignal = nil
	s.OrderStatus = model.OrderStatusRejected
	s.RejectionCategory = category
	s.RejectionReason = reason
	m.move(s, model.StatusOrderRejected, reason, now, &res)
	s.UpdatedAt = now
	return res
}

// OnCancelled marks the entry order cancelled.
func (m *Machine) OnCancelled(s *model.MonitoredSymbol, now time.Time) Result {
	var res Result
	if s.TriggerStatus.Terminal() {
		return res
	}
	s.SubmitPending = false
	s.PendingSignal = nil
	s.OrderStatus = model.OrderStatusCancelled
	m.move(s, model.StatusOrderCancelled, "entry order cancelled", now, &res)
	s.UpdatedAt = now
	return res
}
