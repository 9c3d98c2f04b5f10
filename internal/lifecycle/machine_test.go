package lifecycle

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newSymbol(ltp, hma float64) *model.MonitoredSymbol {
	s := &model.MonitoredSymbol{ID: "sym-1", Symbol: "NIFTY24000CE", CurrentLTP: ltp, HMAValue: hma, HMALastCandleTimestamp: t0.Add(-5 * time.Minute).Unix()}
	New(DefaultTimers).Start(s, t0)
	return s
}

func TestEntryDeadline(t *testing.T) {
	tm := DefaultTimers
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"minute two of candle", t0.Add(2 * time.Minute), t0.Add(5*time.Minute - time.Second)},
		{"on the boundary", t0, t0.Add(5*time.Minute - time.Second)},
		{"last second of candle", t0.Add(4*time.Minute + 59*time.Second + 300*time.Millisecond), t0.Add(5 * time.Minute)},
		{"just before last second", t0.Add(4*time.Minute + 58*time.Second), t0.Add(5*time.Minute - time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tm.EntryDeadline(tt.at))
		})
	}
}

func TestEndToEndToOrderPlaced(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(110, 100)
	require.Equal(t, model.StatusWaitingForReversal, s.TriggerStatus)

	res := m.OnTick(s, 110, t0)
	assert.False(t, res.Changed())

	res = m.OnTick(s, 95, t0.Add(30*time.Second))
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusConfirmingReversal, s.TriggerStatus)
	require.NotNil(t, s.PendingSignal)
	assert.Equal(t, 100.0, s.PendingSignal.HMAAtTrigger)
	assert.Equal(t, t0.Add(15*time.Minute+30*time.Second), s.PendingSignal.ConfirmationEndTime)

	m.OnTick(s, 98, t0.Add(5*time.Minute))
	m.OnTick(s, 100, t0.Add(10*time.Minute))
	assert.Equal(t, model.StatusConfirmingReversal, s.TriggerStatus, "equality is not a crossing")

	res = m.OnTimer(s, t0.Add(15*time.Minute+30*time.Second))
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusWaitingForEntry, s.TriggerStatus)
	assert.Nil(t, s.PendingSignal)

	res = m.OnTick(s, 105, t0.Add(17*time.Minute))
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusConfirmingEntry, s.TriggerStatus)
	assert.Equal(t, t0.Add(20*time.Minute-time.Second), s.PendingSignal.ConfirmationEndTime)

	res = m.OnTimer(s, t0.Add(19*time.Minute))
	assert.Equal(t, ActionNone, res.Action)

	res = m.OnTimer(s, t0.Add(20*time.Minute))
	assert.Equal(t, ActionSubmitEntry, res.Action)
	assert.True(t, s.SubmitPending)

	res = m.OnTimer(s, t0.Add(20*time.Minute+time.Second))
	assert.Equal(t, ActionNone, res.Action, "no duplicate submission while in flight")

	res = m.OnSubmitted(s, "B-1", t0.Add(20*time.Minute+2*time.Second))
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusOrderPlaced, s.TriggerStatus)
	assert.Equal(t, "B-1", s.OrderID)
	assert.Nil(t, s.PendingSignal)
}

func TestCrossBackCancelsReversal(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(110, 100)

	m.OnTick(s, 95, t0)
	require.Equal(t, model.StatusConfirmingReversal, s.TriggerStatus)

	res := m.OnTick(s, 101, t0.Add(2*time.Minute))
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusWaitingForReversal, s.TriggerStatus)
	assert.Nil(t, s.PendingSignal)

	res = m.OnTimer(s, t0.Add(16*time.Minute))
	assert.False(t, res.Changed(), "cancelled timer must not fire")
	assert.Equal(t, ActionNone, res.Action)
}

func TestEntryFallsBackBeforeDeadline(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(95, 100)
	s.TriggerStatus = model.StatusWaitingForEntry

	m.OnTick(s, 101, t0.Add(time.Minute))
	require.Equal(t, model.StatusConfirmingEntry, s.TriggerStatus)

	res := m.OnTick(s, 100, t0.Add(2*time.Minute))
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusWaitingForEntry, s.TriggerStatus)

	res = m.OnTimer(s, t0.Add(5*time.Minute))
	assert.Equal(t, ActionNone, res.Action)
}

func TestLateTickResolvesExpiredWindowFirst(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(95, 100)
	m.OnTick(s, 95, t0)

	// The sweep missed the expiry; the next tick is above the HMA.
	res := m.OnTick(s, 102, t0.Add(15*time.Minute+200*time.Millisecond))
	require.Len(t, res.Transitions, 2)
	assert.Equal(t, model.StatusWaitingForEntry, res.Transitions[0].To)
	assert.Equal(t, model.StatusConfirmingEntry, res.Transitions[1].To)
}

func TestNoTransitionsWithoutHMA(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(0, 0)
	res := m.OnTick(s, 50, t0)
	assert.False(t, res.Changed())
}

func TestForceEntry(t *testing.T) {
	m := New(DefaultTimers)

	s := newSymbol(110, 100)
	_, err := m.ForceEntry(s, t0)
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	s = newSymbol(95, 100)
	m.OnTick(s, 95, t0)
	res, err := m.ForceEntry(s, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, res.Changed())
	assert.Equal(t, model.StatusWaitingForEntry, s.TriggerStatus)
	assert.Nil(t, s.PendingSignal)

	_, err = m.ForceEntry(s, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitFailureFlagsAndCoolsDown(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(95, 100)
	s.TriggerStatus = model.StatusWaitingForEntry
	m.OnTick(s, 105, t0.Add(time.Minute))

	res := m.OnTimer(s, t0.Add(5*time.Minute))
	require.Equal(t, ActionSubmitEntry, res.Action)

	m.OnSubmitFailed(s, errors.New("timeout"), t0.Add(5*time.Minute+2*time.Second))
	assert.True(t, s.Flagged)
	assert.Equal(t, model.StatusConfirmingEntry, s.TriggerStatus)
	assert.False(t, s.SubmitPending)

	res = m.OnTimer(s, t0.Add(5*time.Minute+3*time.Second))
	assert.Equal(t, ActionNone, res.Action, "cooldown holds resubmission")

	res = m.OnTimer(s, t0.Add(5*time.Minute+8*time.Second))
	assert.Equal(t, ActionSubmitEntry, res.Action)

	m.OnSubmitted(s, "B-2", t0.Add(5*time.Minute+9*time.Second))
	assert.False(t, s.Flagged)
}

func TestRejectionIsTerminal(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(105, 100)
	s.TriggerStatus = model.StatusConfirmingEntry
	s.SubmitPending = true

	m.OnRejected(s, "position-limit-exceeded", "freeze qty", t0)
	assert.Equal(t, model.StatusOrderRejected, s.TriggerStatus)
	assert.True(t, s.TriggerStatus.Terminal())

	res := m.OnCancelled(s, t0)
	assert.False(t, res.Changed())
}

func TestApplyHMAIsMonotonic(t *testing.T) {
	s := newSymbol(100, 100)
	ts := t0.Unix()
	assert.True(t, ApplyHMA(s, 101, ts, t0))
	assert.False(t, ApplyHMA(s, 102, ts, t0))
	assert.False(t, ApplyHMA(s, 103, ts-300, t0))
	assert.Equal(t, 101.0, s.HMAValue)
	assert.Equal(t, ts, s.HMALastCandleTimestamp)
}

func TestConfirmingAlwaysHasPendingSignal(t *testing.T) {
	m := New(DefaultTimers)
	rng := rand.New(rand.NewSource(7))
	s := newSymbol(100, 100)
	now := t0
	for i := 0; i < 5000; i++ {
		now = now.Add(time.Duration(rng.Intn(20000)) * time.Millisecond)
		if rng.Intn(10) == 0 {
			m.OnTimer(s, now)
		} else {
			m.OnTick(s, 95+rng.Float64()*10, now)
		}
		if s.SubmitPending {
			m.OnSubmitFailed(s, errors.New("x"), now)
		}
		if s.TriggerStatus.Confirming() {
			require.NotNil(t, s.PendingSignal, "step %d state %s", i, s.TriggerStatus)
		} else {
			require.Nil(t, s.PendingSignal, "step %d state %s", i, s.TriggerStatus)
		}
	}
}

func TestReevaluateAfterHMARefresh(t *testing.T) {
	m := New(DefaultTimers)
	s := newSymbol(101, 100)

	require.True(t, ApplyHMA(s, 102, t0.Unix(), t0))
	res := m.Reevaluate(s, t0.Add(time.Second))
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, model.StatusConfirmingReversal, s.TriggerStatus)
	assert.Equal(t, 101.0, s.CurrentLTP)

	assert.False(t, ApplyHMA(s, 99, t0.Unix(), t0), "same candle is ignored")
}
