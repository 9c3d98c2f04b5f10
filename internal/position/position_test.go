package position

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
)

var t0 = time.Date(2026, 3, 2, 10, 20, 0, 0, time.UTC)

func newPosition(params model.TradingParams, bought float64) *model.ActivePosition {
	s := &model.MonitoredSymbol{ID: "sym-1", Symbol: "NIFTY24000CE", TradingParams: params}
	return Open(s, "B-1", bought, t0)
}

func TestOpenSetsTargetAndStop(t *testing.T) {
	p := newPosition(model.TradingParams{Quantity: 75, TargetPoints: 20, StopLossPoints: 10, TickSize: 0.05}, 105)
	assert.Equal(t, 105.0, p.BoughtPrice)
	assert.Equal(t, 125.0, p.Target)
	assert.Equal(t, 95.0, p.StopLoss)
	assert.Equal(t, 95.0, p.InitialStopLoss)
	assert.Equal(t, 75, p.Quantity)
}

func TestIntervalTrailingSteps(t *testing.T) {
	p := newPosition(model.TradingParams{
		Quantity: 75, TargetPoints: 100, StopLossPoints: 10, TickSize: 0.05,
		UseTrailingStoploss: true, TrailingX: 20, TrailingY: 15,
	}, 100)
	require.Equal(t, 90.0, p.StopLoss)

	Evaluate(p, 115, t0.Add(time.Second))
	assert.Equal(t, 90.0, p.StopLoss, "movement below X leaves the stop alone")

	d := Evaluate(p, 125, t0.Add(2*time.Second))
	require.NotNil(t, d.SLChange)
	assert.Equal(t, 105.0, p.StopLoss)

	Evaluate(p, 130, t0.Add(3*time.Second))
	assert.Equal(t, 105.0, p.StopLoss)

	Evaluate(p, 145, t0.Add(4*time.Second))
	assert.Equal(t, 120.0, p.StopLoss)

	Evaluate(p, 110, t0.Add(5*time.Second))
	assert.Equal(t, 120.0, p.StopLoss, "pullback never loosens")

	require.Len(t, p.SLModifications, 2)
	assert.Equal(t, 90.0, p.SLModifications[0].OldStopLoss)
	assert.Equal(t, 105.0, p.SLModifications[0].NewStopLoss)
	assert.Equal(t, ReasonInterval, p.SLModifications[1].Reason)
}

func TestBothModesTakeHigherCandidate(t *testing.T) {
	p := newPosition(model.TradingParams{
		Quantity: 75, TargetPoints: 100, StopLossPoints: 10, TickSize: 0.05,
		TrailingStopLoss: true, UseTrailingStoploss: true, TrailingX: 20, TrailingY: 5,
	}, 100)

	// trail-to-cost 115, interval 95
	d := Evaluate(p, 125, t0.Add(time.Second))
	require.NotNil(t, d.SLChange)
	assert.Equal(t, 115.0, p.StopLoss)
	assert.Equal(t, ReasonTrailToCost, d.SLChange.Reason)
}

func TestExitPriority(t *testing.T) {
	params := model.TradingParams{Quantity: 75, TargetPoints: 20, StopLossPoints: 10, TickSize: 0.05}

	p := newPosition(params, 100)
	d := Evaluate(p, 120, t0)
	assert.True(t, d.Exit)
	assert.Equal(t, model.ExitTarget, d.ExitReason)

	p = newPosition(params, 100)
	d = Evaluate(p, 89, t0)
	assert.False(t, d.Exit, "stop-loss exit needs autoExitOnStopLoss")

	params.AutoExitOnStopLoss = true
	p = newPosition(params, 100)
	d = Evaluate(p, 90, t0)
	assert.True(t, d.Exit)
	assert.Equal(t, model.ExitStopLoss, d.ExitReason)

	d = Evaluate(p, 130, t0.Add(time.Second))
	assert.False(t, d.Exit, "exit already pending")
	assert.Equal(t, model.ExitStopLoss, p.ExitReason)
}

func TestCloseComputesPnLAndStatus(t *testing.T) {
	p := newPosition(model.TradingParams{Quantity: 75, TargetPoints: 20, StopLossPoints: 10}, 105)
	MarkExit(p, model.ExitTarget, 125, t0)
	ct := Close(p, "S-1", 125.1, t0.Add(time.Second))
	assert.Equal(t, model.StatusTargetExitHit, ct.ExitStatus)
	assert.InDelta(t, 1507.5, ct.PnL, 1e-9)
	assert.Equal(t, "S-1", p.SellOrderID)

	p = newPosition(model.TradingParams{Quantity: 1}, 100)
	ct = Close(p, "S-2", 99, t0)
	assert.Equal(t, model.ExitManual, ct.ExitReason)
	assert.Equal(t, model.StatusTargetExitManual, ct.ExitStatus)
}

func TestApplyStopRejectsLoosening(t *testing.T) {
	p := newPosition(model.TradingParams{Quantity: 1, StopLossPoints: 10, TargetPoints: 10}, 100)
	_, ok := ApplyStop(p, 85, "manual", t0)
	assert.False(t, ok)
	assert.Equal(t, 90.0, p.StopLoss)
	assert.Empty(t, p.SLModifications)
}

func TestStopLossNeverDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		p := newPosition(model.TradingParams{
			Quantity: 75, TargetPoints: math.MaxFloat32, StopLossPoints: 1 + rng.Float64()*20, TickSize: 0.05,
			TrailingStopLoss: rng.Intn(2) == 0, UseTrailingStoploss: true,
			TrailingX: 1 + rng.Float64()*20, TrailingY: 1 + rng.Float64()*15,
		}, 100)
		ltp := 100.0
		prev := p.StopLoss
		for i := 0; i < 300; i++ {
			ltp = math.Max(0.05, ltp+(rng.Float64()*2-1)*5)
			Evaluate(p, ltp, t0.Add(time.Duration(i)*time.Second))
			require.GreaterOrEqual(t, p.StopLoss, prev, "run %d step %d", run, i)
			prev = p.StopLoss
		}
		for i := 1; i < len(p.SLModifications); i++ {
			require.Greater(t, p.SLModifications[i].NewStopLoss, p.SLModifications[i-1].NewStopLoss)
		}
	}
}

func TestTickRounding(t *testing.T) {
	assert.Equal(t, 101.25, FloorToTick(101.27, 0.05))
	assert.Equal(t, 101.3, CeilToTick(101.27, 0.05))
	assert.Equal(t, 101.25, CeilToTick(101.25, 0.05))
	assert.Equal(t, 7.5, FloorToTick(7.5, 0))
}

func TestReEntryAllowed(t *testing.T) {
	p := newPosition(model.TradingParams{ReEntryEnabled: true, MaxReEntries: 2}, 100)
	p.ReEntryCount = 1
	assert.True(t, ReEntryAllowed(p))
	p.ReEntryCount = 2
	assert.False(t, ReEntryAllowed(p))
}

func TestRestingStopOwnsStopLossExit(t *testing.T) {
	p := newPosition(model.TradingParams{Quantity: 75, TargetPoints: 20, StopLossPoints: 10, TickSize: 0.05, AutoExitOnStopLoss: true}, 100)
	p.SLOrderDetails = &model.SLOrderDetails{OrderID: "SL-1", TriggerPrice: 90}

	d := Evaluate(p, 89, t0.Add(time.Second))
	assert.False(t, d.Exit)
	assert.False(t, p.ExitPending)

	d = Evaluate(p, 121, t0.Add(2*time.Second))
	assert.True(t, d.Exit)
	assert.Equal(t, model.ExitTarget, d.ExitReason)
}

func TestFailedExitWaitsForCooldown(t *testing.T) {
	p := newPosition(model.TradingParams{Quantity: 75, TargetPoints: 20, StopLossPoints: 10, TickSize: 0.05}, 100)
	require.True(t, Evaluate(p, 121, t0).Exit)

	OnExitFailed(p, assert.AnError, 5*time.Second, t0)
	assert.False(t, p.ExitPending)
	assert.True(t, p.Flagged)

	assert.False(t, Evaluate(p, 122, t0.Add(time.Second)).Exit)
	d := Evaluate(p, 122, t0.Add(5*time.Second))
	assert.True(t, d.Exit)
	assert.Equal(t, 122.0, p.ExitPrice)
}
