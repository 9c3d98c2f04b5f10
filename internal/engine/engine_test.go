package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"options-engine/internal/events"
	"options-engine/internal/gateway"
	"options-engine/internal/lifecycle"
	"options-engine/internal/model"
	"options-engine/internal/order"
	"options-engine/pkg/cache"
	"options-engine/pkg/clock"
	"options-engine/pkg/db"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/exchanges/paper"
)

const contract = "NIFTY24000CE"

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	e      *Impl
	db     *db.Database
	clk    *clock.Manual
	quotes *cache.Quotes
	broker *paper.Broker
}

type option func(*Config)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	clk := clock.NewManual(t0)
	quotes := cache.NewQuotes()
	broker := paper.New(quotes, clk)
	gw := gateway.NewManager(gateway.DefaultConfig())
	gw.Register(model.ModePaper, broker)

	cfg := Config{
		DB:            database,
		Gateways:      gw,
		Quotes:        quotes,
		Clock:         clk,
		Policy:        common.RetryPolicy{Attempts: 1, Base: time.Millisecond, Max: time.Millisecond},
		SweepInterval: time.Hour,
	}
	for _, o := range opts {
		o(&cfg)
	}
	e := NewImpl(cfg)
	broker.OnUpdate(e.DispatchUpdate)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return &harness{e: e, db: database, clk: clk, quotes: quotes, broker: broker}
}

func withGateway(mode model.TradingMode, gw common.Gateway) option {
	return func(c *Config) { c.Gateways.Register(mode, gw) }
}

func params(mut ...func(*model.TradingParams)) model.SymbolConfig {
	c := model.SymbolConfig{
		Symbol: contract,
		TradingParams: model.TradingParams{
			Lots: 1, LotSize: 75, TargetPoints: 20, StopLossPoints: 10, TradingMode: model.ModePaper,
		},
	}
	for _, m := range mut {
		m(&c.TradingParams)
	}
	return c
}

// tick feeds a price to the engine and the paper broker, then waits until
// the instrument's actor has processed it.
func (h *harness) tick(t *testing.T, ltp float64) {
	t.Helper()
	tk := model.Tick{Symbol: contract, LTP: ltp, Timestamp: h.clk.Now()}
	h.e.OnTick(tk)
	h.broker.OnTick(tk)
	h.sync(t)
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	a, ok := h.e.actor(contract)
	require.True(t, ok)
	require.NoError(t, a.call(context.Background(), func() error { return nil }))
}

func (h *harness) sweep(t *testing.T, at time.Time) {
	t.Helper()
	h.clk.Set(at)
	h.e.Sweep()
	h.sync(t)
}

func (h *harness) symbol(t *testing.T, id string) model.MonitoredSymbol {
	t.Helper()
	s, ok := h.e.state.Symbol(id)
	require.True(t, ok, "symbol %s not found", id)
	return *s
}

func (h *harness) onlyPosition(t *testing.T) model.ActivePosition {
	t.Helper()
	var ps []model.ActivePosition
	require.Eventually(t, func() bool {
		ps = h.e.Positions(context.Background())
		return len(ps) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return ps[0]
}

// monitor adds a watchlist entry at LTP 110 and starts monitoring it with
// the HMA at 100.
func (h *harness) monitor(t *testing.T, cfg model.SymbolConfig) model.MonitoredSymbol {
	t.Helper()
	ctx := context.Background()
	h.quotes.Put(model.Tick{Symbol: contract, LTP: 110, Timestamp: h.clk.Now()})
	added, err := h.e.AddSymbol(ctx, cfg)
	require.NoError(t, err)
	s, err := h.e.StartMonitoring(ctx, added.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusWaitingForReversal, s.TriggerStatus)
	require.True(t, h.e.ApplyHMA(ctx, contract, 100, t0.Unix()))
	return s
}

// confirmEntry drives a symbol from WAITING_FOR_REVERSAL to the entry
// submission: a dip below the HMA held for the reversal window, then a
// close back above held to the candle deadline.
func (h *harness) confirmEntry(t *testing.T, id string, entryLTP float64) {
	t.Helper()
	h.clk.Set(t0.Add(30 * time.Second))
	h.tick(t, 95)
	require.Equal(t, model.StatusConfirmingReversal, h.symbol(t, id).TriggerStatus)

	h.sweep(t, t0.Add(15*time.Minute+30*time.Second))
	require.Equal(t, model.StatusWaitingForEntry, h.symbol(t, id).TriggerStatus)

	h.clk.Set(t0.Add(17 * time.Minute))
	h.tick(t, entryLTP)
	require.Equal(t, model.StatusConfirmingEntry, h.symbol(t, id).TriggerStatus)

	h.sweep(t, t0.Add(20*time.Minute))
}

func TestSignalToPositionToTargetExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	closed, unsub := h.e.Bus().Subscribe(events.EventPositionClosed, 4)
	defer unsub()

	s := h.monitor(t, params())
	h.confirmEntry(t, s.ID, 105)

	p := h.onlyPosition(t)
	assert.Equal(t, 105.0, p.BoughtPrice)
	assert.Equal(t, 125.0, p.Target)
	assert.Equal(t, 95.0, p.StopLoss)
	assert.Equal(t, 75, p.Quantity)
	assert.Empty(t, h.e.Symbols(ctx), "filled symbol leaves the monitored set")

	h.clk.Set(t0.Add(22 * time.Minute))
	h.tick(t, 126)

	select {
	case env := <-closed:
		trade := env.Payload.(model.ClosedTrade)
		assert.Equal(t, model.ExitTarget, trade.ExitReason)
		assert.Equal(t, model.StatusTargetExitHit, trade.ExitStatus)
		assert.InDelta(t, (126.0-105.0)*75, trade.PnL, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("position was not closed")
	}
	assert.Empty(t, h.e.Positions(ctx))

	trades, err := h.e.ClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, p.ID, trades[0].PositionID)
	assert.Empty(t, h.e.tracker.Open())
}

func TestReEntryArmsFreshSymbol(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params(func(p *model.TradingParams) {
		p.ReEntryEnabled = true
		p.MaxReEntries = 1
	}))
	h.confirmEntry(t, s.ID, 105)
	h.onlyPosition(t)

	h.clk.Set(t0.Add(22 * time.Minute))
	h.tick(t, 130)

	var rearmed model.MonitoredSymbol
	require.Eventually(t, func() bool {
		syms := h.e.Symbols(ctx)
		if len(syms) != 1 {
			return false
		}
		rearmed = syms[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, s.ID, rearmed.ID)
	assert.Equal(t, 1, rearmed.ReEntryCount)
	assert.Equal(t, model.StatusWaitingForReversal, rearmed.TriggerStatus)
	assert.Equal(t, 100.0, rearmed.HMAValue, "re-armed symbol keeps the last HMA")
}

func TestRejectionIsClassified(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(common.OrderResult{}, &common.RejectionError{Reason: "RMS: Freeze qty exceeded for NIFTY"})
	h := newHarness(t, withGateway(model.ModeLive, gw))
	rejected, unsub := h.e.Bus().Subscribe(events.EventOrderRejected, 4)
	defer unsub()

	s := h.monitor(t, params(func(p *model.TradingParams) { p.TradingMode = model.ModeLive }))
	h.confirmEntry(t, s.ID, 105)

	select {
	case env := <-rejected:
		ev := env.Payload.(events.OrderEvent)
		assert.Equal(t, order.CategoryPositionLimit, ev.Category)
		assert.NotEmpty(t, ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection event")
	}
	h.sync(t)
	got := h.symbol(t, s.ID)
	assert.Equal(t, model.StatusOrderRejected, got.TriggerStatus)
	assert.Equal(t, order.CategoryPositionLimit, got.RejectionCategory)
	assert.False(t, got.SubmitPending)
	gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestTransientFailureFlagsAndRetriesAfterCooldown(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(common.OrderResult{}, common.Transient("submit", context.DeadlineExceeded)).Once()
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(common.OrderResult{OrderID: "LIVE-1", Status: common.StatusOpen}, nil)
	h := newHarness(t, withGateway(model.ModeLive, gw))

	s := h.monitor(t, params(func(p *model.TradingParams) { p.TradingMode = model.ModeLive }))
	h.confirmEntry(t, s.ID, 105)

	require.Eventually(t, func() bool {
		h.sync(t)
		got := h.symbol(t, s.ID)
		return got.Flagged && !got.SubmitPending
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusConfirmingEntry, h.symbol(t, s.ID).TriggerStatus)

	h.sweep(t, t0.Add(20*time.Minute+time.Second))
	assert.False(t, h.symbol(t, s.ID).SubmitPending, "cooldown holds the retry")

	h.sweep(t, t0.Add(20*time.Minute+6*time.Second))
	require.Eventually(t, func() bool {
		h.sync(t)
		return h.symbol(t, s.ID).TriggerStatus == model.StatusOrderPlaced
	}, 2*time.Second, 5*time.Millisecond)
	got := h.symbol(t, s.ID)
	assert.Equal(t, "LIVE-1", got.OrderID)
	assert.False(t, got.Flagged)

	calls := gw.Calls
	require.Len(t, calls, 2)
	first := calls[0].Arguments.Get(1).(common.OrderRequest)
	second := calls[1].Arguments.Get(1).(common.OrderRequest)
	assert.Equal(t, first.ClientTag, second.ClientTag, "retry reuses the client tag")
}

func TestTrailingMovesRestingStopAndStopFillCloses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params(func(p *model.TradingParams) {
		p.TrailingStopLoss = true
		p.PlaceStopLossOrder = true
		p.LimitBufferTicks = 2
	}))
	h.confirmEntry(t, s.ID, 105)
	p := h.onlyPosition(t)

	require.Eventually(t, func() bool {
		got, ok := h.e.state.Position(p.ID)
		return ok && got.SLOrderDetails != nil
	}, 2*time.Second, 5*time.Millisecond)
	first, _ := h.e.state.Position(p.ID)
	assert.Equal(t, 95.0, first.SLOrderDetails.TriggerPrice)
	assert.InDelta(t, 94.9, first.SLOrderDetails.StopPrice, 1e-9)
	firstOrder := first.SLOrderDetails.OrderID

	h.clk.Set(t0.Add(21 * time.Minute))
	h.tick(t, 112)
	require.Eventually(t, func() bool {
		h.sync(t)
		got, _ := h.e.state.Position(p.ID)
		return got.SLOrderDetails != nil && got.SLOrderDetails.OrderID != firstOrder
	}, 2*time.Second, 5*time.Millisecond)
	moved, _ := h.e.state.Position(p.ID)
	assert.Equal(t, 102.0, moved.StopLoss)
	assert.Equal(t, 102.0, moved.SLOrderDetails.TriggerPrice)
	require.Len(t, moved.SLModifications, 1)

	mods, err := h.e.Modifications(ctx, contract)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, model.ModSLTrail, mods[0].ModificationType)
	assert.Equal(t, firstOrder, mods[0].OldOrderID)
	assert.Equal(t, moved.SLOrderDetails.OrderID, mods[0].NewOrderID)

	h.clk.Set(t0.Add(22 * time.Minute))
	h.tick(t, 101.95)
	require.Eventually(t, func() bool {
		return len(h.e.Positions(ctx)) == 0
	}, 2*time.Second, 5*time.Millisecond)
	trades, err := h.e.ClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, model.ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, 101.95, trades[0].ExitPrice)
	assert.Zero(t, h.broker.Open())
}

func TestHMAUpdateReplacesRestingEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params(func(p *model.TradingParams) {
		p.OrderType = model.OrderStopLimit
		p.LimitBufferTicks = 1
	}))
	h.confirmEntry(t, s.ID, 105)

	require.Eventually(t, func() bool {
		h.sync(t)
		return h.symbol(t, s.ID).TriggerStatus == model.StatusOrderPlaced
	}, 2*time.Second, 5*time.Millisecond)
	oldOrder := h.symbol(t, s.ID).OrderID
	po, ok := h.e.tracker.Get(oldOrder)
	require.True(t, ok)
	assert.Equal(t, 100.0, po.TriggerPrice)
	assert.InDelta(t, 100.05, po.BoughtPrice, 1e-9)

	h.clk.Set(t0.Add(25 * time.Minute))
	require.True(t, h.e.ApplyHMA(ctx, contract, 101.23, t0.Add(20*time.Minute).Unix()))
	require.Eventually(t, func() bool {
		h.sync(t)
		got := h.symbol(t, s.ID)
		return got.OrderID != oldOrder && got.OrderModificationCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	got := h.symbol(t, s.ID)
	assert.Equal(t, model.StatusOrderPlaced, got.TriggerStatus)
	next, ok := h.e.tracker.Get(got.OrderID)
	require.True(t, ok)
	assert.Equal(t, 101.25, next.TriggerPrice)
	assert.InDelta(t, 101.3, next.BoughtPrice, 1e-9)
	_, stillOpen := h.e.tracker.Get(oldOrder)
	assert.False(t, stillOpen)

	mods, err := h.e.Modifications(ctx, contract)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, model.ModHMAUpdate, mods[0].ModificationType)
	assert.Equal(t, 100.0, mods[0].OldHMAValue)
	assert.Equal(t, 101.23, mods[0].NewHMAValue)
	assert.Equal(t, oldOrder, mods[0].OldOrderID)
	assert.Equal(t, got.OrderID, mods[0].NewOrderID)

	assert.False(t, h.e.ApplyHMA(ctx, contract, 99, t0.Add(20*time.Minute).Unix()), "same candle is not applied twice")
}

func TestCancelOrderIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params(func(p *model.TradingParams) { p.OrderType = model.OrderStopLimit }))
	h.confirmEntry(t, s.ID, 105)
	require.Eventually(t, func() bool {
		h.sync(t)
		return h.symbol(t, s.ID).TriggerStatus == model.StatusOrderPlaced
	}, 2*time.Second, 5*time.Millisecond)
	orderID := h.symbol(t, s.ID).OrderID

	require.NoError(t, h.e.CancelOrder(ctx, orderID))
	assert.Equal(t, model.StatusOrderCancelled, h.symbol(t, s.ID).TriggerStatus)
	require.NoError(t, h.e.CancelOrder(ctx, orderID), "cancelling a cancelled order is a no-op")
	require.NoError(t, h.e.HandleOrderUpdate(ctx, model.OrderUpdate{OrderID: orderID, Status: "cancelled"}))

	assert.ErrorIs(t, h.e.CancelOrder(ctx, "NOPE"), ErrNotFound)
	assert.ErrorIs(t, h.e.HandleOrderUpdate(ctx, model.OrderUpdate{OrderID: "NOPE", Status: "FILLED"}), order.ErrUnknownOrder)
	assert.Error(t, h.e.HandleOrderUpdate(ctx, model.OrderUpdate{OrderID: orderID, Status: "PARTIAL"}))
}

func TestManualExitClosesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params())
	h.confirmEntry(t, s.ID, 105)
	p := h.onlyPosition(t)

	h.clk.Set(t0.Add(21 * time.Minute))
	h.tick(t, 108)
	require.NoError(t, h.e.ExitPosition(ctx, p.ID))
	require.Eventually(t, func() bool {
		return len(h.e.Positions(ctx)) == 0
	}, 2*time.Second, 5*time.Millisecond)

	trades, err := h.e.ClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, model.ExitManual, trades[0].ExitReason)
	assert.Equal(t, model.StatusTargetExitManual, trades[0].ExitStatus)
	assert.ErrorIs(t, h.e.ExitPosition(ctx, p.ID), ErrNotFound)
}

func TestForceEntryWindowRequiresLTPAtOrBelowHMA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params())

	_, err := h.e.ForceEntryWindow(ctx, s.ID)
	assert.ErrorIs(t, err, lifecycle.ErrPreconditionFailed)

	h.clk.Set(t0.Add(time.Minute))
	h.tick(t, 98)
	got, err := h.e.ForceEntryWindow(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForEntry, got.TriggerStatus)
	assert.Nil(t, got.PendingSignal)

	_, err = h.e.ForceEntryWindow(ctx, s.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestStopMonitoringAbandonsRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params())

	_, err := h.e.StartMonitoring(ctx, s.ConfigID)
	assert.ErrorIs(t, err, ErrAlreadyMonitored)

	require.NoError(t, h.e.StopMonitoring(ctx, s.ID))
	assert.Empty(t, h.e.Symbols(ctx))
	assert.ErrorIs(t, h.e.StopMonitoring(ctx, s.ID), ErrNotFound)

	// Ticks for an instrument nobody watches are ignored.
	h.clk.Set(t0.Add(time.Minute))
	h.tick(t, 90)
	assert.Empty(t, h.e.Symbols(ctx))

	again, err := h.e.StartMonitoring(ctx, s.ConfigID)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, again.ID)
	assert.Equal(t, 90.0, again.CurrentLTP)
}

func TestWatchlistCommands(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoExitOnStopLoss = true })
	ctx := context.Background()

	_, err := h.e.AddSymbol(ctx, model.SymbolConfig{Symbol: contract})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	cfg, err := h.e.AddSymbol(ctx, params())
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)
	assert.Equal(t, model.OptionCE, cfg.OptionType)
	assert.True(t, cfg.AutoExitOnStopLoss)

	list, err := h.e.ListWatchlist(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, h.e.RemoveSymbol(ctx, cfg.ID))
	assert.ErrorIs(t, h.e.RemoveSymbol(ctx, cfg.ID), ErrNotFound)
	_, err = h.e.StartMonitoring(ctx, cfg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestartRestoresState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params())
	h.clk.Set(t0.Add(30 * time.Second))
	h.tick(t, 95)
	h.e.Stop()

	gw := gateway.NewManager(gateway.DefaultConfig())
	gw.Register(model.ModePaper, h.broker)
	e := NewImpl(Config{DB: h.db, Gateways: gw, Quotes: h.quotes, Clock: h.clk, SweepInterval: time.Hour})
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	syms := e.Symbols(ctx)
	require.Len(t, syms, 1)
	assert.Equal(t, s.ID, syms[0].ID)
	assert.Equal(t, model.StatusConfirmingReversal, syms[0].TriggerStatus)
	require.NotNil(t, syms[0].PendingSignal)
	assert.Equal(t, 100.0, syms[0].HMAValue)

	st := e.GetSystemStatus(ctx)
	assert.Equal(t, 1, st.Symbols)
	assert.Equal(t, 1, st.Instruments)
	assert.NotEmpty(t, st.InstanceID)
}

func TestSystemStatusReportsQuoteAge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.monitor(t, params())

	h.clk.Set(t0.Add(90 * time.Second))
	st := h.e.GetSystemStatus(ctx)
	assert.Equal(t, 1, st.Instruments)
	assert.Equal(t, map[string]string{contract: "1m30s"}, st.QuoteAge)

	h.quotes.Put(model.Tick{Symbol: contract, LTP: 111, Timestamp: h.clk.Now()})
	assert.Equal(t, "0s", h.e.GetSystemStatus(ctx).QuoteAge[contract])
}

func TestReplayOfAcknowledgedIntentAdoptsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.monitor(t, params(func(p *model.TradingParams) {
		p.OrderType = model.OrderStopLimit
		p.LimitBufferTicks = 1
	}))
	h.confirmEntry(t, s.ID, 105)
	require.Eventually(t, func() bool {
		h.sync(t)
		return h.symbol(t, s.ID).TriggerStatus == model.StatusOrderPlaced
	}, 2*time.Second, 5*time.Millisecond)
	placed := h.symbol(t, s.ID)
	po, ok := h.e.tracker.Get(placed.OrderID)
	require.True(t, ok)
	h.e.Stop()

	// The log still holds the entry intent: its COMPLETE record was lost.
	dir := t.TempDir()
	wal, err := order.NewPersistentQueue(dir, 8)
	require.NoError(t, err)
	require.True(t, wal.Enqueue(order.Intent{
		ID:       po.ClientTag,
		Kind:     order.KindSubmit,
		Mode:     model.ModePaper,
		Symbol:   contract,
		SymbolID: s.ID,
		Purpose:  model.PurposeEntry,
		Request:  common.OrderRequest{Symbol: contract, Side: common.SideBuy, Type: common.OrderTypeStopLimit, Qty: 75},
	}))
	wal.Close()

	q, err := order.NewPersistentQueue(dir, 8)
	require.NoError(t, err)
	gw := &mockGateway{}
	gw.Test(t)
	mgr := gateway.NewManager(gateway.DefaultConfig())
	mgr.Register(model.ModePaper, gw)
	e := NewImpl(Config{DB: h.db, Gateways: mgr, Queue: q, Quotes: h.quotes, Clock: h.clk, SweepInterval: time.Hour})
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	require.Eventually(t, func() bool { return q.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
	syms := e.Symbols(ctx)
	require.Len(t, syms, 1)
	assert.Equal(t, model.StatusOrderPlaced, syms[0].TriggerStatus)
	assert.Equal(t, placed.OrderID, syms[0].OrderID)
	got, ok := e.tracker.ByTag(po.ClientTag)
	require.True(t, ok)
	assert.Equal(t, placed.OrderID, got.OrderID)
	gw.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(common.OrderResult), args.Error(1)
}

func (m *mockGateway) CancelOrder(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) OrderStatus(ctx context.Context, id string) (common.OrderState, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(common.OrderState), args.Error(1)
}
