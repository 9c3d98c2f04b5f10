package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func sampleConfig() model.SymbolConfig {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	c := model.SymbolConfig{
		ID:         "cfg-1",
		Symbol:     "NIFTY24000CE",
		OptionType: model.OptionCE,
		TradingParams: model.TradingParams{
			Lots: 2, LotSize: 75, TargetPoints: 20, StopLossPoints: 10,
			TradingMode: model.ModePaper, UseTrailingStoploss: true, TrailingX: 20, TrailingY: 15,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.Normalize()
	return c
}

func TestWatchlistRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	c := sampleConfig()

	require.NoError(t, d.CreateSymbolConfig(ctx, c))
	assert.ErrorIs(t, d.CreateSymbolConfig(ctx, model.SymbolConfig{ID: "cfg-2", Symbol: c.Symbol, OptionType: model.OptionCE}), ErrDuplicateSymbol)

	got, err := d.GetSymbolConfig(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, 150, got.Quantity)
	assert.Equal(t, 15.0, got.TrailingY)

	c.TargetPoints = 30
	require.NoError(t, d.UpsertSymbolConfig(ctx, c))
	list, err := d.ListSymbolConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 30.0, list[0].TargetPoints)

	require.NoError(t, d.DeleteSymbolConfig(ctx, "cfg-1"))
	assert.ErrorIs(t, d.DeleteSymbolConfig(ctx, "cfg-1"), ErrNotFound)
	_, err = d.GetSymbolConfig(ctx, "cfg-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonitoredSymbolPersistsPendingSignal(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	m := &model.MonitoredSymbol{
		ID: "sym-1", Symbol: "NIFTY24000CE", TriggerStatus: model.StatusConfirmingReversal,
		PendingSignal: &model.PendingSignal{
			Direction: model.DirectionBelow, TriggeredAt: now, HMAAtTrigger: 100,
			ConfirmationEndTime: now.Add(15 * time.Minute),
		},
		UpdatedAt: now,
	}
	require.NoError(t, d.SaveMonitoredSymbol(ctx, m))

	m.TriggerStatus = model.StatusWaitingForEntry
	m.PendingSignal = nil
	require.NoError(t, d.SaveMonitoredSymbol(ctx, m))

	list, err := d.ListMonitoredSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusWaitingForEntry, list[0].TriggerStatus)
	assert.Nil(t, list[0].PendingSignal)

	require.NoError(t, d.DeleteMonitoredSymbol(ctx, "sym-1"))
	list, err = d.ListMonitoredSymbols(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOrdersAndModifications(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC)

	rec := OrderRecord{
		PendingOrder: model.PendingOrder{
			ID: "po-1", OrderID: "B-1", ClientTag: "tag-1", Symbol: "NIFTY24000CE", SymbolID: "sym-1",
			Purpose: model.PurposeEntry, Mode: model.ModeLive, Side: "BUY", OrderType: model.OrderStopLimit, Quantity: 75,
			BoughtPrice: 101, TriggerPrice: 100.5, HMAValue: 100.5, SubmittedAt: now,
		},
		Status: model.OrderStatusOpen,
	}
	require.NoError(t, d.CreateOrder(ctx, rec))

	open, err := d.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.OrderStopLimit, open[0].OrderType)
	assert.Equal(t, model.ModeLive, open[0].Mode)

	require.NoError(t, d.UpdateOrderStatus(ctx, "B-1", model.OrderStatusFilled, 101, "", now.Add(time.Second)))
	open, err = d.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := d.GetOrderByBrokerID(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, 101.0, got.FillPrice)

	for i, newID := range []string{"B-2", "B-3"} {
		require.NoError(t, d.AppendOrderModification(ctx, model.OrderModification{
			ID: newID, Symbol: "NIFTY24000CE", ModificationType: model.ModHMAUpdate,
			OldOrderID: "B-1", NewOrderID: newID, Timestamp: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	mods, err := d.ListOrderModifications(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "B-2", mods[0].NewOrderID)
}

func TestClosedTradesAndSnapshots(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

	require.NoError(t, d.CreateClosedTrade(ctx, model.ClosedTrade{
		ID: "ct-1", PositionID: "pos-1", Symbol: "NIFTY24000CE", BoughtPrice: 105, ExitPrice: 125,
		Quantity: 75, ExitReason: model.ExitTarget, ExitStatus: model.StatusTargetExitHit, PnL: 1500,
		OpenedAt: now.Add(-time.Hour), ClosedAt: now,
	}))
	trades, err := d.ListClosedTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, model.StatusTargetExitHit, trades[0].ExitStatus)

	require.NoError(t, d.InsertLTPSnapshots(ctx, []LTPSnapshot{
		{Symbol: "NIFTY24000CE", LTP: 101, CreatedAt: now},
		{Symbol: "NIFTY24000CE", LTP: 102, CreatedAt: now.Add(time.Second)},
	}))
	n, err := d.CountLTPSnapshots(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
