package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
	"options-engine/pkg/db"
)

func TestManagerPersistsAndReloads(t *testing.T) {
	d, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	defer d.Close()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	m := NewManager(d)
	sym := &model.MonitoredSymbol{
		ID: "s1", Symbol: "NIFTY24000CE", TriggerStatus: model.StatusConfirmingReversal,
		PendingSignal: &model.PendingSignal{Direction: model.DirectionBelow, ConfirmationEndTime: now.Add(15 * time.Minute)},
		CreatedAt:     now,
	}
	require.NoError(t, m.SaveSymbol(ctx, sym))
	require.NoError(t, m.SavePosition(ctx, &model.ActivePosition{ID: "p1", Symbol: "NIFTY24000PE", StopLoss: 90, OpenedAt: now}))

	// Per-tick updates stay in memory.
	sym.CurrentLTP = 95
	m.PutSymbol(sym)
	got, ok := m.Symbol("s1")
	require.True(t, ok)
	assert.Equal(t, 95.0, got.CurrentLTP)
	got.PendingSignal.Direction = model.DirectionAbove
	again, _ := m.Symbol("s1")
	assert.Equal(t, model.DirectionBelow, again.PendingSignal.Direction, "callers get clones")

	reloaded := NewManager(d)
	require.NoError(t, reloaded.Load(ctx))
	s, p := reloaded.Counts()
	assert.Equal(t, 1, s)
	assert.Equal(t, 1, p)
	loaded, _ := reloaded.Symbol("s1")
	assert.Zero(t, loaded.CurrentLTP)
	assert.Equal(t, model.StatusConfirmingReversal, loaded.TriggerStatus)

	require.NoError(t, reloaded.RemoveSymbol(ctx, "s1"))
	require.NoError(t, reloaded.RemovePosition(ctx, "p1"))
	assert.Empty(t, reloaded.Symbols())
	assert.Empty(t, reloaded.Positions())
}
