package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
	"options-engine/pkg/db"
	"options-engine/pkg/exchanges/common"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Submit(ctx context.Context, mode model.TradingMode, req common.OrderRequest) (common.OrderResult, error) {
	args := m.Called(ctx, mode, req)
	return args.Get(0).(common.OrderResult), args.Error(1)
}

func (m *mockBroker) Cancel(ctx context.Context, mode model.TradingMode, orderID string) (bool, error) {
	args := m.Called(ctx, mode, orderID)
	return args.Bool(0), args.Error(1)
}

var fastRetry = common.RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

func newTestStore(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func pending(orderID string) model.PendingOrder {
	return model.PendingOrder{
		ID: "tag-" + orderID, OrderID: orderID, ClientTag: "tag-" + orderID, Symbol: "NIFTY24000CE",
		Purpose: model.PurposeEntry, Mode: model.ModeLive, Side: "BUY", OrderType: model.OrderStopLimit,
		Quantity: 75, BoughtPrice: 101, TriggerPrice: 100.5, HMAValue: 100.5,
		SubmittedAt: time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC),
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := new(mockBroker)
	b.On("Cancel", mock.Anything, model.ModeLive, "B-1").Return(true, nil).Once()
	tr := NewTracker(nil, b, fastRetry, time.Second)
	require.NoError(t, tr.Track(ctx, pending("B-1")))

	ok, err := tr.Cancel(ctx, "B-1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, first := tr.Resolve(ctx, model.OrderUpdate{OrderID: "B-1", Status: model.OrderStatusCancelled})
	assert.True(t, first)
	_, again := tr.Resolve(ctx, model.OrderUpdate{OrderID: "B-1", Status: model.OrderStatusCancelled})
	assert.False(t, again)

	// Already terminal: no broker call, no error.
	ok, err = tr.Cancel(ctx, "B-1")
	require.NoError(t, err)
	assert.False(t, ok)
	b.AssertExpectations(t)

	_, err = tr.Cancel(ctx, "B-404")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestCancelRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	b := new(mockBroker)
	b.On("Cancel", mock.Anything, model.ModeLive, "B-1").Return(false, common.Transient("cancel", errors.New("timeout"))).Twice()
	b.On("Cancel", mock.Anything, model.ModeLive, "B-1").Return(true, nil).Once()
	tr := NewTracker(nil, b, fastRetry, time.Second)
	require.NoError(t, tr.Track(ctx, pending("B-1")))

	ok, err := tr.Cancel(ctx, "B-1")
	require.NoError(t, err)
	assert.True(t, ok)
	b.AssertNumberOfCalls(t, "Cancel", 3)
}

func TestReplaceRecordsModification(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := NewTracker(store, new(mockBroker), fastRetry, time.Second)
	require.NoError(t, tr.Track(ctx, pending("B-1")))

	next := pending("B-2")
	next.TriggerPrice, next.BoughtPrice, next.HMAValue = 98.5, 99, 98.5
	got, err := tr.Replace(ctx, "B-1", next, model.OrderModification{
		Symbol: "NIFTY24000CE", ModificationType: model.ModHMAUpdate,
		OldHMAValue: 100.5, NewHMAValue: 98.5, OldLimitPrice: 101, NewLimitPrice: 99,
		Reason: "hma moved", Timestamp: next.SubmittedAt.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.OrderModificationCount)

	_, ok := tr.Get("B-1")
	assert.False(t, ok)
	_, ok = tr.ByTag("tag-B-2")
	assert.True(t, ok)

	hist, err := tr.History(ctx, "NIFTY24000CE")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "B-1", hist[0].OldOrderID)
	assert.Equal(t, "B-2", hist[0].NewOrderID)

	status, done := tr.Terminal(ctx, "B-1")
	assert.True(t, done)
	assert.Equal(t, model.OrderStatusCancelled, status)

	restored := NewTracker(store, new(mockBroker), fastRetry, time.Second)
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p, ok := restored.Get("B-2")
	require.True(t, ok)
	assert.Equal(t, model.ModeLive, p.Mode)
}

func TestTerminalMemoryIsBounded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tr := NewTracker(store, new(mockBroker), fastRetry, time.Second)
	tr.capacity = 2
	for _, id := range []string{"B-1", "B-2", "B-3"} {
		require.NoError(t, tr.Track(ctx, pending(id)))
		_, first := tr.Resolve(ctx, model.OrderUpdate{OrderID: id, Status: model.OrderStatusFilled, FillPrice: 101})
		require.True(t, first)
	}
	assert.Len(t, tr.terminal, 2)
	assert.Equal(t, []string{"B-2", "B-3"}, tr.resolved)

	// Evicted from memory but still answered by the store.
	status, done := tr.Terminal(ctx, "B-1")
	assert.True(t, done)
	assert.Equal(t, model.OrderStatusFilled, status)

	mem := NewTracker(nil, new(mockBroker), fastRetry, time.Second)
	mem.capacity = 1
	require.NoError(t, mem.Track(ctx, pending("B-1")))
	require.NoError(t, mem.Track(ctx, pending("B-2")))
	mem.Resolve(ctx, model.OrderUpdate{OrderID: "B-1", Status: model.OrderStatusCancelled})
	mem.Resolve(ctx, model.OrderUpdate{OrderID: "B-2", Status: model.OrderStatusCancelled})
	_, done = mem.Terminal(ctx, "B-1")
	assert.False(t, done)
	_, done = mem.Terminal(ctx, "B-2")
	assert.True(t, done)
}
