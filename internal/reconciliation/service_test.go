package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/instance"
)

type stubBroker map[string]common.OrderState

func (b stubBroker) Status(_ context.Context, _ model.TradingMode, id string) (common.OrderState, error) {
	st, ok := b[id]
	if !ok {
		return common.OrderState{}, errors.New("not found")
	}
	return st, nil
}

type stubOrders []model.PendingOrder

func (o stubOrders) Open() []model.PendingOrder { return o }

func TestReconcileAppliesTerminalDrift(t *testing.T) {
	broker := stubBroker{
		"B-1": {OrderID: "B-1", Status: common.StatusOpen},
		"B-2": {OrderID: "B-2", Status: common.StatusFilled, FillPrice: 105},
	}
	orders := stubOrders{
		{OrderID: "B-1", ClientTag: instance.NewTag(), Symbol: "A"},
		{OrderID: "B-2", ClientTag: instance.NewTag(), Symbol: "B", Purpose: model.PurposeEntry},
		{OrderID: "B-3", ClientTag: instance.NewTag(), Symbol: "C"},
		{OrderID: "X-1", ClientTag: "OTHERHOST-1", Symbol: "D"},
	}
	var applied []model.OrderUpdate
	svc := NewService(broker, orders, func(_ context.Context, u model.OrderUpdate) error {
		applied = append(applied, u)
		return nil
	}, 0, 0)

	report := svc.Reconcile(context.Background())
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Errors)
	require.Len(t, report.Diffs, 1)
	assert.True(t, report.Diffs[0].Synced)
	require.Len(t, applied, 1)
	assert.Equal(t, "B-2", applied[0].OrderID)
	assert.Equal(t, model.OrderStatusFilled, applied[0].Status)
	assert.Equal(t, 105.0, applied[0].FillPrice)

	svc.SetAutoSync(false)
	applied = nil
	report = svc.Reconcile(context.Background())
	assert.False(t, report.Diffs[0].Synced)
	assert.Empty(t, applied)
}
