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
	"options-engine/pkg/exchanges/common"
)

func TestExecutorSubmitsAndReportsResult(t *testing.T) {
	b := new(mockBroker)
	in := intent("a")
	in.Mode = model.ModePaper
	b.On("Submit", mock.Anything, model.ModePaper, in.Request).
		Return(common.OrderResult{}, common.Transient("submit", errors.New("502"))).Once()
	b.On("Submit", mock.Anything, model.ModePaper, in.Request).
		Return(common.OrderResult{OrderID: "P-1", Status: common.StatusOpen, ClientTag: "a"}, nil).Once()

	ex := NewAsyncExecutor(b, 2, time.Second, fastRetry)
	ex.ExecuteAsync(context.Background(), in)

	select {
	case res := <-ex.Results():
		require.NoError(t, res.Err)
		assert.Equal(t, "P-1", res.Result.OrderID)
		assert.Equal(t, "a", res.Intent.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	ex.Close()
	b.AssertNumberOfCalls(t, "Submit", 2)
}

func TestExecutorDoesNotRetryRejection(t *testing.T) {
	b := new(mockBroker)
	in := intent("a")
	b.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(common.OrderResult{}, &common.RejectionError{Reason: "Market is closed"}).Once()

	ex := NewAsyncExecutor(b, 1, time.Second, fastRetry)
	ex.ExecuteAsync(context.Background(), in)
	res := <-ex.Results()
	rej, ok := common.AsRejection(res.Err)
	require.True(t, ok)
	assert.Equal(t, CategoryMarketClosed, Classify(rej.Reason).Code)
	ex.Close()
	b.AssertNumberOfCalls(t, "Submit", 1)
}

func TestExecutorCancelIntent(t *testing.T) {
	b := new(mockBroker)
	b.On("Cancel", mock.Anything, model.ModeLive, "B-9").Return(false, nil).Once()
	ex := NewAsyncExecutor(b, 1, time.Second, fastRetry)
	ex.ExecuteAsync(context.Background(), Intent{ID: "x", Kind: KindCancel, Mode: model.ModeLive, CancelOrderID: "B-9"})
	res := <-ex.Results()
	require.NoError(t, res.Err)
	assert.False(t, res.Cancelled)
	ex.Close()

	_, open := <-ex.Results()
	assert.False(t, open, "results closed after Close")
}
