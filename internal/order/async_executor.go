package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/model"
	"options-engine/pkg/exchanges/common"
)

// ErrExecutorClosed is reported for intents arriving after Close.
var ErrExecutorClosed = errors.New("async executor closed")

// Broker is the routing surface the executor sends intents through.
type Broker interface {
	Submit(ctx context.Context, mode model.TradingMode, req common.OrderRequest) (common.OrderResult, error)
	Cancel(ctx context.Context, mode model.TradingMode, orderID string) (bool, error)
}

// AsyncExecutor runs intents on a bounded worker pool so a slow broker call
// for one symbol never blocks the others.
type AsyncExecutor struct {
	broker     Broker
	policy     common.RetryPolicy
	timeout    time.Duration
	resultCh   chan ExecutionResult
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
}

// ExecutionResult is the outcome of one intent.
type ExecutionResult struct {
	Intent    Intent
	Result    common.OrderResult
	Cancelled bool // KindCancel: false means the order was already terminal
	Err       error
	Latency   time.Duration
	Timestamp time.Time
}

// NewAsyncExecutor creates an executor with the given worker count. Each
// broker attempt is bounded by timeout and transient failures are retried
// per policy.
func NewAsyncExecutor(broker Broker, workers int, timeout time.Duration, policy common.RetryPolicy) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncExecutor{
		broker:     broker,
		policy:     policy,
		timeout:    timeout,
		resultCh:   make(chan ExecutionResult, 256),
		workerPool: make(chan struct{}, workers),
	}
}

// ExecuteAsync runs the intent on a worker; it blocks only while all
// workers are busy.
func (a *AsyncExecutor) ExecuteAsync(ctx context.Context, in Intent) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		log.Warn().Str("intent", in.ID).Msg("executor: closed, intent dropped")
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	a.workerPool <- struct{}{}

	go func() {
		defer a.wg.Done()
		defer func() { <-a.workerPool }()

		start := time.Now()
		res := ExecutionResult{Intent: in}
		switch in.Kind {
		case KindCancel:
			res.Err = common.Retry(ctx, a.policy, "cancel "+in.CancelOrderID, func(ctx context.Context) error {
				actx, cancel := context.WithTimeout(ctx, a.timeout)
				defer cancel()
				ok, err := a.broker.Cancel(actx, in.Mode, in.CancelOrderID)
				res.Cancelled = ok
				return err
			})
		default:
			res.Err = common.Retry(ctx, a.policy, "submit "+in.ID, func(ctx context.Context) error {
				actx, cancel := context.WithTimeout(ctx, a.timeout)
				defer cancel()
				r, err := a.broker.Submit(actx, in.Mode, in.Request)
				res.Result = r
				return err
			})
		}
		res.Latency = time.Since(start)
		res.Timestamp = time.Now()

		ev := log.Info()
		if res.Err != nil {
			ev = log.Warn().Err(res.Err)
		}
		ev.Str("intent", in.ID).Str("kind", string(in.Kind)).Str("symbol", in.Symbol).
			Str("order_id", res.Result.OrderID).Dur("latency", res.Latency).Msg("executor: intent finished")

		a.resultCh <- res
	}()
}

// Results returns the result channel. It is closed by Close.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Pending returns the number of busy workers.
func (a *AsyncExecutor) Pending() int {
	return len(a.workerPool)
}

// Close stops accepting intents, waits for in-flight ones and closes the
// result channel. Results must keep being drained until then.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
	close(a.resultCh)
}
