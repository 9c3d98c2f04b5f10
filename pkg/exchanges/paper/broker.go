// Package paper is an in-process broker for PAPER trading. MARKET orders
// fill at the cached LTP on submission; resting orders fill when a later
// tick crosses their price.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"options-engine/internal/model"
	"options-engine/pkg/cache"
	"options-engine/pkg/clock"
	"options-engine/pkg/exchanges/common"
)

// ErrUnknownOrder is returned for order ids this broker never issued.
var ErrUnknownOrder = errors.New("paper: unknown order")

type paperOrder struct {
	req    common.OrderRequest
	state  common.OrderState
	placed time.Time
}

// Broker implements common.Gateway against the quote repository.
type Broker struct {
	quotes *cache.Quotes
	clock  clock.Clock

	mu     sync.Mutex
	orders map[string]*paperOrder
	byTag  map[string]string

	onUpdate func(model.OrderUpdate)
}

func New(quotes *cache.Quotes, clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Broker{
		quotes: quotes,
		clock:  clk,
		orders: make(map[string]*paperOrder),
		byTag:  make(map[string]string),
	}
}

// OnUpdate registers the callback that receives fills of resting orders.
func (b *Broker) OnUpdate(fn func(model.OrderUpdate)) {
	b.mu.Lock()
	b.onUpdate = fn
	b.mu.Unlock()
}

func (b *Broker) SubmitOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Qty <= 0 {
		return common.OrderResult{}, &common.RejectionError{Reason: "quantity must be positive"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.ClientTag != "" {
		if id, ok := b.byTag[req.ClientTag]; ok {
			o := b.orders[id]
			return common.OrderResult{OrderID: id, Status: o.state.Status, ClientTag: req.ClientTag, AvgPrice: o.state.FillPrice}, nil
		}
	}

	ltp, ok := b.quotes.LTP(req.Symbol)
	if !ok && req.Type == common.OrderTypeMarket {
		return common.OrderResult{}, &common.RejectionError{Reason: fmt.Sprintf("invalid symbol %s: no market data", req.Symbol)}
	}

	now := b.clock.Now()
	id := "PAPER-" + uuid.NewString()[:8]
	o := &paperOrder{
		req:    req,
		placed: now,
		state:  common.OrderState{OrderID: id, Status: common.StatusOpen, UpdatedAt: now},
	}
	if req.Type == common.OrderTypeMarket {
		o.state.Status = common.StatusFilled
		o.state.FillPrice = ltp
		o.state.FilledQty = req.Qty
	} else if ok {
		if px, hit := fillPrice(req, ltp); hit {
			o.state.Status = common.StatusFilled
			o.state.FillPrice = px
			o.state.FilledQty = req.Qty
		}
	}
	b.orders[id] = o
	if req.ClientTag != "" {
		b.byTag[req.ClientTag] = id
	}
	log.Info().Str("order_id", id).Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("type", string(req.Type)).Int("qty", req.Qty).Str("status", string(o.state.Status)).
		Msg("paper: order accepted")

	return common.OrderResult{OrderID: id, Status: o.state.Status, ClientTag: req.ClientTag, AvgPrice: o.state.FillPrice}, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return false, ErrUnknownOrder
	}
	if o.state.Status.Terminal() {
		return false, nil
	}
	o.state.Status = common.StatusCancelled
	o.state.UpdatedAt = b.clock.Now()
	return true, nil
}

func (b *Broker) OrderStatus(_ context.Context, orderID string) (common.OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return common.OrderState{}, ErrUnknownOrder
	}
	return o.state, nil
}

// OnTick fills resting orders for the tick's symbol and reports the fills.
func (b *Broker) OnTick(t model.Tick) {
	var fills []model.OrderUpdate

	b.mu.Lock()
	for id, o := range b.orders {
		if o.req.Symbol != t.Symbol || o.state.Status != common.StatusOpen {
			continue
		}
		px, hit := fillPrice(o.req, t.LTP)
		if !hit {
			continue
		}
		o.state.Status = common.StatusFilled
		o.state.FillPrice = px
		o.state.FilledQty = o.req.Qty
		o.state.UpdatedAt = t.Timestamp
		fills = append(fills, model.OrderUpdate{
			OrderID:   id,
			Status:    model.OrderStatusFilled,
			FillPrice: px,
			Timestamp: t.Timestamp,
		})
	}
	cb := b.onUpdate
	b.mu.Unlock()

	if cb == nil {
		return
	}
	for _, f := range fills {
		cb(f)
	}
}

// Open returns the number of resting orders.
func (b *Broker) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.orders {
		if o.state.Status == common.StatusOpen {
			n++
		}
	}
	return n
}

// fillPrice decides whether a resting order executes at ltp.
func fillPrice(req common.OrderRequest, ltp float64) (float64, bool) {
	switch req.Type {
	case common.OrderTypeLimit:
		if req.Side == common.SideBuy && ltp <= req.Price {
			return ltp, true
		}
		if req.Side == common.SideSell && ltp >= req.Price {
			return ltp, true
		}
	case common.OrderTypeStopLimit:
		if req.Side == common.SideBuy && ltp >= req.TriggerPrice && ltp <= req.Price {
			return ltp, true
		}
		if req.Side == common.SideSell && ltp <= req.TriggerPrice && ltp >= req.Price {
			return ltp, true
		}
	}
	return 0, false
}
