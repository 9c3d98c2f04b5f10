package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"options-engine/internal/model"
	"options-engine/pkg/db"
	"options-engine/pkg/exchanges/common"
)

// ErrUnknownOrder is returned for an order id the tracker never saw.
var ErrUnknownOrder = errors.New("unknown order")

// terminalCap bounds the in-memory record of resolved orders. Older ones are
// answered from the store.
const terminalCap = 1024

// Store persists tracked orders and their modification history.
type Store interface {
	CreateOrder(ctx context.Context, o db.OrderRecord) error
	UpdateOrderStatus(ctx context.Context, orderID, status string, fillPrice float64, reason string, at time.Time) error
	ListOpenOrders(ctx context.Context) ([]db.OrderRecord, error)
	GetOrderByBrokerID(ctx context.Context, orderID string) (*db.OrderRecord, error)
	AppendOrderModification(ctx context.Context, m model.OrderModification) error
	ListOrderModifications(ctx context.Context, symbol string) ([]model.OrderModification, error)
}

// Tracker keeps the pending broker orders of the engine. Orders leave the
// tracker when they reach a terminal status; the modification history of
// cancel-and-replace cycles is append-only.
type Tracker struct {
	mu      sync.RWMutex
	store   Store
	broker  Broker
	policy  common.RetryPolicy
	timeout time.Duration

	pending  map[string]model.PendingOrder // broker order id
	byTag    map[string]string             // client tag -> broker order id
	terminal map[string]string             // broker order id -> final status
	resolved []string                      // terminal ids, oldest first
	capacity int
	history  map[string][]model.OrderModification
}

// NewTracker creates a tracker. store may be nil for a purely in-memory
// tracker.
func NewTracker(store Store, broker Broker, policy common.RetryPolicy, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Tracker{
		store:    store,
		broker:   broker,
		policy:   policy,
		timeout:  timeout,
		pending:  make(map[string]model.PendingOrder),
		byTag:    make(map[string]string),
		terminal: make(map[string]string),
		capacity: terminalCap,
		history:  make(map[string][]model.OrderModification),
	}
}

// markTerminal remembers a final status, evicting the oldest beyond
// capacity. Callers hold t.mu.
func (t *Tracker) markTerminal(orderID, status string) {
	if _, ok := t.terminal[orderID]; !ok {
		t.resolved = append(t.resolved, orderID)
	}
	t.terminal[orderID] = status
	for len(t.resolved) > t.capacity {
		delete(t.terminal, t.resolved[0])
		t.resolved = t.resolved[1:]
	}
}

// Restore loads open orders from the store.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	open, err := t.store.ListOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range open {
		if rec.OrderID == "" {
			continue
		}
		t.pending[rec.OrderID] = rec.PendingOrder
		if rec.ClientTag != "" {
			t.byTag[rec.ClientTag] = rec.OrderID
		}
	}
	return len(t.pending), nil
}

// Track records an acknowledged order.
func (t *Tracker) Track(ctx context.Context, p model.PendingOrder) error {
	if p.OrderID == "" {
		return fmt.Errorf("track order: empty broker order id")
	}
	t.mu.Lock()
	t.pending[p.OrderID] = p
	if p.ClientTag != "" {
		t.byTag[p.ClientTag] = p.OrderID
	}
	t.mu.Unlock()

	if t.store != nil {
		rec := db.OrderRecord{PendingOrder: p, Status: model.OrderStatusOpen, UpdatedAt: p.SubmittedAt}
		if err := t.store.CreateOrder(ctx, rec); err != nil {
			return fmt.Errorf("persist order %s: %w", p.OrderID, err)
		}
	}
	log.Info().Str("order_id", p.OrderID).Str("symbol", p.Symbol).Str("purpose", string(p.Purpose)).
		Float64("price", p.BoughtPrice).Float64("trigger", p.TriggerPrice).Msg("tracker: order tracked")
	return nil
}

// Get returns a pending order by broker id.
func (t *Tracker) Get(orderID string) (model.PendingOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pending[orderID]
	return p, ok
}

// ByTag returns a pending order by client tag.
func (t *Tracker) ByTag(tag string) (model.PendingOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byTag[tag]
	if !ok {
		return model.PendingOrder{}, false
	}
	p, ok := t.pending[id]
	return p, ok
}

// Open returns a snapshot of all pending orders.
func (t *Tracker) Open() []model.PendingOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.PendingOrder, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	return out
}

// Resolve applies a terminal broker status. It returns the order and true
// only the first time an order is resolved.
func (t *Tracker) Resolve(ctx context.Context, u model.OrderUpdate) (model.PendingOrder, bool) {
	t.mu.Lock()
	p, ok := t.pending[u.OrderID]
	if ok {
		delete(t.pending, u.OrderID)
		delete(t.byTag, p.ClientTag)
		t.markTerminal(u.OrderID, u.Status)
	}
	t.mu.Unlock()
	if !ok {
		return model.PendingOrder{}, false
	}

	if t.store != nil {
		at := u.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		if err := t.store.UpdateOrderStatus(ctx, u.OrderID, u.Status, u.FillPrice, u.RejectReason, at); err != nil {
			log.Error().Err(err).Str("order_id", u.OrderID).Msg("tracker: persist status failed")
		}
	}
	log.Info().Str("order_id", u.OrderID).Str("status", u.Status).Float64("fill", u.FillPrice).
		Str("reason", u.RejectReason).Msg("tracker: order resolved")
	return p, true
}

// Terminal reports the final status of an order that left the tracker.
func (t *Tracker) Terminal(ctx context.Context, orderID string) (string, bool) {
	t.mu.RLock()
	st, ok := t.terminal[orderID]
	t.mu.RUnlock()
	if ok {
		return st, true
	}
	if t.store == nil {
		return "", false
	}
	rec, err := t.store.GetOrderByBrokerID(ctx, orderID)
	if err != nil {
		return "", false
	}
	switch rec.Status {
	case model.OrderStatusFilled, model.OrderStatusCancelled, model.OrderStatusRejected:
		return rec.Status, true
	}
	return "", false
}

// Cancel asks the broker to cancel a pending order. Cancelling an order that
// is already terminal succeeds without contacting the broker. The returned
// bool is false when the broker reported the order as already terminal; the
// caller resolves the order from the broker status in that case.
func (t *Tracker) Cancel(ctx context.Context, orderID string) (bool, error) {
	p, ok := t.Get(orderID)
	if !ok {
		if _, done := t.Terminal(ctx, orderID); done {
			return false, nil
		}
		return false, fmt.Errorf("cancel %s: %w", orderID, ErrUnknownOrder)
	}
	var cancelled bool
	err := common.Retry(ctx, t.policy, "cancel "+orderID, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		ok, err := t.broker.Cancel(cctx, p.Mode, orderID)
		cancelled = ok
		return err
	})
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", orderID, err)
	}
	log.Info().Str("order_id", orderID).Str("symbol", p.Symbol).Bool("cancelled", cancelled).Msg("tracker: cancel sent")
	return cancelled, nil
}

// Replace swaps a cancelled order for its replacement and appends the
// modification record. The replacement inherits the modification count.
func (t *Tracker) Replace(ctx context.Context, oldOrderID string, next model.PendingOrder, mod model.OrderModification) (model.PendingOrder, error) {
	t.mu.Lock()
	if old, ok := t.pending[oldOrderID]; ok {
		next.OrderModificationCount = old.OrderModificationCount + 1
		delete(t.pending, oldOrderID)
		delete(t.byTag, old.ClientTag)
		t.markTerminal(oldOrderID, model.OrderStatusCancelled)
	} else {
		next.OrderModificationCount++
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.UpdateOrderStatus(ctx, oldOrderID, model.OrderStatusCancelled, 0, mod.Reason, mod.Timestamp); err != nil {
			log.Error().Err(err).Str("order_id", oldOrderID).Msg("tracker: persist replaced status failed")
		}
	}
	if err := t.Track(ctx, next); err != nil {
		return next, err
	}
	mod.OldOrderID = oldOrderID
	mod.NewOrderID = next.OrderID
	return next, t.Record(ctx, mod)
}

// Record appends a modification to the history of its symbol.
func (t *Tracker) Record(ctx context.Context, mod model.OrderModification) error {
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	if mod.Timestamp.IsZero() {
		mod.Timestamp = time.Now()
	}
	t.mu.Lock()
	t.history[mod.Symbol] = append(t.history[mod.Symbol], mod)
	t.mu.Unlock()

	log.Info().Str("symbol", mod.Symbol).Str("type", mod.ModificationType).
		Str("old_order", mod.OldOrderID).Str("new_order", mod.NewOrderID).
		Float64("old_price", mod.OldLimitPrice).Float64("new_price", mod.NewLimitPrice).
		Msg("tracker: order modified")

	if t.store != nil {
		if err := t.store.AppendOrderModification(ctx, mod); err != nil {
			return fmt.Errorf("persist modification: %w", err)
		}
	}
	return nil
}

// History returns the modification history of symbol, oldest first.
func (t *Tracker) History(ctx context.Context, symbol string) ([]model.OrderModification, error) {
	if t.store != nil {
		return t.store.ListOrderModifications(ctx, symbol)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.OrderModification(nil), t.history[symbol]...), nil
}
