package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
	"options-engine/internal/hma"
	"options-engine/internal/model"
	"options-engine/internal/order"
	"options-engine/internal/position"
	"options-engine/pkg/db"
	"options-engine/pkg/instance"
)

var _ Service = (*Impl)(nil)

// --- Watchlist ---

func (e *Impl) AddSymbol(ctx context.Context, cfg model.SymbolConfig) (model.SymbolConfig, error) {
	if cfg.TradingMode == "" {
		cfg.TradingMode = e.cfg.DefaultMode
	}
	if e.cfg.AutoExitOnStopLoss {
		cfg.AutoExitOnStopLoss = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return model.SymbolConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := e.clock.Now()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	if err := e.db.CreateSymbolConfig(ctx, cfg); err != nil {
		return model.SymbolConfig{}, err
	}
	log.Info().Str("config_id", cfg.ID).Str("symbol", cfg.Symbol).Int("qty", cfg.Quantity).Msg("engine: watchlist entry added")
	return cfg, nil
}

func (e *Impl) ListWatchlist(ctx context.Context) ([]model.SymbolConfig, error) {
	return e.db.ListSymbolConfigs(ctx)
}

func (e *Impl) RemoveSymbol(ctx context.Context, id string) error {
	err := e.db.DeleteSymbolConfig(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("watchlist entry %s: %w", id, ErrNotFound)
	}
	return err
}

// --- Monitoring commands ---

func (e *Impl) StartMonitoring(ctx context.Context, configID string) (model.MonitoredSymbol, error) {
	cfg, err := e.db.GetSymbolConfig(ctx, configID)
	if errors.Is(err, db.ErrNotFound) {
		return model.MonitoredSymbol{}, fmt.Errorf("watchlist entry %s: %w", configID, ErrNotFound)
	}
	if err != nil {
		return model.MonitoredSymbol{}, err
	}
	for _, s := range e.state.Symbols() {
		if s.ConfigID == configID && !s.TriggerStatus.Terminal() {
			return model.MonitoredSymbol{}, fmt.Errorf("%s: %w", cfg.Symbol, ErrAlreadyMonitored)
		}
	}

	s := &model.MonitoredSymbol{
		ID:            uuid.NewString(),
		ConfigID:      cfg.ID,
		Symbol:        cfg.Symbol,
		OptionType:    cfg.OptionType,
		TradingParams: cfg.TradingParams,
	}
	if ltp, ok := e.quotes.LTP(cfg.Symbol); ok {
		s.CurrentLTP = ltp
	}

	var out model.MonitoredSymbol
	a := e.actorFor(cfg.Symbol)
	err = a.call(ctx, func() error {
		e.machine.Start(s, e.clock.Now())
		a.adopt(s)
		a.persistSymbol(s)
		a.e.bus.Publish(events.EventTransition, events.Transition{
			SymbolID: s.ID, Symbol: s.Symbol, To: string(s.TriggerStatus), LTP: s.CurrentLTP,
			Reason: "monitoring started", At: s.CreatedAt,
		})
		out = *s.Clone()
		return nil
	})
	if err != nil {
		return model.MonitoredSymbol{}, err
	}
	e.publishCounts()
	log.Info().Str("symbol", s.Symbol).Str("symbol_id", s.ID).Msg("engine: monitoring started")

	if e.scheduler != nil {
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), e.cfg.NetworkTimeout*2)
			defer cancel()
			e.scheduler.RefreshNow(rctx, s.Symbol)
		}()
	}
	return out, nil
}

func (e *Impl) StopMonitoring(ctx context.Context, symbolID string) error {
	a, err := e.symbolActor(symbolID)
	if err != nil {
		return err
	}
	err = a.call(ctx, func() error {
		s, ok := a.symbols[symbolID]
		if !ok {
			return fmt.Errorf("symbol %s: %w", symbolID, ErrNotFound)
		}
		delete(a.symbols, symbolID)
		a.forget(symbolID)
		if s.TriggerStatus == model.StatusOrderPlaced && s.OrderID != "" {
			if _, open := e.tracker.Get(s.OrderID); open {
				a.cancel(s.Symbol, s.TradingMode, s.OrderID, "", "", model.PurposeEntry)
			}
		}
		if err := e.state.RemoveSymbol(a.ctx(), symbolID); err != nil {
			return err
		}
		a.release()
		e.bus.Publish(events.EventSymbolRemoved, events.Transition{
			SymbolID: s.ID, Symbol: s.Symbol, From: string(s.TriggerStatus), Reason: "monitoring stopped", At: e.clock.Now(),
		})
		log.Info().Str("symbol", s.Symbol).Str("symbol_id", s.ID).Str("status", string(s.TriggerStatus)).Msg("engine: monitoring stopped")
		return nil
	})
	if err == nil {
		e.publishCounts()
	}
	return err
}

func (e *Impl) ForceEntryWindow(ctx context.Context, symbolID string) (model.MonitoredSymbol, error) {
	a, err := e.symbolActor(symbolID)
	if err != nil {
		return model.MonitoredSymbol{}, err
	}
	var out model.MonitoredSymbol
	err = a.call(ctx, func() error {
		s, ok := a.symbols[symbolID]
		if !ok {
			return fmt.Errorf("symbol %s: %w", symbolID, ErrNotFound)
		}
		now := e.clock.Now()
		res, err := e.machine.ForceEntry(s, now)
		if err != nil {
			return err
		}
		a.settle(s, res, now)
		out = *s.Clone()
		return nil
	})
	return out, err
}

func (e *Impl) RefreshHMA(ctx context.Context, instrument string) (hma.RefreshReport, error) {
	if e.scheduler == nil {
		return hma.RefreshReport{}, errors.New("hma service not configured")
	}
	if instrument != "" {
		return e.scheduler.RefreshNow(ctx, strings.ToUpper(instrument)), nil
	}
	return e.scheduler.RefreshNow(ctx), nil
}

// --- Orders and positions ---

// CancelOrder cancels a tracked order. Cancelling an order that already
// reached a terminal status is a no-op.
func (e *Impl) CancelOrder(ctx context.Context, orderID string) error {
	po, tracked := e.tracker.Get(orderID)
	cancelled, err := e.tracker.Cancel(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrUnknownOrder) {
			return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return err
	}
	if !tracked {
		return nil
	}
	if cancelled {
		return e.HandleOrderUpdate(ctx, model.OrderUpdate{OrderID: orderID, Status: model.OrderStatusCancelled, Timestamp: e.clock.Now()})
	}
	e.pollOrder(po.Mode, orderID)
	return nil
}

func (e *Impl) ExitPosition(ctx context.Context, positionID string) error {
	p, ok := e.state.Position(positionID)
	if !ok {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	a, ok := e.actor(p.Symbol)
	if !ok {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	return a.call(ctx, func() error {
		p, ok := a.positions[positionID]
		if !ok {
			return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
		}
		now := e.clock.Now()
		p.RetryAfter = time.Time{}
		if !position.MarkExit(p, model.ExitManual, p.CurrentLTP, now) {
			return nil
		}
		log.Info().Str("position", p.ID).Str("symbol", p.Symbol).Msg("engine: manual exit requested")
		a.persistPosition(p)
		a.submitExit(p, now)
		return nil
	})
}

// HandleOrderUpdate applies a broker status report. Reports for orders that
// already reached a terminal status are ignored.
func (e *Impl) HandleOrderUpdate(ctx context.Context, u model.OrderUpdate) error {
	u.Status = strings.ToUpper(strings.TrimSpace(u.Status))
	if u.OrderID == "" {
		return &model.ValidationError{Field: "orderId", Message: "required"}
	}
	switch u.Status {
	case model.OrderStatusOpen, model.OrderStatusFilled, model.OrderStatusRejected, model.OrderStatusCancelled:
	default:
		return &model.ValidationError{Field: "status", Message: fmt.Sprintf("unsupported %q", u.Status)}
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = e.clock.Now()
	}
	po, ok := e.tracker.Get(u.OrderID)
	if !ok {
		if _, done := e.tracker.Terminal(ctx, u.OrderID); done {
			return nil
		}
		return fmt.Errorf("%w: %s", order.ErrUnknownOrder, u.OrderID)
	}
	a, ok := e.actor(po.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s", order.ErrUnknownOrder, u.OrderID)
	}
	return a.call(ctx, func() error { return a.applyUpdate(u) })
}

// --- Queries ---

func (e *Impl) Symbols(ctx context.Context) []model.MonitoredSymbol {
	syms := e.state.Symbols()
	out := make([]model.MonitoredSymbol, 0, len(syms))
	for _, s := range syms {
		out = append(out, *s)
	}
	return out
}

func (e *Impl) Positions(ctx context.Context) []model.ActivePosition {
	ps := e.state.Positions()
	out := make([]model.ActivePosition, 0, len(ps))
	for _, p := range ps {
		out = append(out, *p)
	}
	return out
}

func (e *Impl) ClosedTrades(ctx context.Context, limit int) ([]model.ClosedTrade, error) {
	return e.db.ListClosedTrades(ctx, limit)
}

func (e *Impl) Modifications(ctx context.Context, symbol string) ([]model.OrderModification, error) {
	return e.tracker.History(ctx, strings.ToUpper(symbol))
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	now := e.clock.Now()
	ages := make(map[string]string)
	e.mu.RLock()
	instruments := len(e.actors)
	for sym := range e.actors {
		if age, ok := e.quotes.Age(sym, now); ok {
			ages[sym] = age.Round(time.Second).String()
		}
	}
	e.mu.RUnlock()
	syms, pos := e.state.Counts()
	st := &SystemStatus{
		Mode:        e.cfg.Meta.Mode,
		Version:     e.cfg.Meta.Version,
		InstanceID:  instance.ID(),
		StartedAt:   e.started,
		Uptime:      now.Sub(e.started).Round(time.Second).String(),
		Instruments: instruments,
		Symbols:     syms,
		Positions:   pos,
		OpenOrders:  len(e.tracker.Open()),
		QueueDepth:  e.queue.Len(),
		InFlight:    e.executor.Pending(),
		QuoteAge:    ages,
		Metrics:     e.metrics.GetSnapshot(),
	}
	if e.gateways != nil {
		st.Gateways = e.gateways.Modes()
	}
	if e.scheduler != nil {
		st.HMARetrySet = e.scheduler.RetryPending()
	}
	return st
}

// --- HMA sink ---

// HMATargets lists every instrument with a live record and the oldest HMA
// candle stamp among its records.
func (e *Impl) HMATargets() []hma.Target {
	oldest := make(map[string]int64)
	add := func(symbol string, ts int64) {
		if cur, ok := oldest[symbol]; !ok || ts < cur {
			oldest[symbol] = ts
		}
	}
	for _, s := range e.state.Symbols() {
		if !s.TriggerStatus.Terminal() {
			add(s.Symbol, s.HMALastCandleTimestamp)
		}
	}
	for _, p := range e.state.Positions() {
		add(p.Symbol, p.HMALastCandleTimestamp)
	}
	out := make([]hma.Target, 0, len(oldest))
	for sym, ts := range oldest {
		out = append(out, hma.Target{Symbol: sym, CandleTS: ts})
	}
	return out
}

// ApplyHMA stores a refreshed HMA on the instrument's records.
func (e *Impl) ApplyHMA(ctx context.Context, symbol string, value float64, candleTS int64) bool {
	a, ok := e.actor(symbol)
	if !ok {
		return false
	}
	changed := false
	err := a.call(ctx, func() error {
		changed = a.applyHMA(value, candleTS)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("engine: apply hma failed")
	}
	return changed
}

func (e *Impl) symbolActor(symbolID string) (*actor, error) {
	s, ok := e.state.Symbol(symbolID)
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbolID, ErrNotFound)
	}
	a, ok := e.actor(s.Symbol)
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbolID, ErrNotFound)
	}
	return a, nil
}
