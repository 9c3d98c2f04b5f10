package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
	"options-engine/internal/lifecycle"
	"options-engine/internal/model"
	"options-engine/internal/monitor"
	"options-engine/internal/order"
	"options-engine/internal/position"
	"options-engine/pkg/db"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/instance"
)

func (a *actor) ctx() context.Context { return context.Background() }

func (a *actor) persistSymbol(s *model.MonitoredSymbol) {
	t := monitor.NewTimer(a.e.metrics.DBLatency)
	if err := a.e.state.SaveSymbol(a.ctx(), s); err != nil {
		log.Error().Err(err).Str("symbol_id", s.ID).Msg("engine: persist symbol failed")
	}
	t.Stop()
}

func (a *actor) persistPosition(p *model.ActivePosition) {
	t := monitor.NewTimer(a.e.metrics.DBLatency)
	if err := a.e.state.SavePosition(a.ctx(), p); err != nil {
		log.Error().Err(err).Str("position", p.ID).Msg("engine: persist position failed")
	}
	t.Stop()
}

// adopt registers a new monitored symbol with the actor.
func (a *actor) adopt(s *model.MonitoredSymbol) {
	a.symbols[s.ID] = s
	a.track(s.ID)
	if a.e.feed != nil {
		a.e.feed.Subscribe(a.symbol)
	}
}

// release drops the feed subscription once nothing is left to watch.
func (a *actor) release() {
	if a.e.feed != nil && a.empty() {
		a.e.feed.Unsubscribe(a.symbol)
	}
}

func (a *actor) flag(id, symbol string, err error) {
	a.e.metrics.IncrementErrors()
	log.Warn().Err(err).Str("id", id).Str("symbol", symbol).Msg("engine: flagged after retries")
	a.e.bus.Publish(events.EventSymbolFlagged, events.Flag{ID: id, Symbol: symbol, Error: err.Error(), At: a.e.clock.Now()})
}

func (a *actor) publishOrder(ev events.Event, in order.Intent, orderID string, price float64) {
	a.e.bus.Publish(ev, events.OrderEvent{
		OrderID:   orderID,
		ClientTag: in.Request.ClientTag,
		Symbol:    in.Symbol,
		Purpose:   string(in.Purpose),
		Side:      string(in.Request.Side),
		Price:     price,
		At:        a.e.clock.Now(),
	})
}

func (a *actor) publishRejection(in order.Intent, orderID, remark string) order.Category {
	cat := order.Classify(remark)
	a.e.bus.Publish(events.EventOrderRejected, events.OrderEvent{
		OrderID:   orderID,
		ClientTag: in.Request.ClientTag,
		Symbol:    in.Symbol,
		Purpose:   string(in.Purpose),
		Side:      string(in.Request.Side),
		Category:  cat.Code,
		Message:   cat.Message(),
		At:        a.e.clock.Now(),
	})
	log.Warn().Str("symbol", in.Symbol).Str("purpose", string(in.Purpose)).Str("category", cat.Code).
		Str("remark", remark).Msg("engine: order rejected")
	return cat
}

// settle publishes the transitions of one step, carries out its action and
// persists the symbol.
func (a *actor) settle(s *model.MonitoredSymbol, res lifecycle.Result, now time.Time) {
	for _, tr := range res.Transitions {
		a.e.metrics.IncrementTransitions()
		log.Info().Str("symbol", s.Symbol).Str("symbol_id", s.ID).Str("from", string(tr.From)).Str("to", string(tr.To)).
			Float64("ltp", s.CurrentLTP).Float64("hma", s.HMAValue).Str("reason", tr.Reason).Msg("engine: transition")
		a.e.bus.Publish(events.EventTransition, events.Transition{
			SymbolID: s.ID,
			Symbol:   s.Symbol,
			From:     string(tr.From),
			To:       string(tr.To),
			LTP:      s.CurrentLTP,
			HMA:      s.HMAValue,
			Reason:   tr.Reason,
			At:       tr.At,
		})
		if tr.To == model.StatusWaitingForEntry {
			delete(a.tags, s.ID)
		}
	}
	if res.Action == lifecycle.ActionSubmitEntry {
		a.persistSymbol(s)
		a.submitEntry(s, now)
		return
	}
	if res.Changed() {
		a.persistSymbol(s)
	} else {
		a.e.state.PutSymbol(s)
	}
}

func (a *actor) onTick(t model.Tick) {
	now := a.e.clock.Now()
	for _, s := range a.symbols {
		if s.TriggerStatus.Terminal() {
			s.CurrentLTP = t.LTP
			a.e.state.PutSymbol(s)
			continue
		}
		res := a.e.machine.OnTick(s, t.LTP, now)
		a.settle(s, res, now)
		a.e.snapshots.Write(db.LTPSnapshot{
			Symbol:        s.Symbol,
			LTP:           t.LTP,
			HMAValue:      s.HMAValue,
			TriggerStatus: string(s.TriggerStatus),
			CreatedAt:     now,
		})
	}
	for _, p := range a.positions {
		d := position.Evaluate(p, t.LTP, now)
		a.settlePosition(p, d, now)
	}
}

func (a *actor) onTimer(now time.Time) {
	for _, s := range a.symbols {
		if !s.TriggerStatus.Confirming() {
			continue
		}
		res := a.e.machine.OnTimer(s, now)
		if res.Changed() || res.Action != lifecycle.ActionNone {
			a.settle(s, res, now)
		}
	}
}

func (a *actor) settlePosition(p *model.ActivePosition, d position.Decision, now time.Time) {
	if d.SLChange != nil {
		mod := d.SLChange
		log.Info().Str("position", p.ID).Str("symbol", p.Symbol).Float64("old", mod.OldStopLoss).
			Float64("new", mod.NewStopLoss).Str("reason", mod.Reason).Msg("engine: stop loss moved")
		if a.e.db != nil {
			if err := a.e.db.AppendSLModification(a.ctx(), p.ID, *mod); err != nil {
				log.Error().Err(err).Str("position", p.ID).Msg("engine: persist stop loss change failed")
			}
		}
		a.e.bus.Publish(events.EventStopLossModified, events.StopLossChange{
			PositionID: p.ID, Symbol: p.Symbol, Old: mod.OldStopLoss, New: mod.NewStopLoss, Reason: mod.Reason, At: now,
		})
		a.persistPosition(p)
		if p.SLOrderDetails != nil {
			a.replaceStopOrder(p, mod.Reason, now)
		}
		return
	}
	if d.Exit {
		log.Info().Str("position", p.ID).Str("symbol", p.Symbol).Str("reason", string(d.ExitReason)).
			Float64("ltp", p.CurrentLTP).Msg("engine: exit triggered")
		a.persistPosition(p)
		a.submitExit(p, now)
		return
	}
	a.e.state.PutPosition(p)
}

// submitEntry sends the BUY order of a confirmed entry.
func (a *actor) submitEntry(s *model.MonitoredSymbol, now time.Time) {
	tag := a.tags[s.ID]
	if tag == "" {
		tag = instance.NewTag()
		a.tags[s.ID] = tag
	}
	price, trigger := entryPrices(s, false)
	in := order.Intent{
		ID:         tag,
		Kind:       order.KindSubmit,
		Mode:       s.TradingMode,
		Symbol:     s.Symbol,
		SymbolID:   s.ID,
		Purpose:    model.PurposeEntry,
		Request:    entryRequest(s, tag, price, trigger),
		HMAValue:   s.HMAValue,
		Generation: a.gens[s.ID],
	}
	log.Info().Str("symbol", s.Symbol).Str("tag", tag).Str("type", string(s.OrderType)).Float64("ltp", s.CurrentLTP).
		Float64("hma", s.HMAValue).Float64("price", price).Float64("trigger", trigger).Msg("engine: submitting entry")
	a.e.enqueue(a, in)
}

// submitExit sends the SELL order of a position queued for exit. A resting
// stop order is cancelled first.
func (a *actor) submitExit(p *model.ActivePosition, now time.Time) {
	if a.exitAfterCancel[p.ID] || a.slPending[p.ID] {
		return
	}
	if d := p.SLOrderDetails; d != nil {
		a.exitAfterCancel[p.ID] = true
		a.cancel(p.Symbol, p.TradingMode, d.OrderID, "", p.ID, model.PurposeStopLoss)
		return
	}
	tag := a.tags[p.ID]
	if tag == "" {
		tag = instance.NewTag()
		a.tags[p.ID] = tag
	}
	a.e.enqueue(a, order.Intent{
		ID:         tag,
		Kind:       order.KindSubmit,
		Mode:       p.TradingMode,
		Symbol:     p.Symbol,
		PositionID: p.ID,
		Purpose:    model.PurposeExit,
		Request: common.OrderRequest{
			Symbol:    p.Symbol,
			Side:      common.SideSell,
			Type:      common.OrderTypeMarket,
			Qty:       p.Quantity,
			Product:   string(p.ProductType),
			ClientTag: tag,
		},
		HMAValue:   p.HMAValue,
		Generation: a.gens[p.ID],
	})
}

// placeStopOrder rests a SELL STOP_LIMIT at the current stop.
func (a *actor) placeStopOrder(p *model.ActivePosition, now time.Time) {
	if a.slPending[p.ID] || p.ExitPending {
		return
	}
	a.slPending[p.ID] = true
	trigger, limit := stopPrices(p)
	tag := instance.NewTag()
	a.e.enqueue(a, order.Intent{
		ID:         tag,
		Kind:       order.KindSubmit,
		Mode:       p.TradingMode,
		Symbol:     p.Symbol,
		PositionID: p.ID,
		Purpose:    model.PurposeStopLoss,
		Request: common.OrderRequest{
			Symbol:       p.Symbol,
			Side:         common.SideSell,
			Type:         common.OrderTypeStopLimit,
			Qty:          p.Quantity,
			Price:        limit,
			TriggerPrice: trigger,
			Product:      string(p.ProductType),
			ClientTag:    tag,
		},
		HMAValue:   p.HMAValue,
		Generation: a.gens[p.ID],
	})
}

// replaceStopOrder starts moving the resting stop to the current stop loss.
func (a *actor) replaceStopOrder(p *model.ActivePosition, reason string, now time.Time) {
	d := p.SLOrderDetails
	if d == nil || a.slReplace[p.ID] != nil || a.slPending[p.ID] || a.exitAfterCancel[p.ID] {
		return
	}
	if trigger, _ := stopPrices(p); trigger <= d.TriggerPrice {
		return
	}
	a.slReplace[p.ID] = &replacement{oldOrderID: d.OrderID, oldPrice: d.TriggerPrice, oldHMA: p.HMAValue, reason: reason}
	a.cancel(p.Symbol, p.TradingMode, d.OrderID, "", p.ID, model.PurposeStopLoss)
}

// replaceEntry starts a cancel-and-replace of a resting entry order after
// the HMA moved.
func (a *actor) replaceEntry(s *model.MonitoredSymbol, oldHMA float64) {
	if s.TriggerStatus != model.StatusOrderPlaced || s.OrderID == "" || a.entryReplace[s.ID] != nil {
		return
	}
	if s.OrderType != model.OrderLimit && s.OrderType != model.OrderStopLimit {
		return
	}
	po, ok := a.e.tracker.Get(s.OrderID)
	if !ok {
		return
	}
	price, trigger := entryPrices(s, true)
	if price == po.BoughtPrice && trigger == po.TriggerPrice {
		return
	}
	a.entryReplace[s.ID] = &replacement{
		oldOrderID: s.OrderID,
		oldHMA:     oldHMA,
		oldPrice:   po.BoughtPrice,
		reason:     fmt.Sprintf("hma moved %.2f -> %.2f", oldHMA, s.HMAValue),
	}
	log.Info().Str("symbol", s.Symbol).Str("order_id", s.OrderID).Float64("old_hma", oldHMA).
		Float64("new_hma", s.HMAValue).Msg("engine: replacing entry order")
	a.cancel(s.Symbol, s.TradingMode, s.OrderID, s.ID, "", model.PurposeEntry)
}

func (a *actor) cancel(symbol string, mode model.TradingMode, orderID, symbolID, positionID string, purpose model.OrderPurpose) {
	owner := symbolID
	if owner == "" {
		owner = positionID
	}
	a.e.enqueue(a, order.Intent{
		ID:            uuid.NewString(),
		Kind:          order.KindCancel,
		Mode:          mode,
		Symbol:        symbol,
		SymbolID:      symbolID,
		PositionID:    positionID,
		Purpose:       purpose,
		CancelOrderID: orderID,
		Generation:    a.gens[owner],
	})
}

// fillEntry turns a filled entry into an active position.
func (a *actor) fillEntry(s *model.MonitoredSymbol, orderID string, price float64, now time.Time) {
	if price <= 0 {
		price = s.CurrentLTP
	}
	p := position.Open(s, orderID, price, now)
	delete(a.symbols, s.ID)
	a.forget(s.ID)
	if err := a.e.state.RemoveSymbol(a.ctx(), s.ID); err != nil {
		log.Error().Err(err).Str("symbol_id", s.ID).Msg("engine: remove filled symbol failed")
	}
	a.positions[p.ID] = p
	a.track(p.ID)
	a.persistPosition(p)

	log.Info().Str("symbol", p.Symbol).Str("position", p.ID).Float64("bought", p.BoughtPrice).
		Float64("target", p.Target).Float64("stop", p.StopLoss).Int("qty", p.Quantity).Msg("engine: position opened")
	a.e.bus.Publish(events.EventOrderFilled, events.OrderEvent{
		OrderID: orderID, Symbol: p.Symbol, Purpose: string(model.PurposeEntry), Side: string(common.SideBuy), Price: price, At: now,
	})
	a.e.bus.Publish(events.EventPositionOpened, p.Clone())
	a.e.publishCounts()

	if p.PlaceStopLossOrder {
		a.placeStopOrder(p, now)
	}
}

// closePosition records the closed trade and arms a re-entry when allowed.
func (a *actor) closePosition(p *model.ActivePosition, orderID string, price float64, now time.Time) {
	if price <= 0 {
		price = p.CurrentLTP
	}
	trade := position.Close(p, orderID, price, now)
	if a.e.db != nil {
		if err := a.e.db.CreateClosedTrade(a.ctx(), trade); err != nil {
			log.Error().Err(err).Str("position", p.ID).Msg("engine: persist closed trade failed")
		}
	}
	if d := p.SLOrderDetails; d != nil && d.OrderID != orderID {
		a.cancel(p.Symbol, p.TradingMode, d.OrderID, "", "", model.PurposeStopLoss)
	}
	delete(a.positions, p.ID)
	a.forget(p.ID)
	if err := a.e.state.RemovePosition(a.ctx(), p.ID); err != nil {
		log.Error().Err(err).Str("position", p.ID).Msg("engine: remove closed position failed")
	}

	log.Info().Str("symbol", p.Symbol).Str("position", p.ID).Str("reason", string(trade.ExitReason)).
		Float64("exit", trade.ExitPrice).Float64("pnl", trade.PnL).Msg("engine: position closed")
	a.e.bus.Publish(events.EventOrderFilled, events.OrderEvent{
		OrderID: orderID, Symbol: p.Symbol, Purpose: string(model.PurposeExit), Side: string(common.SideSell), Price: price, At: now,
	})
	a.e.bus.Publish(events.EventPositionClosed, trade)

	if position.ReEntryAllowed(p) {
		a.rearm(p, now)
	}
	a.e.publishCounts()
	a.release()
}

// rearm starts a fresh monitored symbol after an exit.
func (a *actor) rearm(p *model.ActivePosition, now time.Time) {
	s := &model.MonitoredSymbol{
		ID:                     uuid.NewString(),
		ConfigID:               p.ConfigID,
		Symbol:                 p.Symbol,
		OptionType:             p.OptionType,
		CurrentLTP:             p.CurrentLTP,
		HMAValue:               p.HMAValue,
		HMALastCandleTimestamp: p.HMALastCandleTimestamp,
		TradingParams:          p.TradingParams,
		ReEntryCount:           p.ReEntryCount + 1,
	}
	a.e.machine.Start(s, now)
	a.adopt(s)
	a.persistSymbol(s)
	log.Info().Str("symbol", s.Symbol).Str("symbol_id", s.ID).Int("re_entry", s.ReEntryCount).Msg("engine: re-entry armed")
	a.e.bus.Publish(events.EventTransition, events.Transition{
		SymbolID: s.ID, Symbol: s.Symbol, To: string(s.TriggerStatus), LTP: s.CurrentLTP, HMA: s.HMAValue,
		Reason: "re-entry armed", At: now,
	})
}

// applyHMA stores a refreshed HMA on every record of the instrument.
func (a *actor) applyHMA(value float64, candleTS int64) bool {
	now := a.e.clock.Now()
	changed := false
	for _, s := range a.symbols {
		old := s.HMAValue
		if !lifecycle.ApplyHMA(s, value, candleTS, now) {
			continue
		}
		changed = true
		if s.TriggerStatus.Terminal() {
			a.persistSymbol(s)
			continue
		}
		res := a.e.machine.Reevaluate(s, now)
		a.settle(s, res, now)
		if !res.Changed() && res.Action == lifecycle.ActionNone {
			a.persistSymbol(s)
		}
		a.replaceEntry(s, old)
	}
	for _, p := range a.positions {
		if candleTS <= p.HMALastCandleTimestamp {
			continue
		}
		p.HMAValue = value
		p.HMALastCandleTimestamp = candleTS
		p.UpdatedAt = now
		a.persistPosition(p)
		changed = true
	}
	if changed {
		a.e.bus.Publish(events.EventHMAUpdated, events.HMAUpdate{Symbol: a.symbol, Value: value, CandleTS: candleTS, At: now})
	}
	return changed
}
