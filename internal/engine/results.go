package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
	"options-engine/internal/model"
	"options-engine/internal/order"
	"options-engine/internal/position"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/instance"
)

// live reports whether the record that issued an intent still wants its
// result. Generation zero marks a WAL replay and is checked by the caller.
func (a *actor) live(id string, gen uint64) bool {
	g, ok := a.gens[id]
	return ok && (gen == 0 || gen == g)
}

func (a *actor) onResult(res order.ExecutionResult) {
	in := res.Intent
	if in.Kind == order.KindCancel {
		a.onCancelResult(res)
		return
	}
	switch in.Purpose {
	case model.PurposeEntry:
		a.onEntryResult(res)
	case model.PurposeExit:
		a.onExitResult(res)
	case model.PurposeStopLoss:
		a.onStopResult(res)
	}
}

// abandon handles the result of an intent whose record is gone: an order
// that is still working is cancelled.
func (a *actor) abandon(res order.ExecutionResult) {
	in := res.Intent
	if res.Err != nil {
		log.Info().Err(res.Err).Str("intent", in.ID).Msg("engine: failed result for abandoned intent discarded")
		return
	}
	r := res.Result
	switch {
	case r.Status == common.StatusOpen && r.OrderID != "":
		log.Warn().Str("intent", in.ID).Str("order_id", r.OrderID).Msg("engine: cancelling order of abandoned intent")
		a.cancel(in.Symbol, in.Mode, r.OrderID, "", "", "")
	case r.Status == common.StatusFilled:
		err := fmt.Errorf("order %s filled after its %s record was removed", r.OrderID, in.Purpose)
		a.flag(in.SymbolID+in.PositionID, in.Symbol, err)
	default:
		log.Info().Str("intent", in.ID).Str("order_id", r.OrderID).Msg("engine: result for abandoned intent discarded")
	}
}

func (a *actor) onEntryResult(res order.ExecutionResult) {
	in, now := res.Intent, a.e.clock.Now()
	s := a.symbols[in.SymbolID]
	if s == nil || !a.live(s.ID, in.Generation) {
		a.abandon(res)
		return
	}
	rep := a.entryReplace[s.ID]
	if in.Generation == 0 {
		switch {
		case s.TriggerStatus == model.StatusConfirmingEntry:
		case s.TriggerStatus == model.StatusOrderPlaced && s.OrderID != "" && s.OrderID != res.Result.OrderID:
			// Replayed replacement: the order it replaces was cancelled
			// before the restart.
			rep = &replacement{oldOrderID: s.OrderID, oldHMA: s.HMAValue, reason: "replayed replacement", submitted: true}
		default:
			a.abandon(res)
			return
		}
	}
	if rep != nil && !rep.submitted {
		rep = nil
	}

	if res.Err != nil {
		delete(a.entryReplace, s.ID)
		if rej, ok := common.AsRejection(res.Err); ok {
			cat := a.publishRejection(in, "", rej.Reason)
			delete(a.tags, s.ID)
			a.settle(s, a.e.machine.OnRejected(s, cat.Code, rej.Reason, now), now)
			return
		}
		a.flag(s.ID, s.Symbol, res.Err)
		if rep != nil {
			// The replaced order is gone and its successor never landed.
			s.Flagged, s.LastError = true, res.Err.Error()
			a.settle(s, a.e.machine.OnCancelled(s, now), now)
			return
		}
		a.e.machine.OnSubmitFailed(s, res.Err, now)
		a.persistSymbol(s)
		return
	}

	r := res.Result
	pending := in.Pending(r.OrderID, now)
	if rep != nil {
		mod := model.OrderModification{
			Symbol:           s.Symbol,
			ModificationType: model.ModHMAUpdate,
			OldHMAValue:      rep.oldHMA,
			NewHMAValue:      in.HMAValue,
			OldLimitPrice:    rep.oldPrice,
			NewLimitPrice:    in.Request.Price,
			OldOrderID:       rep.oldOrderID,
			NewOrderID:       r.OrderID,
			Reason:           rep.reason,
			Timestamp:        now,
		}
		next, err := a.e.tracker.Replace(a.ctx(), rep.oldOrderID, pending, mod)
		if err != nil {
			log.Error().Err(err).Str("order_id", r.OrderID).Msg("engine: record replacement failed")
		}
		delete(a.entryReplace, s.ID)
		s.OrderModificationCount = next.OrderModificationCount
		s.OrderModificationReason = rep.reason
		a.e.bus.Publish(events.EventOrderModified, mod)
	} else if err := a.e.tracker.Track(a.ctx(), pending); err != nil {
		log.Error().Err(err).Str("order_id", r.OrderID).Msg("engine: track entry order failed")
	}
	delete(a.tags, s.ID)
	a.publishOrder(events.EventOrderSubmitted, in, r.OrderID, in.Request.Price)
	a.settle(s, a.e.machine.OnSubmitted(s, r.OrderID, now), now)
	a.applyImmediate(r, now)
}

func (a *actor) onExitResult(res order.ExecutionResult) {
	in, now := res.Intent, a.e.clock.Now()
	p := a.positions[in.PositionID]
	if p == nil || !a.live(p.ID, in.Generation) || (in.Generation == 0 && (!p.ExitPending || p.SellOrderID != "")) {
		a.abandon(res)
		return
	}
	if res.Err != nil {
		if rej, ok := common.AsRejection(res.Err); ok {
			a.publishRejection(in, "", rej.Reason)
			delete(a.tags, p.ID)
		} else {
			a.flag(p.ID, p.Symbol, res.Err)
		}
		position.OnExitFailed(p, res.Err, a.e.cfg.ExitCooldown, now)
		a.persistPosition(p)
		return
	}
	r := res.Result
	if err := a.e.tracker.Track(a.ctx(), in.Pending(r.OrderID, now)); err != nil {
		log.Error().Err(err).Str("order_id", r.OrderID).Msg("engine: track exit order failed")
	}
	delete(a.tags, p.ID)
	p.SellOrderID = r.OrderID
	p.Flagged, p.LastError = false, ""
	p.UpdatedAt = now
	a.persistPosition(p)
	a.publishOrder(events.EventOrderSubmitted, in, r.OrderID, 0)
	a.applyImmediate(r, now)
}

func (a *actor) onStopResult(res order.ExecutionResult) {
	in, now := res.Intent, a.e.clock.Now()
	p := a.positions[in.PositionID]
	if p == nil || !a.live(p.ID, in.Generation) || (in.Generation == 0 && p.SLOrderDetails != nil) {
		a.abandon(res)
		return
	}
	delete(a.slPending, p.ID)
	rep := a.slReplace[p.ID]
	delete(a.slReplace, p.ID)

	if res.Err != nil {
		if rej, ok := common.AsRejection(res.Err); ok {
			a.publishRejection(in, "", rej.Reason)
		}
		a.flag(p.ID, p.Symbol, res.Err)
		p.Flagged, p.LastError = true, res.Err.Error()
		p.UpdatedAt = now
		a.persistPosition(p)
		if p.ExitPending {
			a.submitExit(p, now)
		}
		return
	}

	r := res.Result
	pending := in.Pending(r.OrderID, now)
	if rep != nil {
		mod := model.OrderModification{
			Symbol:           p.Symbol,
			ModificationType: model.ModSLTrail,
			OldHMAValue:      rep.oldHMA,
			NewHMAValue:      p.HMAValue,
			OldLimitPrice:    rep.oldPrice,
			NewLimitPrice:    in.Request.TriggerPrice,
			OldOrderID:       rep.oldOrderID,
			NewOrderID:       r.OrderID,
			Reason:           rep.reason,
			Timestamp:        now,
		}
		if _, err := a.e.tracker.Replace(a.ctx(), rep.oldOrderID, pending, mod); err != nil {
			log.Error().Err(err).Str("order_id", r.OrderID).Msg("engine: record stop replacement failed")
		}
		a.e.bus.Publish(events.EventOrderModified, mod)
	} else if err := a.e.tracker.Track(a.ctx(), pending); err != nil {
		log.Error().Err(err).Str("order_id", r.OrderID).Msg("engine: track stop order failed")
	}
	p.SLOrderDetails = &model.SLOrderDetails{
		OrderID:      r.OrderID,
		StopPrice:    in.Request.Price,
		TriggerPrice: in.Request.TriggerPrice,
		PlacedAt:     now,
	}
	p.UpdatedAt = now
	a.persistPosition(p)
	a.publishOrder(events.EventOrderSubmitted, in, r.OrderID, in.Request.TriggerPrice)

	if a.applyImmediate(r, now) {
		return
	}
	if p.ExitPending {
		a.submitExit(p, now)
		return
	}
	a.replaceStopOrder(p, lastStopReason(p), now)
}

func (a *actor) onCancelResult(res order.ExecutionResult) {
	in, now := res.Intent, a.e.clock.Now()
	switch {
	case in.Purpose == model.PurposeEntry && in.SymbolID != "":
		a.onEntryCancelled(res, now)
	case in.Purpose == model.PurposeStopLoss && in.PositionID != "":
		a.onStopCancelled(res, now)
	default:
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("order_id", in.CancelOrderID).Msg("engine: cancel of orphaned order failed")
			return
		}
		if res.Cancelled {
			a.resolve(in.CancelOrderID, model.OrderStatusCancelled, now)
		}
	}
}

func (a *actor) onEntryCancelled(res order.ExecutionResult, now time.Time) {
	in := res.Intent
	s := a.symbols[in.SymbolID]
	rep := a.entryReplace[in.SymbolID]
	if s == nil || rep == nil || rep.oldOrderID != in.CancelOrderID {
		if res.Err == nil && res.Cancelled {
			a.resolve(in.CancelOrderID, model.OrderStatusCancelled, now)
		}
		return
	}
	if res.Err != nil {
		delete(a.entryReplace, s.ID)
		a.flag(s.ID, s.Symbol, res.Err)
		s.Flagged, s.LastError = true, res.Err.Error()
		a.persistSymbol(s)
		return
	}
	if !res.Cancelled || s.TriggerStatus != model.StatusOrderPlaced {
		// The old order finished first; its status arrives by update or poll.
		delete(a.entryReplace, s.ID)
		a.e.pollOrder(in.Mode, in.CancelOrderID)
		return
	}
	rep.submitted = true
	price, trigger := entryPrices(s, true)
	tag := instance.NewTag()
	a.e.enqueue(a, order.Intent{
		ID:         tag,
		Kind:       order.KindSubmit,
		Mode:       s.TradingMode,
		Symbol:     s.Symbol,
		SymbolID:   s.ID,
		Purpose:    model.PurposeEntry,
		Request:    entryRequest(s, tag, price, trigger),
		HMAValue:   s.HMAValue,
		Generation: a.gens[s.ID],
	})
}

func (a *actor) onStopCancelled(res order.ExecutionResult, now time.Time) {
	in := res.Intent
	p := a.positions[in.PositionID]
	if p == nil || p.SLOrderDetails == nil || p.SLOrderDetails.OrderID != in.CancelOrderID {
		if res.Err == nil && res.Cancelled {
			a.resolve(in.CancelOrderID, model.OrderStatusCancelled, now)
		}
		return
	}
	exiting := a.exitAfterCancel[p.ID]
	rep := a.slReplace[p.ID]
	delete(a.exitAfterCancel, p.ID)

	if res.Err != nil {
		delete(a.slReplace, p.ID)
		a.flag(p.ID, p.Symbol, res.Err)
		if exiting {
			position.OnExitFailed(p, res.Err, a.e.cfg.ExitCooldown, now)
		} else {
			p.Flagged, p.LastError = true, res.Err.Error()
		}
		a.persistPosition(p)
		return
	}
	if !res.Cancelled {
		// The stop already executed; its fill closes the position.
		delete(a.slReplace, p.ID)
		a.e.pollOrder(in.Mode, in.CancelOrderID)
		return
	}

	old := p.SLOrderDetails.OrderID
	p.SLOrderDetails = nil
	p.UpdatedAt = now
	if exiting || p.ExitPending {
		delete(a.slReplace, p.ID)
		a.resolve(old, model.OrderStatusCancelled, now)
		a.persistPosition(p)
		a.submitExit(p, now)
		return
	}
	if rep != nil {
		rep.submitted = true
		a.persistPosition(p)
		a.placeStopOrder(p, now)
		return
	}
	a.resolve(old, model.OrderStatusCancelled, now)
	a.persistPosition(p)
}

// applyImmediate applies a terminal status reported with the broker ack and
// reports whether it did.
func (a *actor) applyImmediate(r common.OrderResult, now time.Time) bool {
	if !r.Status.Terminal() {
		return false
	}
	u := model.OrderUpdate{OrderID: r.OrderID, Status: string(r.Status), FillPrice: r.AvgPrice, Timestamp: now}
	if err := a.applyUpdate(u); err != nil {
		log.Warn().Err(err).Str("order_id", r.OrderID).Msg("engine: immediate status not applied")
	}
	return true
}

func (a *actor) resolve(orderID, status string, now time.Time) {
	a.e.tracker.Resolve(a.ctx(), model.OrderUpdate{OrderID: orderID, Status: status, Timestamp: now})
}

// replacing reports whether po is the old side of a cancel-and-replace in
// progress, whose cancellation the replacement flow resolves.
func (a *actor) replacing(po model.PendingOrder) bool {
	switch po.Purpose {
	case model.PurposeEntry:
		rep := a.entryReplace[po.SymbolID]
		return rep != nil && rep.oldOrderID == po.OrderID
	case model.PurposeStopLoss:
		rep := a.slReplace[po.PositionID]
		return (rep != nil && rep.oldOrderID == po.OrderID) || a.exitAfterCancel[po.PositionID]
	}
	return false
}

// applyUpdate applies a terminal broker status to the order's record. It
// is idempotent: an order is acted on the first time it resolves.
func (a *actor) applyUpdate(u model.OrderUpdate) error {
	now := a.e.clock.Now()
	po, ok := a.e.tracker.Get(u.OrderID)
	if !ok {
		if _, done := a.e.tracker.Terminal(a.ctx(), u.OrderID); done {
			return nil
		}
		return fmt.Errorf("%w: %s", order.ErrUnknownOrder, u.OrderID)
	}
	switch u.Status {
	case model.OrderStatusFilled, model.OrderStatusRejected, model.OrderStatusCancelled:
	default:
		return nil
	}
	if u.Status == model.OrderStatusCancelled && a.replacing(po) {
		return nil
	}
	po, first := a.e.tracker.Resolve(a.ctx(), u)
	if !first {
		return nil
	}

	switch po.Purpose {
	case model.PurposeEntry:
		a.entryUpdate(po, u, now)
	case model.PurposeExit:
		a.exitUpdate(po, u, now)
	case model.PurposeStopLoss:
		a.stopUpdate(po, u, now)
	}
	return nil
}

func (a *actor) entryUpdate(po model.PendingOrder, u model.OrderUpdate, now time.Time) {
	s := a.symbols[po.SymbolID]
	if s == nil || s.OrderID != po.OrderID {
		if u.Status == model.OrderStatusFilled {
			a.flag(po.SymbolID, po.Symbol, fmt.Errorf("entry order %s filled after its symbol was removed", po.OrderID))
		}
		return
	}
	delete(a.entryReplace, s.ID)
	switch u.Status {
	case model.OrderStatusFilled:
		s.OrderStatus = model.OrderStatusFilled
		a.fillEntry(s, po.OrderID, u.FillPrice, now)
	case model.OrderStatusRejected:
		in := order.Intent{Symbol: po.Symbol, Purpose: po.Purpose, Request: common.OrderRequest{Side: common.Side(po.Side), ClientTag: po.ClientTag}}
		cat := a.publishRejection(in, po.OrderID, u.RejectReason)
		a.settle(s, a.e.machine.OnRejected(s, cat.Code, u.RejectReason, now), now)
	case model.OrderStatusCancelled:
		a.e.bus.Publish(events.EventOrderCancelled, events.OrderEvent{
			OrderID: po.OrderID, ClientTag: po.ClientTag, Symbol: po.Symbol, Purpose: string(po.Purpose), Side: po.Side, At: now,
		})
		a.settle(s, a.e.machine.OnCancelled(s, now), now)
	}
}

func (a *actor) exitUpdate(po model.PendingOrder, u model.OrderUpdate, now time.Time) {
	p := a.positions[po.PositionID]
	if p == nil {
		return
	}
	switch u.Status {
	case model.OrderStatusFilled:
		a.closePosition(p, po.OrderID, u.FillPrice, now)
	default:
		reason := u.RejectReason
		if reason == "" {
			reason = "exit order " + u.Status
		}
		if u.Status == model.OrderStatusRejected {
			in := order.Intent{Symbol: po.Symbol, Purpose: po.Purpose, Request: common.OrderRequest{Side: common.Side(po.Side), ClientTag: po.ClientTag}}
			a.publishRejection(in, po.OrderID, reason)
		}
		p.SellOrderID = ""
		position.OnExitFailed(p, errors.New(reason), a.e.cfg.ExitCooldown, now)
		a.persistPosition(p)
	}
}

func (a *actor) stopUpdate(po model.PendingOrder, u model.OrderUpdate, now time.Time) {
	p := a.positions[po.PositionID]
	if p == nil {
		return
	}
	if d := p.SLOrderDetails; d == nil || d.OrderID != po.OrderID {
		return
	}
	switch u.Status {
	case model.OrderStatusFilled:
		p.SLOrderDetails = nil
		delete(a.slReplace, p.ID)
		delete(a.exitAfterCancel, p.ID)
		// The resting stop decides the exit even when another exit was
		// queued.
		p.ExitReason = ""
		p.ExitPending = false
		position.MarkExit(p, model.ExitStopLoss, u.FillPrice, now)
		a.closePosition(p, po.OrderID, u.FillPrice, now)
	default:
		p.SLOrderDetails = nil
		if u.Status == model.OrderStatusRejected {
			a.flag(p.ID, p.Symbol, fmt.Errorf("stop order rejected: %s", u.RejectReason))
			p.Flagged, p.LastError = true, u.RejectReason
		}
		p.UpdatedAt = now
		a.persistPosition(p)
	}
}

// pollOrder asks the broker for the status of one order and applies it.
func (e *Impl) pollOrder(mode model.TradingMode, orderID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NetworkTimeout)
		defer cancel()
		st, err := e.gateways.Status(ctx, mode, orderID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("engine: status poll failed")
			return
		}
		if !st.Status.Terminal() {
			return
		}
		u := model.OrderUpdate{
			OrderID:      orderID,
			Status:       string(st.Status),
			FillPrice:    st.FillPrice,
			RejectReason: st.RejectReason,
			Timestamp:    st.UpdatedAt,
		}
		if err := e.HandleOrderUpdate(ctx, u); err != nil && !errors.Is(err, order.ErrUnknownOrder) {
			log.Warn().Err(err).Str("order_id", orderID).Msg("engine: polled status not applied")
		}
	}()
}
