package monitor

import (
	"fmt"

	"options-engine/internal/events"
	"options-engine/internal/model"
)

// alertFor returns the alert text for events that need operator attention.
func alertFor(env events.Envelope) (string, bool) {
	switch p := env.Payload.(type) {
	case events.Flag:
		return fmt.Sprintf("%s flagged: %s", p.Symbol, p.Error), true
	case events.OrderEvent:
		if env.Type == events.EventOrderRejected {
			return fmt.Sprintf("%s order rejected (%s): %s", p.Symbol, p.Category, p.Message), true
		}
	case model.ClosedTrade:
		if p.ExitReason == model.ExitStopLoss {
			return fmt.Sprintf("%s stopped out at %.2f, pnl %.2f", p.Symbol, p.ExitPrice, p.PnL), true
		}
	}
	return "", false
}

// count updates the prometheus counters for one event.
func count(env events.Envelope) {
	switch p := env.Payload.(type) {
	case events.Transition:
		mtxTransitions.WithLabelValues(p.From, p.To).Inc()
	case events.OrderEvent:
		mtxOrders.WithLabelValues(p.Purpose, string(env.Type)).Inc()
		if env.Type == events.EventOrderRejected {
			mtxRejections.WithLabelValues(p.Category).Inc()
		}
	case model.ClosedTrade:
		mtxExits.WithLabelValues(string(p.ExitReason)).Inc()
	case events.StopLossChange:
		mtxSLMods.WithLabelValues(p.Reason).Inc()
	case events.Flag:
		mtxFlagged.Inc()
	}
}
