package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"options-engine/internal/events"
	"options-engine/internal/model"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Send(m string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureSink) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestMonitorCountsAndAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	(&Monitor{Bus: bus, Sink: sink}).Start(ctx)

	before := testutil.ToFloat64(mtxRejections.WithLabelValues("position-limit-exceeded"))
	bus.Publish(events.EventOrderRejected, events.OrderEvent{
		Symbol: "NIFTY24000CE", Purpose: "ENTRY", Category: "position-limit-exceeded", Message: "freeze qty",
	})
	bus.Publish(events.EventTransition, events.Transition{From: "WAITING_FOR_REVERSAL", To: "CONFIRMING_REVERSAL"})
	bus.Publish(events.EventPositionClosed, model.ClosedTrade{Symbol: "NIFTY24000CE", ExitReason: model.ExitTarget})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(mtxRejections.WithLabelValues("position-limit-exceeded")) == before+1
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(sink.all()[0], "order rejected (position-limit-exceeded)"))
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 9} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
}
