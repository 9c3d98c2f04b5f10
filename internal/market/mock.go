package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
	"options-engine/internal/model"
)

// MockFeed generates random-walk ticks for local development.
type MockFeed struct {
	Bus        *events.Bus
	Handler    Handler
	StartPrice float64
	Step       float64
	Interval   time.Duration

	mu     sync.Mutex
	prices map[string]float64
}

func (m *MockFeed) Subscribe(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	if _, ok := m.prices[symbol]; !ok {
		p := m.StartPrice
		if p == 0 {
			p = 100.0
		}
		m.prices[symbol] = p
	}
}

func (m *MockFeed) Unsubscribe(symbol string) {
	m.mu.Lock()
	delete(m.prices, symbol)
	m.mu.Unlock()
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Handler == nil {
		log.Warn().Msg("mock feed: handler not set")
		return
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, tick := range m.step(now) {
					m.Handler(tick)
					if m.Bus != nil {
						m.Bus.Publish(events.EventPriceTick, tick)
					}
				}
			}
		}
	}()
}

func (m *MockFeed) step(now time.Time) []model.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Tick, 0, len(m.prices))
	for sym, p := range m.prices {
		// simple random walk, floored at one tick
		p += (rand.Float64()*2 - 1) * m.Step
		if p < 0.05 {
			p = 0.05
		}
		m.prices[sym] = p
		out = append(out, model.Tick{Symbol: sym, LTP: p, Close: p, Timestamp: now})
	}
	return out
}
