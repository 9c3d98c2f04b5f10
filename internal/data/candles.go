// Package data aggregates ticks into fixed-timeframe candles.
package data

import (
	"sync"
	"time"

	"options-engine/internal/model"
)

// Candle represents a single candlestick.
type Candle struct {
	Symbol   string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Aggregator builds candles per symbol from the tick stream. A candle is
// emitted once a tick of a later bucket arrives or Flush passes its end.
type Aggregator struct {
	tf      time.Duration
	onClose func(Candle)

	mu      sync.Mutex
	current map[string]*Candle
}

// NewAggregator creates an aggregator; onClose receives every closed candle
// in order per symbol.
func NewAggregator(tf time.Duration, onClose func(Candle)) *Aggregator {
	return &Aggregator{tf: tf, onClose: onClose, current: make(map[string]*Candle)}
}

// OnTick folds a tick into the symbol's open candle.
func (a *Aggregator) OnTick(t model.Tick) {
	if t.LTP <= 0 {
		return
	}
	bucket := t.Timestamp.Truncate(a.tf)

	a.mu.Lock()
	var closed *Candle
	c := a.current[t.Symbol]
	switch {
	case c == nil:
	case bucket.After(c.OpenTime):
		done := *c
		closed = &done
	case bucket.Before(c.OpenTime):
		// Late tick for a candle already emitted.
		a.mu.Unlock()
		return
	default:
		if t.LTP > c.High {
			c.High = t.LTP
		}
		if t.LTP < c.Low {
			c.Low = t.LTP
		}
		c.Close = t.LTP
		c.Volume += t.Volume
		a.mu.Unlock()
		return
	}
	a.current[t.Symbol] = &Candle{
		Symbol: t.Symbol, OpenTime: bucket,
		Open: t.LTP, High: t.LTP, Low: t.LTP, Close: t.LTP, Volume: t.Volume,
	}
	a.mu.Unlock()

	if closed != nil && a.onClose != nil {
		a.onClose(*closed)
	}
}

// Flush emits candles whose bucket ended at or before now. The symbol keeps
// no open candle until its next tick.
func (a *Aggregator) Flush(now time.Time) {
	a.mu.Lock()
	var closed []Candle
	for sym, c := range a.current {
		if !c.OpenTime.Add(a.tf).After(now) {
			closed = append(closed, *c)
			delete(a.current, sym)
		}
	}
	a.mu.Unlock()

	if a.onClose == nil {
		return
	}
	for _, c := range closed {
		a.onClose(c)
	}
}
