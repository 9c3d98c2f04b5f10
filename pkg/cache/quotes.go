// Package cache holds the latest market quote per instrument.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"options-engine/internal/model"
)

const numShards = 16

// Quotes is the market-data repository shared by the tick loop, the
// paper broker and the API. It is keyed by canonical instrument code.
type Quotes struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]model.Tick
}

// NewQuotes creates an empty repository.
func NewQuotes() *Quotes {
	q := &Quotes{}
	for i := 0; i < numShards; i++ {
		q.shards[i] = &quoteShard{items: make(map[string]model.Tick)}
	}
	return q
}

func (q *Quotes) shard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return q.shards[h.Sum32()%numShards]
}

// Put stores t unless an entry with a later timestamp is already present.
// It reports whether the tick was accepted.
func (q *Quotes) Put(t model.Tick) bool {
	s := q.shard(t.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[t.Symbol]; ok && t.Timestamp.Before(prev.Timestamp) {
		return false
	}
	s.items[t.Symbol] = t
	return true
}

// Get returns the latest tick for symbol.
func (q *Quotes) Get(symbol string) (model.Tick, bool) {
	s := q.shard(symbol)
	s.mu.RLock()
	t, ok := s.items[symbol]
	s.mu.RUnlock()
	return t, ok
}

// LTP returns the last traded price for symbol.
func (q *Quotes) LTP(symbol string) (float64, bool) {
	t, ok := q.Get(symbol)
	return t.LTP, ok
}

// Age reports how old the latest tick for symbol is relative to now.
func (q *Quotes) Age(symbol string, now time.Time) (time.Duration, bool) {
	t, ok := q.Get(symbol)
	if !ok {
		return 0, false
	}
	return now.Sub(t.Timestamp), true
}
