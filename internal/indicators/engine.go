package indicators

import "sync"

// Engine maintains per-symbol windows of candle closes and computes the
// HMA over them.
type Engine struct {
	mu     sync.Mutex
	closes map[string][]float64
	period int
	window int
}

// NewEngine builds an indicator engine for the given HMA period.
func NewEngine(period int) *Engine {
	window := HMAWarmup(period) * 2
	if window < 16 {
		window = 16
	}
	return &Engine{
		closes: make(map[string][]float64),
		period: period,
		window: window,
	}
}

// Update ingests a closed candle and returns the latest HMA.
func (e *Engine) Update(symbol string, close float64) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.closes[symbol], close)
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.closes[symbol] = arr
	return HMA(arr, e.period)
}

// HMA returns the current HMA of symbol without adding a value.
func (e *Engine) HMA(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return HMA(e.closes[symbol], e.period)
}

// Len returns the number of closes held for symbol.
func (e *Engine) Len(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.closes[symbol])
}
