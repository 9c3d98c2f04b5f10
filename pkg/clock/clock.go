// Package clock abstracts wall-clock time so timer-driven engine logic can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real is the process wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// CandleStart returns the start of the candle of width tf containing t.
func CandleStart(t time.Time, tf time.Duration) time.Time {
	return t.Truncate(tf)
}

// NextBoundary returns the first candle boundary strictly after t.
func NextBoundary(t time.Time, tf time.Duration) time.Time {
	return t.Truncate(tf).Add(tf)
}

// LastClosedCandle returns the start of the most recently closed candle at t.
// Exactly on a boundary, the candle that just ended is returned.
func LastClosedCandle(t time.Time, tf time.Duration) time.Time {
	return t.Truncate(tf).Add(-tf)
}
