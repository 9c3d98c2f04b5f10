package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-engine/internal/model"
)

func TestQuotesRejectsOlderTick(t *testing.T) {
	q := NewQuotes()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.True(t, q.Put(model.Tick{Symbol: "NIFTY24000CE", LTP: 110, Timestamp: base}))
	assert.False(t, q.Put(model.Tick{Symbol: "NIFTY24000CE", LTP: 90, Timestamp: base.Add(-time.Second)}))

	ltp, ok := q.LTP("NIFTY24000CE")
	require.True(t, ok)
	assert.Equal(t, 110.0, ltp)

	assert.True(t, q.Put(model.Tick{Symbol: "NIFTY24000CE", LTP: 95, Timestamp: base.Add(time.Second)}))
	ltp, _ = q.LTP("NIFTY24000CE")
	assert.Equal(t, 95.0, ltp)
}

func TestQuotesAge(t *testing.T) {
	q := NewQuotes()
	now := time.Now()
	q.Put(model.Tick{Symbol: "B", LTP: 1, Timestamp: now})

	age, ok := q.Age("B", now.Add(3*time.Second))
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, age)

	_, ok = q.Age("A", now)
	assert.False(t, ok)
}
