package hma

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/data"
	"options-engine/internal/indicators"
	"options-engine/internal/model"
	"options-engine/pkg/clock"
)

// LocalClient computes the HMA in-process from candles built out of the
// tick stream. It needs HMAWarmup(period) closed candles per symbol before
// it answers.
type LocalClient struct {
	clock clock.Clock
	agg   *data.Aggregator
	ind   *indicators.Engine
}

func NewLocalClient(period int, tf time.Duration, clk clock.Clock) *LocalClient {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &LocalClient{clock: clk, ind: indicators.NewEngine(period)}
	c.agg = data.NewAggregator(tf, func(cd data.Candle) {
		v, ok := c.ind.Update(cd.Symbol, cd.Close)
		log.Debug().Str("symbol", cd.Symbol).Time("candle", cd.OpenTime).Float64("close", cd.Close).
			Bool("ready", ok).Float64("hma", v).Msg("hma: local candle closed")
	})
	return c
}

// OnTick feeds the candle builder.
func (c *LocalClient) OnTick(t model.Tick) {
	c.agg.OnTick(t)
}

func (c *LocalClient) GetHMA(_ context.Context, symbol string) (float64, error) {
	c.agg.Flush(c.clock.Now())
	v, ok := c.ind.HMA(symbol)
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNotReady)
	}
	return v, nil
}
