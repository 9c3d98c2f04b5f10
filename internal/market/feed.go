package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"options-engine/internal/events"
	"options-engine/internal/model"
)

// Handler receives every decoded tick in arrival order.
type Handler func(model.Tick)

// Feed streams ticks from a market-data websocket and hands them to the
// engine. It reconnects with capped backoff and resubscribes on reconnect.
type Feed struct {
	URL     string
	Bus     *events.Bus
	Handler Handler

	dialer *websocket.Dialer

	mu      sync.Mutex
	symbols map[string]bool
	conn    *websocket.Conn
}

func NewFeed(url string, bus *events.Bus, h Handler) *Feed {
	return &Feed{
		URL:     url,
		Bus:     bus,
		Handler: h,
		dialer:  websocket.DefaultDialer,
		symbols: make(map[string]bool),
	}
}

type control struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Subscribe adds symbol to the stream. Safe to call before Start.
func (f *Feed) Subscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.symbols[symbol] {
		return
	}
	f.symbols[symbol] = true
	if f.conn != nil {
		if err := f.conn.WriteJSON(control{Action: "subscribe", Symbols: []string{symbol}}); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("market feed: subscribe failed")
		}
	}
}

// Unsubscribe removes symbol from the stream.
func (f *Feed) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.symbols[symbol] {
		return
	}
	delete(f.symbols, symbol)
	if f.conn != nil {
		_ = f.conn.WriteJSON(control{Action: "unsubscribe", Symbols: []string{symbol}})
	}
}

// Start runs the connect/read loop until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	if f.URL == "" || f.Handler == nil {
		log.Warn().Msg("market feed not fully configured; skipping start")
		return
	}
	go f.run(ctx)
}

func (f *Feed) run(ctx context.Context) {
	backoff := time.Second
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("market feed: disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial market ws: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	syms := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		syms = append(syms, s)
	}
	if len(syms) > 0 {
		if err := conn.WriteJSON(control{Action: "subscribe", Symbols: syms}); err != nil {
			f.mu.Unlock()
			_ = conn.Close()
			return err
		}
	}
	f.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			f.conn = nil
			f.mu.Unlock()
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		tick, err := ParseTick(msg)
		if err != nil {
			log.Debug().Err(err).Msg("market feed: parse error")
			continue
		}
		f.dispatch(tick)
	}
}

func (f *Feed) dispatch(t model.Tick) {
	f.Handler(t)
	if f.Bus != nil {
		f.Bus.Publish(events.EventPriceTick, t)
	}
}

// ParseTick decodes a feed message of the form
// {symbol, ltp, change, ohlc:{open,high,low,close}, volume, timestamp}.
// timestamp may be epoch milliseconds or RFC3339.
func ParseTick(msg []byte) (model.Tick, error) {
	var raw struct {
		Symbol string  `json:"symbol"`
		LTP    float64 `json:"ltp"`
		Change float64 `json:"change"`
		OHLC   struct {
			Open  float64 `json:"open"`
			High  float64 `json:"high"`
			Low   float64 `json:"low"`
			Close float64 `json:"close"`
		} `json:"ohlc"`
		Volume    float64         `json:"volume"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return model.Tick{}, err
	}
	if raw.Symbol == "" || raw.LTP <= 0 {
		return model.Tick{}, fmt.Errorf("incomplete tick: %s", string(msg))
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return model.Tick{}, err
	}
	return model.Tick{
		Symbol:    strings.ToUpper(raw.Symbol),
		LTP:       raw.LTP,
		ChangePct: raw.Change,
		Open:      raw.OHLC.Open,
		High:      raw.OHLC.High,
		Low:       raw.OHLC.Low,
		Close:     raw.OHLC.Close,
		Volume:    raw.Volume,
		Timestamp: ts,
	}, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	return time.Parse(time.RFC3339Nano, s)
}
