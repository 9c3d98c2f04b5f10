// Package hma fetches Hull moving average values from the HMA service and
// keeps every monitored instrument refreshed on candle boundaries.
package hma

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotReady is returned when the service has no value for the symbol yet.
var ErrNotReady = errors.New("hma: not enough history")

// Client fetches the HMA of the last closed candle of a symbol.
type Client interface {
	GetHMA(ctx context.Context, symbol string) (float64, error)
}

// Options configure the remote clients.
type Options struct {
	Addr      string
	Period    int
	Timeframe time.Duration
	Timeout   time.Duration
}

// NewClient builds the client selected by kind: "grpc", "http" or "local".
// The local client is returned separately by NewLocalClient because it
// needs the tick stream.
func NewClient(kind string, opts Options) (Client, error) {
	switch strings.ToLower(kind) {
	case "grpc":
		return NewGRPCClient(opts)
	case "http":
		return NewHTTPClient(opts), nil
	default:
		return nil, fmt.Errorf("hma: unsupported service %q", kind)
	}
}
