package hma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"options-engine/pkg/exchanges/common"
)

// HTTPClient asks an HMA service exposing GET /hma?symbol=&period=&timeframe=.
type HTTPClient struct {
	base   string
	period int
	tf     time.Duration
	http   *http.Client
}

type hmaReply struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
	Error  string  `json:"error,omitempty"`
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	base := opts.Addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &HTTPClient{
		base:   strings.TrimRight(base, "/"),
		period: opts.Period,
		tf:     opts.Timeframe,
		http:   &http.Client{Timeout: opts.Timeout},
	}
}

func (c *HTTPClient) GetHMA(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("period", strconv.Itoa(c.period))
	q.Set("timeframe", c.tf.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/hma?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, common.Transient("hma http", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, common.Transient("hma http read", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%s: %w", symbol, ErrNotReady)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return 0, common.Transient("hma http", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return 0, fmt.Errorf("hma http %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply hmaReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return 0, fmt.Errorf("hma http %s: decode: %w", symbol, err)
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("hma http %s: %s", symbol, reply.Error)
	}
	if reply.Value <= 0 {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNotReady)
	}
	return reply.Value, nil
}
