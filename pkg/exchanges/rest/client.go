// Package rest is a JSON-over-HTTP broker gateway for LIVE trading.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"options-engine/pkg/exchanges/common"
)

// Config holds broker endpoint and credentials.
type Config struct {
	BaseURL     string
	AccessToken string
	RPS         float64
	Timeout     time.Duration
}

// Client talks to the broker order API.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: common.NewRateLimiter(cfg.RPS, 5, 250),
	}
}

type orderPayload struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"transactionType"`
	OrderType    string `json:"orderType"`
	ProductType  string `json:"productType"`
	Quantity     int    `json:"quantity"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	Tag          string `json:"correlationId,omitempty"`
}

type orderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
	Tag         string `json:"correlationId"`
	Remarks     string `json:"remarks"`
	AvgPrice    string `json:"averageTradedPrice"`
	FilledQty   int    `json:"filledQty"`
	UpdatedAt   string `json:"updateTime"`
}

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.AccessToken == "" {
		return common.OrderResult{}, errors.New("broker: access token required")
	}
	payload := orderPayload{
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		OrderType:   string(req.Type),
		ProductType: req.Product,
		Quantity:    req.Qty,
		Tag:         req.ClientTag,
	}
	if req.Type == common.OrderTypeLimit || req.Type == common.OrderTypeStopLimit {
		payload.Price = formatPrice(req.Price)
	}
	if req.Type == common.OrderTypeStopLimit {
		payload.TriggerPrice = formatPrice(req.TriggerPrice)
	}

	body, err := c.do(ctx, http.MethodPost, "/orders", payload)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	status := mapStatus(resp.OrderStatus)
	if status == common.StatusRejected {
		return common.OrderResult{}, &common.RejectionError{Reason: resp.Remarks}
	}
	result := common.OrderResult{OrderID: resp.OrderID, Status: status, ClientTag: resp.Tag}
	if status == common.StatusFilled {
		avg, _ := decimal.NewFromString(resp.AvgPrice)
		result.AvgPrice = avg.InexactFloat64()
	}
	return result, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	state, err := c.OrderStatus(ctx, orderID)
	if err != nil {
		return false, err
	}
	if state.Status.Terminal() {
		return false, nil
	}
	if _, err := c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (common.OrderState, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return common.OrderState{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderState{}, fmt.Errorf("decode order status: %w", err)
	}
	fill, _ := decimal.NewFromString(resp.AvgPrice)
	updated, _ := time.Parse(time.RFC3339, resp.UpdatedAt)
	return common.OrderState{
		OrderID:      resp.OrderID,
		Status:       mapStatus(resp.OrderStatus),
		FillPrice:    fill.InexactFloat64(),
		FilledQty:    resp.FilledQty,
		RejectReason: resp.Remarks,
		UpdatedAt:    updated,
	}, nil
}

// do performs the HTTP request and sorts failures into transient and definitive ones.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, common.Transient("broker rate limit", err)
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access-token", c.cfg.AccessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures never reached the matching engine.
		return nil, common.Transient(method+" "+path, err)
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-RateLimit-Remaining"))

	body, _ := io.ReadAll(res.Body)
	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, common.Transient(method+" "+path, fmt.Errorf("status %d: %s", res.StatusCode, string(body)))
	case res.StatusCode >= 300:
		var resp orderResponse
		if json.Unmarshal(body, &resp) == nil && resp.Remarks != "" {
			return nil, &common.RejectionError{Reason: resp.Remarks}
		}
		return nil, fmt.Errorf("broker %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	return body, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "PENDING", "TRANSIT", "OPEN", "TRIGGER_PENDING", "PART_TRADED":
		return common.StatusOpen
	case "TRADED", "FILLED", "COMPLETE":
		return common.StatusFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
		return common.StatusCancelled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
