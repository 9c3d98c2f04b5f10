package model

import (
	"fmt"
	"strings"
)

// ValidationError rejects a command before it reaches the state machine.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

const defaultTickSize = 0.05

// Normalize fills defaults and derived fields (quantity) in place.
func (c *SymbolConfig) Normalize() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.OptionType = OptionType(strings.ToUpper(string(c.OptionType)))
	if c.OptionType == "" {
		switch {
		case strings.HasSuffix(c.Symbol, "CE"):
			c.OptionType = OptionCE
		case strings.HasSuffix(c.Symbol, "PE"):
			c.OptionType = OptionPE
		}
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Symbol
	}
	if c.TickSize <= 0 {
		c.TickSize = defaultTickSize
	}
	if c.ProductType == "" {
		c.ProductType = ProductIntraday
	}
	if c.OrderType == "" {
		c.OrderType = OrderMarket
	}
	c.ProductType = ProductType(strings.ToUpper(string(c.ProductType)))
	c.OrderType = OrderType(strings.ToUpper(string(c.OrderType)))
	c.TradingMode = TradingMode(strings.ToUpper(string(c.TradingMode)))
	c.Quantity = c.Lots * c.LotSize
}

// Validate checks that every parameter the engine needs is present.
func (c *SymbolConfig) Validate() error {
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "required"}
	}
	if c.OptionType != OptionCE && c.OptionType != OptionPE {
		return &ValidationError{Field: "optionType", Message: "must be CE or PE"}
	}
	if c.Lots <= 0 {
		return &ValidationError{Field: "lots", Message: "must be positive"}
	}
	if c.LotSize <= 0 {
		return &ValidationError{Field: "lotSize", Message: "must be positive"}
	}
	if c.TargetPoints <= 0 {
		return &ValidationError{Field: "targetPoints", Message: "must be positive"}
	}
	if c.StopLossPoints <= 0 {
		return &ValidationError{Field: "stopLossPoints", Message: "must be positive"}
	}
	switch c.ProductType {
	case ProductIntraday, ProductMargin, ProductDelivery:
	default:
		return &ValidationError{Field: "productType", Message: fmt.Sprintf("unsupported %q", c.ProductType)}
	}
	switch c.OrderType {
	case OrderMarket, OrderLimit, OrderStopLimit:
	default:
		return &ValidationError{Field: "orderType", Message: fmt.Sprintf("unsupported %q", c.OrderType)}
	}
	if c.TradingMode != ModeLive && c.TradingMode != ModePaper {
		return &ValidationError{Field: "tradingMode", Message: "must be LIVE or PAPER"}
	}
	if c.UseTrailingStoploss && (c.TrailingX <= 0 || c.TrailingY <= 0) {
		return &ValidationError{Field: "trailingX/trailingY", Message: "must be positive when interval trailing is enabled"}
	}
	if c.MaxReEntries < 0 {
		return &ValidationError{Field: "maxReEntries", Message: "must not be negative"}
	}
	return nil
}
