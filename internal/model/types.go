// Package model defines the records shared by the signal engine: watchlist
// configurations, monitored symbols, active positions, pending orders and
// their modification history.
package model

import "time"

// OptionType is the option right of a contract.
type OptionType string

const (
	OptionCE OptionType = "CE"
	OptionPE OptionType = "PE"
)

// TradingMode selects the real broker or the in-process paper broker.
type TradingMode string

const (
	ModeLive  TradingMode = "LIVE"
	ModePaper TradingMode = "PAPER"
)

// OrderType is the entry order style configured per symbol.
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

// ProductType is the broker product the order is placed under.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductMargin   ProductType = "MARGIN"
	ProductDelivery ProductType = "CNC"
)

// TriggerStatus is the lifecycle state of a monitored symbol.
type TriggerStatus string

const (
	StatusWaitingForReversal TriggerStatus = "WAITING_FOR_REVERSAL"
	StatusConfirmingReversal TriggerStatus = "CONFIRMING_REVERSAL"
	StatusWaitingForEntry    TriggerStatus = "WAITING_FOR_ENTRY"
	StatusConfirmingEntry    TriggerStatus = "CONFIRMING_ENTRY"
	StatusOrderPlaced        TriggerStatus = "ORDER_PLACED"
	StatusTargetExitHit      TriggerStatus = "TARGET_EXIT_HIT"
	StatusTargetExitManual   TriggerStatus = "TARGET_EXIT_MANUAL"
	StatusSLHit              TriggerStatus = "SL_HIT"
	StatusOrderRejected      TriggerStatus = "ORDER_REJECTED"
	StatusOrderCancelled     TriggerStatus = "ORDER_CANCELLED"
)

// Terminal reports whether no further transition can happen from s.
func (s TriggerStatus) Terminal() bool {
	switch s {
	case StatusTargetExitHit, StatusTargetExitManual, StatusSLHit, StatusOrderRejected, StatusOrderCancelled:
		return true
	}
	return false
}

// Confirming reports whether s runs a confirmation timer.
func (s TriggerStatus) Confirming() bool {
	return s == StatusConfirmingReversal || s == StatusConfirmingEntry
}

// Direction is the side of the HMA the LTP crossed to.
type Direction string

const (
	DirectionBelow Direction = "BELOW"
	DirectionAbove Direction = "ABOVE"
)

// PendingSignal is a crossing awaiting confirmation.
type PendingSignal struct {
	Direction           Direction `json:"direction"`
	TriggeredAt         time.Time `json:"triggeredAt"`
	HMAAtTrigger        float64   `json:"hmaAtTrigger"`
	ConfirmationEndTime time.Time `json:"confirmationEndTime"`
}

// TradingParams are the per-symbol trading settings carried from the
// watchlist into the monitored symbol and then into the position.
type TradingParams struct {
	Lots           int         `json:"lots" yaml:"lots"`
	LotSize        int         `json:"lotSize" yaml:"lot_size"`
	Quantity       int         `json:"quantity" yaml:"-"`
	TickSize       float64     `json:"tickSize" yaml:"tick_size"`
	TargetPoints   float64     `json:"targetPoints" yaml:"target_points"`
	StopLossPoints float64     `json:"stopLossPoints" yaml:"stop_loss_points"`
	ProductType    ProductType `json:"productType" yaml:"product_type"`
	OrderType      OrderType   `json:"orderType" yaml:"order_type"`
	TradingMode    TradingMode `json:"tradingMode" yaml:"trading_mode"`

	// TrailingStopLoss trails the stop at LTP - StopLossPoints once in profit.
	TrailingStopLoss bool `json:"trailingStopLoss" yaml:"trailing_stop_loss"`
	// UseTrailingStoploss ratchets the stop by Y every X points of movement.
	UseTrailingStoploss bool    `json:"useTrailingStoploss" yaml:"use_trailing_stoploss"`
	TrailingX           float64 `json:"trailingX" yaml:"trailing_x"`
	TrailingY           float64 `json:"trailingY" yaml:"trailing_y"`

	AutoExitOnStopLoss bool `json:"autoExitOnStopLoss" yaml:"auto_exit_on_stop_loss"`
	PlaceStopLossOrder bool `json:"placeStopLossOrder" yaml:"place_stop_loss_order"`
	LimitBufferTicks   int  `json:"limitBufferTicks" yaml:"limit_buffer_ticks"`
	ReEntryEnabled     bool `json:"reEntryEnabled" yaml:"re_entry_enabled"`
	MaxReEntries       int  `json:"maxReEntries" yaml:"max_re_entries"`
}

// SymbolConfig is a watchlist entry a user can start monitoring.
type SymbolConfig struct {
	ID          string     `json:"id" yaml:"id"`
	Symbol      string     `json:"symbol" yaml:"symbol"`
	DisplayName string     `json:"displayName" yaml:"display_name"`
	OptionType  OptionType `json:"optionType" yaml:"option_type"`

	TradingParams `yaml:",inline"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// MonitoredSymbol is a contract under signal observation.
type MonitoredSymbol struct {
	ID         string     `json:"id"`
	ConfigID   string     `json:"configId"`
	Symbol     string     `json:"symbol"`
	OptionType OptionType `json:"optionType"`

	CurrentLTP             float64 `json:"currentLTP"`
	HMAValue               float64 `json:"hmaValue"`
	HMALastCandleTimestamp int64   `json:"hmaLastCandleTimestamp"`

	TradingParams

	TriggerStatus TriggerStatus  `json:"triggerStatus"`
	PendingSignal *PendingSignal `json:"pendingSignal,omitempty"`
	ReEntryCount  int            `json:"reEntryCount"`

	OrderID                 string `json:"orderId,omitempty"`
	OrderStatus             string `json:"orderStatus,omitempty"`
	OrderModificationCount  int    `json:"orderModificationCount"`
	OrderModificationReason string `json:"orderModificationReason,omitempty"`
	RejectionCategory       string `json:"rejectionCategory,omitempty"`
	RejectionReason         string `json:"rejectionReason,omitempty"`

	// SubmitPending is set while an entry order is in flight to the broker.
	SubmitPending bool `json:"submitPending"`
	// RetryAfter delays resubmission after a failed entry attempt.
	RetryAfter time.Time `json:"retryAfter,omitempty"`

	// Flagged marks a symbol whose last network operation exhausted retries.
	Flagged   bool      `json:"flagged"`
	LastError string    `json:"lastError,omitempty"`
	LastTick  time.Time `json:"lastTick"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand out of the engine.
func (m *MonitoredSymbol) Clone() *MonitoredSymbol {
	if m == nil {
		return nil
	}
	c := *m
	if m.PendingSignal != nil {
		ps := *m.PendingSignal
		c.PendingSignal = &ps
	}
	return &c
}

// ExitReason explains why a position is being closed.
type ExitReason string

const (
	ExitTarget   ExitReason = "TARGET"
	ExitStopLoss ExitReason = "STOPLOSS"
	ExitManual   ExitReason = "MANUAL"
)

// ExitStatus maps an exit reason to the terminal lifecycle status recorded
// on the closed trade.
func (r ExitReason) ExitStatus() TriggerStatus {
	switch r {
	case ExitTarget:
		return StatusTargetExitHit
	case ExitStopLoss:
		return StatusSLHit
	default:
		return StatusTargetExitManual
	}
}

// SLModification is one accepted stop-loss change.
type SLModification struct {
	Timestamp   time.Time `json:"timestamp"`
	OldStopLoss float64   `json:"oldStopLoss"`
	NewStopLoss float64   `json:"newStopLoss"`
	Reason      string    `json:"reason"`
}

// SLOrderDetails describes a protective order resting at the broker.
type SLOrderDetails struct {
	OrderID      string    `json:"orderId"`
	StopPrice    float64   `json:"stopPrice"`
	TriggerPrice float64   `json:"triggerPrice"`
	PlacedAt     time.Time `json:"placedAt"`
}

// ActivePosition is created when an entry order fills.
type ActivePosition struct {
	ID         string     `json:"id"`
	SymbolID   string     `json:"symbolId"`
	ConfigID   string     `json:"configId"`
	Symbol     string     `json:"symbol"`
	OptionType OptionType `json:"optionType"`

	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId,omitempty"`

	BoughtPrice     float64 `json:"boughtPrice"`
	Quantity        int     `json:"quantity"`
	InitialStopLoss float64 `json:"initialStopLoss"`
	StopLoss        float64 `json:"stopLoss"`
	Target          float64 `json:"target"`

	CurrentLTP             float64 `json:"currentLTP"`
	HMAValue               float64 `json:"hmaValue"`
	HMALastCandleTimestamp int64   `json:"hmaLastCandleTimestamp"`

	TradingParams

	SLModifications []SLModification `json:"slModifications"`
	SLOrderDetails  *SLOrderDetails  `json:"slOrderDetails,omitempty"`
	ReEntryCount    int              `json:"reEntryCount"`

	ExitPending bool       `json:"exitPending"`
	ExitReason  ExitReason `json:"exitReason,omitempty"`
	ExitPrice   float64    `json:"exitPrice,omitempty"`
	// RetryAfter holds back automatic exits after a failed exit order.
	RetryAfter time.Time `json:"retryAfter,omitempty"`

	Flagged   bool      `json:"flagged"`
	LastError string    `json:"lastError,omitempty"`
	OpenedAt  time.Time `json:"openedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand out of the engine.
func (p *ActivePosition) Clone() *ActivePosition {
	if p == nil {
		return nil
	}
	c := *p
	c.SLModifications = append([]SLModification(nil), p.SLModifications...)
	if p.SLOrderDetails != nil {
		d := *p.SLOrderDetails
		c.SLOrderDetails = &d
	}
	return &c
}

// OrderPurpose tells the tracker which record an order belongs to.
type OrderPurpose string

const (
	PurposeEntry    OrderPurpose = "ENTRY"
	PurposeExit     OrderPurpose = "EXIT"
	PurposeStopLoss OrderPurpose = "STOPLOSS"
)

// PendingOrder is a broker order submitted but not yet filled or terminal.
type PendingOrder struct {
	ID         string       `json:"id"`
	OrderID    string       `json:"orderId"`
	ClientTag  string       `json:"clientTag"`
	Symbol     string       `json:"symbol"`
	SymbolID   string       `json:"symbolId,omitempty"`
	PositionID string       `json:"positionId,omitempty"`
	Purpose    OrderPurpose `json:"purpose"`
	Mode       TradingMode  `json:"mode"`
	Side       string       `json:"side"`
	OrderType  OrderType    `json:"orderType"`
	Quantity   int          `json:"quantity"`

	// BoughtPrice is the limit basis of the order.
	BoughtPrice            float64   `json:"boughtPrice"`
	TriggerPrice           float64   `json:"triggerPrice"`
	HMAValue               float64   `json:"hmaValue"`
	OrderModificationCount int       `json:"orderModificationCount"`
	SubmittedAt            time.Time `json:"submittedAt"`
}

// OrderModification records a cancel-and-replace of a resting order.
type OrderModification struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	ModificationType string    `json:"modificationType"`
	OldHMAValue      float64   `json:"oldHmaValue"`
	NewHMAValue      float64   `json:"newHmaValue"`
	OldLimitPrice    float64   `json:"oldLimitPrice"`
	NewLimitPrice    float64   `json:"newLimitPrice"`
	OldOrderID       string    `json:"oldOrderId"`
	NewOrderID       string    `json:"newOrderId"`
	Reason           string    `json:"reason"`
	Timestamp        time.Time `json:"timestamp"`
}

// Modification types.
const (
	ModHMAUpdate = "HMA_UPDATE"
	ModSLTrail   = "SL_TRAIL"
)

// ClosedTrade is the record left behind when a position exits.
type ClosedTrade struct {
	ID           string        `json:"id"`
	PositionID   string        `json:"positionId"`
	ConfigID     string        `json:"configId"`
	Symbol       string        `json:"symbol"`
	BuyOrderID   string        `json:"buyOrderId"`
	SellOrderID  string        `json:"sellOrderId"`
	BoughtPrice  float64       `json:"boughtPrice"`
	ExitPrice    float64       `json:"exitPrice"`
	Quantity     int           `json:"quantity"`
	ExitReason   ExitReason    `json:"exitReason"`
	ExitStatus   TriggerStatus `json:"exitStatus"`
	PnL          float64       `json:"pnl"`
	ReEntryCount int           `json:"reEntryCount"`
	OpenedAt     time.Time     `json:"openedAt"`
	ClosedAt     time.Time     `json:"closedAt"`
}

// Tick is one market-data update.
type Tick struct {
	Symbol    string    `json:"symbol"`
	LTP       float64   `json:"ltp"`
	ChangePct float64   `json:"change"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker order states reported through OrderUpdate.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusFilled    = "FILLED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
)

// OrderUpdate is an asynchronous broker report about an order.
type OrderUpdate struct {
	OrderID      string    `json:"orderId"`
	Status       string    `json:"status"`
	FillPrice    float64   `json:"fillPrice,omitempty"`
	RejectReason string    `json:"rejectReason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
