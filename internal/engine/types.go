package engine

import (
	"time"

	"options-engine/internal/model"
	"options-engine/internal/monitor"
)

// SystemStatus represents the engine's runtime state.
type SystemStatus struct {
	Mode        string                  `json:"mode"`
	Gateways    []model.TradingMode     `json:"gateways"`
	Version     string                  `json:"version"`
	InstanceID  string                  `json:"instance_id"`
	StartedAt   time.Time               `json:"started_at"`
	Uptime      string                  `json:"uptime"`
	Instruments int                     `json:"instruments"`
	Symbols     int                     `json:"symbols"`
	Positions   int                     `json:"positions"`
	OpenOrders  int                     `json:"open_orders"`
	QueueDepth  int                     `json:"queue_depth"`
	InFlight    int                     `json:"in_flight"`
	HMARetrySet int                     `json:"hma_retry_set"`
	// QuoteAge is the age of the latest tick per instrument. Instruments
	// that never ticked are left out.
	QuoteAge map[string]string       `json:"quote_age"`
	Metrics  monitor.MetricsSnapshot `json:"metrics"`
}

// Meta is static process information reported in SystemStatus.
type Meta struct {
	Mode    string
	Version string
}
