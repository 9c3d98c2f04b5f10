package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/model"
	"options-engine/pkg/exchanges/common"
	"options-engine/pkg/instance"
)

// Broker reports the current state of an order.
type Broker interface {
	Status(ctx context.Context, mode model.TradingMode, orderID string) (common.OrderState, error)
}

// Orders lists the orders the engine still considers open.
type Orders interface {
	Open() []model.PendingOrder
}

// Handler applies a broker status to the engine.
type Handler func(ctx context.Context, u model.OrderUpdate) error

// Service polls the broker for every open order and feeds terminal states
// the engine has not heard about back through the handler. This covers
// brokers without push updates and missed postbacks.
type Service struct {
	broker   Broker
	orders   Orders
	handle   Handler
	interval time.Duration
	timeout  time.Duration
	autoSync bool
	mu       sync.Mutex
}

// Report contains reconciliation results.
type Report struct {
	Timestamp   time.Time   `json:"timestamp"`
	Checked     int         `json:"checked"`
	Diffs       []OrderDiff `json:"diffs"`
	Errors      int         `json:"errors"`
	SyncedCount int         `json:"syncedCount"`
}

// OrderDiff is an open order the broker reports differently.
type OrderDiff struct {
	OrderID      string  `json:"orderId"`
	Symbol       string  `json:"symbol"`
	Purpose      string  `json:"purpose"`
	BrokerStatus string  `json:"brokerStatus"`
	FillPrice    float64 `json:"fillPrice,omitempty"`
	Synced       bool    `json:"synced"`
}

// NewService creates a reconciliation service.
func NewService(broker Broker, orders Orders, handle Handler, interval, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		broker:   broker,
		orders:   orders,
		handle:   handle,
		interval: interval,
		timeout:  timeout,
		autoSync: true,
	}
}

// SetAutoSync enables or disables applying drift to the engine.
func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
	log.Info().Bool("auto_sync", enabled).Msg("reconciliation: auto-sync changed")
}

// Start begins periodic reconciliation.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Warn().Msg("reconciliation: no interval; disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report := s.Reconcile(ctx)
				s.handleReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Info().Dur("interval", s.interval).Bool("auto_sync", s.autoSync).Msg("reconciliation: started")
}

// Reconcile checks every open order once.
func (s *Service) Reconcile(ctx context.Context) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now()}
	for _, o := range s.orders.Open() {
		if o.ClientTag != "" && !instance.Owns(o.ClientTag) {
			continue
		}
		report.Checked++

		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		st, err := s.broker.Status(cctx, o.Mode, o.OrderID)
		cancel()
		if err != nil {
			report.Errors++
			log.Debug().Err(err).Str("order_id", o.OrderID).Msg("reconciliation: status failed")
			continue
		}
		if !st.Status.Terminal() {
			continue
		}

		diff := OrderDiff{
			OrderID:      o.OrderID,
			Symbol:       o.Symbol,
			Purpose:      string(o.Purpose),
			BrokerStatus: string(st.Status),
			FillPrice:    st.FillPrice,
		}
		if s.autoSync && s.handle != nil {
			at := st.UpdatedAt
			if at.IsZero() {
				at = time.Now()
			}
			err := s.handle(ctx, model.OrderUpdate{
				OrderID:      o.OrderID,
				Status:       string(st.Status),
				FillPrice:    st.FillPrice,
				RejectReason: st.RejectReason,
				Timestamp:    at,
			})
			if err != nil {
				log.Error().Err(err).Str("order_id", o.OrderID).Msg("reconciliation: apply failed")
			} else {
				diff.Synced = true
				report.SyncedCount++
			}
		}
		report.Diffs = append(report.Diffs, diff)
	}
	return report
}

func (s *Service) handleReport(report *Report) {
	if len(report.Diffs) == 0 {
		log.Debug().Int("checked", report.Checked).Int("errors", report.Errors).Msg("reconciliation: orders match")
		return
	}
	for _, d := range report.Diffs {
		log.Warn().Str("order_id", d.OrderID).Str("symbol", d.Symbol).Str("purpose", d.Purpose).
			Str("broker_status", d.BrokerStatus).Bool("synced", d.Synced).Msg("reconciliation: order drift")
	}
}
