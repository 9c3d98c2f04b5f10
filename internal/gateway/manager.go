// Package gateway routes orders to the broker serving a symbol's trading
// mode and trips a circuit when a broker keeps failing.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"options-engine/internal/model"
	exchange "options-engine/pkg/exchanges/common"
)

var (
	ErrNoGateway        = errors.New("no gateway for trading mode")
	ErrGatewayUnhealthy = errors.New("gateway is unhealthy")
)

// Config holds the circuit settings.
type Config struct {
	FailureThreshold int           // consecutive transient failures before the circuit opens
	CircuitTimeout   time.Duration // time before an open circuit is retried
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CircuitTimeout:   30 * time.Second,
	}
}

type entry struct {
	gw        exchange.Gateway
	failures  int
	trippedAt time.Time
}

// Manager maps trading modes to gateways.
type Manager struct {
	mu       sync.RWMutex
	gateways map[model.TradingMode]*entry
	config   Config
	now      func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		gateways: make(map[model.TradingMode]*entry),
		config:   cfg,
		now:      time.Now,
	}
}

// Register installs gw for mode.
func (m *Manager) Register(mode model.TradingMode, gw exchange.Gateway) {
	m.mu.Lock()
	m.gateways[mode] = &entry{gw: gw}
	m.mu.Unlock()
}

// Modes lists the registered trading modes.
func (m *Manager) Modes() []model.TradingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TradingMode, 0, len(m.gateways))
	for mode := range m.gateways {
		out = append(out, mode)
	}
	return out
}

// Get returns the gateway for mode. An open circuit surfaces as a
// transient error so callers back off and retry.
func (m *Manager) Get(mode model.TradingMode) (exchange.Gateway, error) {
	m.mu.RLock()
	e, ok := m.gateways[mode]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGateway, mode)
	}
	m.mu.RLock()
	open := e.failures >= m.config.FailureThreshold && m.now().Sub(e.trippedAt) < m.config.CircuitTimeout
	m.mu.RUnlock()
	if open {
		return nil, exchange.Transient("gateway "+string(mode), ErrGatewayUnhealthy)
	}
	return e.gw, nil
}

// Record updates the circuit after a gateway call.
func (m *Manager) Record(mode model.TradingMode, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.gateways[mode]
	if !ok {
		return
	}
	if err == nil || !exchange.IsTransient(err) {
		e.failures = 0
		return
	}
	e.failures++
	if e.failures == m.config.FailureThreshold {
		e.trippedAt = m.now()
		log.Warn().Str("mode", string(mode)).Int("failures", e.failures).Msg("gateway: circuit opened")
	} else if e.failures > m.config.FailureThreshold {
		e.trippedAt = m.now()
	}
}

// Submit routes a submission and records the outcome.
func (m *Manager) Submit(ctx context.Context, mode model.TradingMode, req exchange.OrderRequest) (exchange.OrderResult, error) {
	gw, err := m.Get(mode)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	res, err := gw.SubmitOrder(ctx, req)
	m.Record(mode, err)
	return res, err
}

// Cancel routes a cancellation and records the outcome.
func (m *Manager) Cancel(ctx context.Context, mode model.TradingMode, orderID string) (bool, error) {
	gw, err := m.Get(mode)
	if err != nil {
		return false, err
	}
	ok, err := gw.CancelOrder(ctx, orderID)
	m.Record(mode, err)
	return ok, err
}

// Status routes a status query and records the outcome.
func (m *Manager) Status(ctx context.Context, mode model.TradingMode, orderID string) (exchange.OrderState, error) {
	gw, err := m.Get(mode)
	if err != nil {
		return exchange.OrderState{}, err
	}
	st, err := gw.OrderStatus(ctx, orderID)
	m.Record(mode, err)
	return st, err
}
