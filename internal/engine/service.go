// Package engine composes the signal state machine, position manager, order
// pipeline and HMA scheduler behind one interface. The API layer only talks
// to the engine through Service.
package engine

import (
	"context"
	"errors"

	"options-engine/internal/hma"
	"options-engine/internal/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyMonitored = errors.New("symbol already monitored")
	ErrStopped          = errors.New("engine stopped")
)

// Service defines the operations exposed to the control layer.
type Service interface {
	// Watchlist
	AddSymbol(ctx context.Context, cfg model.SymbolConfig) (model.SymbolConfig, error)
	ListWatchlist(ctx context.Context) ([]model.SymbolConfig, error)
	RemoveSymbol(ctx context.Context, id string) error

	// Monitoring commands
	StartMonitoring(ctx context.Context, configID string) (model.MonitoredSymbol, error)
	StopMonitoring(ctx context.Context, symbolID string) error
	ForceEntryWindow(ctx context.Context, symbolID string) (model.MonitoredSymbol, error)
	RefreshHMA(ctx context.Context, instrument string) (hma.RefreshReport, error)

	// Orders and positions
	CancelOrder(ctx context.Context, orderID string) error
	ExitPosition(ctx context.Context, positionID string) error
	HandleOrderUpdate(ctx context.Context, u model.OrderUpdate) error

	// Queries
	Symbols(ctx context.Context) []model.MonitoredSymbol
	Positions(ctx context.Context) []model.ActivePosition
	ClosedTrades(ctx context.Context, limit int) ([]model.ClosedTrade, error)
	Modifications(ctx context.Context, symbol string) ([]model.OrderModification, error)

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
