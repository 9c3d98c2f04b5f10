package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"options-engine/internal/model"
)

// Store persists monitored symbols and positions.
type Store interface {
	ListMonitoredSymbols(ctx context.Context) ([]*model.MonitoredSymbol, error)
	SaveMonitoredSymbol(ctx context.Context, m *model.MonitoredSymbol) error
	DeleteMonitoredSymbol(ctx context.Context, id string) error
	ListPositions(ctx context.Context) ([]*model.ActivePosition, error)
	SavePosition(ctx context.Context, p *model.ActivePosition) error
	DeletePosition(ctx context.Context, id string) error
}

// Manager keeps the committed view of monitored symbols and positions in
// memory while persisting to DB for durability. Each record has one writer
// (its instrument worker); readers always get clones.
type Manager struct {
	mu        sync.RWMutex
	symbols   map[string]*model.MonitoredSymbol
	positions map[string]*model.ActivePosition
	db        Store
}

func NewManager(store Store) *Manager {
	return &Manager{
		db:        store,
		symbols:   make(map[string]*model.MonitoredSymbol),
		positions: make(map[string]*model.ActivePosition),
	}
}

// Load seeds in-memory state from DB on startup.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	syms, err := m.db.ListMonitoredSymbols(ctx)
	if err != nil {
		return fmt.Errorf("load monitored symbols: %w", err)
	}
	pos, err := m.db.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range syms {
		m.symbols[s.ID] = s
	}
	for _, p := range pos {
		m.positions[p.ID] = p
	}
	return nil
}

// Symbol returns a monitored symbol by id.
func (m *Manager) Symbol(id string) (*model.MonitoredSymbol, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.symbols[id]
	return s.Clone(), ok
}

// Symbols returns all monitored symbols ordered by creation.
func (m *Manager) Symbols() []*model.MonitoredSymbol {
	m.mu.RLock()
	res := make([]*model.MonitoredSymbol, 0, len(m.symbols))
	for _, s := range m.symbols {
		res = append(res, s.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

// Position returns a position by id.
func (m *Manager) Position(id string) (*model.ActivePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p.Clone(), ok
}

// Positions returns a snapshot of all positions ordered by open time.
func (m *Manager) Positions() []*model.ActivePosition {
	m.mu.RLock()
	res := make([]*model.ActivePosition, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].OpenedAt.Equal(res[j].OpenedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].OpenedAt.Before(res[j].OpenedAt)
	})
	return res
}

// Counts returns the number of monitored symbols and positions.
func (m *Manager) Counts() (symbols, positions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.symbols), len(m.positions)
}

// PutSymbol updates the in-memory snapshot only; per-tick price changes
// go through here.
func (m *Manager) PutSymbol(s *model.MonitoredSymbol) {
	m.mu.Lock()
	m.symbols[s.ID] = s.Clone()
	m.mu.Unlock()
}

// SaveSymbol updates the snapshot and persists it.
func (m *Manager) SaveSymbol(ctx context.Context, s *model.MonitoredSymbol) error {
	m.PutSymbol(s)
	if m.db == nil {
		return nil
	}
	return m.db.SaveMonitoredSymbol(ctx, s)
}

// RemoveSymbol deletes a monitored symbol.
func (m *Manager) RemoveSymbol(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.symbols, id)
	m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	return m.db.DeleteMonitoredSymbol(ctx, id)
}

// PutPosition updates the in-memory snapshot only.
func (m *Manager) PutPosition(p *model.ActivePosition) {
	m.mu.Lock()
	m.positions[p.ID] = p.Clone()
	m.mu.Unlock()
}

// SavePosition updates the snapshot and persists it.
func (m *Manager) SavePosition(ctx context.Context, p *model.ActivePosition) error {
	m.PutPosition(p)
	if m.db == nil {
		return nil
	}
	return m.db.SavePosition(ctx, p)
}

// RemovePosition deletes a position.
func (m *Manager) RemovePosition(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.positions, id)
	m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	return m.db.DeletePosition(ctx, id)
}
