package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"options-engine/internal/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateSymbol = errors.New("symbol already in watchlist")
)

// ----------------------------------------
// Watchlist
// ----------------------------------------

// CreateSymbolConfig inserts a watchlist entry.
func (d *Database) CreateSymbolConfig(ctx context.Context, c model.SymbolConfig) error {
	params, err := json.Marshal(c.TradingParams)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO watchlist (id, symbol, display_name, option_type, params, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Symbol, c.DisplayName, string(c.OptionType), string(params), c.CreatedAt, c.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicateSymbol
	}
	return err
}

// UpsertSymbolConfig inserts or refreshes a watchlist entry keyed by symbol.
func (d *Database) UpsertSymbolConfig(ctx context.Context, c model.SymbolConfig) error {
	params, err := json.Marshal(c.TradingParams)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO watchlist (id, symbol, display_name, option_type, params, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			display_name = excluded.display_name,
			option_type = excluded.option_type,
			params = excluded.params,
			updated_at = excluded.updated_at
	`, c.ID, c.Symbol, c.DisplayName, string(c.OptionType), string(params), c.CreatedAt, c.UpdatedAt)
	return err
}

// ListSymbolConfigs returns the watchlist ordered by symbol.
func (d *Database) ListSymbolConfigs(ctx context.Context) ([]model.SymbolConfig, error) {
	return d.querySymbolConfigs(ctx, `ORDER BY symbol`)
}

// GetSymbolConfig returns one watchlist entry.
func (d *Database) GetSymbolConfig(ctx context.Context, id string) (*model.SymbolConfig, error) {
	res, err := d.querySymbolConfigs(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return &res[0], nil
}

// DeleteSymbolConfig removes a watchlist entry.
func (d *Database) DeleteSymbolConfig(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM watchlist WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) querySymbolConfigs(ctx context.Context, where string, args ...any) ([]model.SymbolConfig, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, COALESCE(display_name, ''), option_type, params, created_at, updated_at
		FROM watchlist `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var res []model.SymbolConfig
	for rows.Next() {
		var (
			c          model.SymbolConfig
			optionType string
			params     string
		)
		if err := rows.Scan(&c.ID, &c.Symbol, &c.DisplayName, &optionType, &params, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		c.OptionType = model.OptionType(optionType)
		if err := json.Unmarshal([]byte(params), &c.TradingParams); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", c.Symbol, err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Monitored symbols
// ----------------------------------------

// SaveMonitoredSymbol upserts the full symbol record.
func (d *Database) SaveMonitoredSymbol(ctx context.Context, m *model.MonitoredSymbol) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode symbol: %w", err)
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO monitored_symbols (id, config_id, symbol, trigger_status, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trigger_status = excluded.trigger_status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, m.ID, m.ConfigID, m.Symbol, string(m.TriggerStatus), string(payload), m.UpdatedAt)
	return err
}

// DeleteMonitoredSymbol removes a symbol record. Missing rows are not an error.
func (d *Database) DeleteMonitoredSymbol(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM monitored_symbols WHERE id = ?`, id)
	return err
}

// ListMonitoredSymbols returns every stored symbol record.
func (d *Database) ListMonitoredSymbols(ctx context.Context) ([]*model.MonitoredSymbol, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT payload FROM monitored_symbols ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var res []*model.MonitoredSymbol
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		m := &model.MonitoredSymbol{}
		if err := json.Unmarshal([]byte(payload), m); err != nil {
			return nil, fmt.Errorf("decode symbol: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Active positions
// ----------------------------------------

// SavePosition upserts the full position record.
func (d *Database) SavePosition(ctx context.Context, p *model.ActivePosition) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO active_positions (id, symbol_id, symbol, stop_loss, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stop_loss = excluded.stop_loss,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, p.ID, p.SymbolID, p.Symbol, p.StopLoss, string(payload), p.UpdatedAt)
	return err
}

// DeletePosition removes a position record.
func (d *Database) DeletePosition(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM active_positions WHERE id = ?`, id)
	return err
}

// ListPositions returns all open positions.
func (d *Database) ListPositions(ctx context.Context) ([]*model.ActivePosition, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT payload FROM active_positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []*model.ActivePosition
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		p := &model.ActivePosition{}
		if err := json.Unmarshal([]byte(payload), p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AppendSLModification logs a stop-loss change. The log is append-only.
func (d *Database) AppendSLModification(ctx context.Context, positionID string, m model.SLModification) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO sl_modifications (position_id, old_stop_loss, new_stop_loss, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, positionID, m.OldStopLoss, m.NewStopLoss, m.Reason, m.Timestamp)
	return err
}

// ListSLModifications returns the stop-loss log of a position in order.
func (d *Database) ListSLModifications(ctx context.Context, positionID string) ([]model.SLModification, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT old_stop_loss, new_stop_loss, COALESCE(reason, ''), created_at
		FROM sl_modifications WHERE position_id = ? ORDER BY id`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.SLModification
	for rows.Next() {
		var m model.SLModification
		if err := rows.Scan(&m.OldStopLoss, &m.NewStopLoss, &m.Reason, &m.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Order modifications
// ----------------------------------------

// AppendOrderModification stores one cancel-and-replace record.
func (d *Database) AppendOrderModification(ctx context.Context, m model.OrderModification) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO order_modifications (
			id, symbol, modification_type, old_hma_value, new_hma_value, old_limit_price,
			new_limit_price, old_order_id, new_order_id, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Symbol, m.ModificationType, m.OldHMAValue, m.NewHMAValue, m.OldLimitPrice,
		m.NewLimitPrice, m.OldOrderID, m.NewOrderID, m.Reason, m.Timestamp)
	return err
}

// ListOrderModifications returns the history for symbol, oldest first.
func (d *Database) ListOrderModifications(ctx context.Context, symbol string) ([]model.OrderModification, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, modification_type, old_hma_value, new_hma_value, old_limit_price,
		       new_limit_price, COALESCE(old_order_id, ''), COALESCE(new_order_id, ''),
		       COALESCE(reason, ''), created_at
		FROM order_modifications WHERE symbol = ? ORDER BY created_at, rowid`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.OrderModification
	for rows.Next() {
		var m model.OrderModification
		if err := rows.Scan(&m.ID, &m.Symbol, &m.ModificationType, &m.OldHMAValue, &m.NewHMAValue,
			&m.OldLimitPrice, &m.NewLimitPrice, &m.OldOrderID, &m.NewOrderID, &m.Reason, &m.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Closed trades
// ----------------------------------------

// CreateClosedTrade stores an exit record.
func (d *Database) CreateClosedTrade(ctx context.Context, t model.ClosedTrade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO closed_trades (
			id, position_id, config_id, symbol, buy_order_id, sell_order_id, bought_price, exit_price,
			quantity, exit_reason, exit_status, pnl, re_entry_count, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PositionID, t.ConfigID, t.Symbol, t.BuyOrderID, t.SellOrderID, t.BoughtPrice, t.ExitPrice,
		t.Quantity, string(t.ExitReason), string(t.ExitStatus), t.PnL, t.ReEntryCount, t.OpenedAt, t.ClosedAt)
	return err
}

// ListClosedTrades returns closed trades, most recent first.
func (d *Database) ListClosedTrades(ctx context.Context, limit int) ([]model.ClosedTrade, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, position_id, COALESCE(config_id, ''), symbol, COALESCE(buy_order_id, ''),
		       COALESCE(sell_order_id, ''), bought_price, exit_price, quantity, exit_reason,
		       exit_status, pnl, re_entry_count, opened_at, closed_at
		FROM closed_trades ORDER BY closed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.ClosedTrade
	for rows.Next() {
		var (
			t              model.ClosedTrade
			reason, status string
			opened         sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.PositionID, &t.ConfigID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID,
			&t.BoughtPrice, &t.ExitPrice, &t.Quantity, &reason, &status, &t.PnL, &t.ReEntryCount,
			&opened, &t.ClosedAt); err != nil {
			return nil, err
		}
		t.ExitReason = model.ExitReason(reason)
		t.ExitStatus = model.TriggerStatus(status)
		if opened.Valid {
			t.OpenedAt = opened.Time
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// PurgeSnapshotsBefore drops LTP snapshots older than cutoff.
func (d *Database) PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM ltp_snapshots WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
