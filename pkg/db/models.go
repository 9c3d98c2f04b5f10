package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"options-engine/internal/model"
)

// OrderRecord is a broker order row: the tracked intent plus its latest
// broker status.
type OrderRecord struct {
	model.PendingOrder
	Status       string
	FillPrice    float64
	RejectReason string
	UpdatedAt    time.Time
}

// LTPSnapshot is one persisted price observation of a monitored symbol.
type LTPSnapshot struct {
	Symbol        string
	LTP           float64
	HMAValue      float64
	TriggerStatus string
	CreatedAt     time.Time
}

// CreateOrder inserts a new order row, replacing any row with the same id.
func (d *Database) CreateOrder(ctx context.Context, o OrderRecord) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.SubmittedAt
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (
			id, order_id, client_tag, symbol, symbol_id, position_id, purpose, mode, side, order_type,
			quantity, price, trigger_price, hma_value, modification_count, status, fill_price,
			reject_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.OrderID, o.ClientTag, o.Symbol, o.SymbolID, o.PositionID, string(o.Purpose), string(o.Mode), o.Side, string(o.OrderType),
		o.Quantity, o.BoughtPrice, o.TriggerPrice, o.HMAValue, o.OrderModificationCount, o.Status, o.FillPrice,
		o.RejectReason, o.SubmittedAt, o.UpdatedAt,
	)
	return err
}

// UpdateOrderStatus sets the status of an order by broker order id.
func (d *Database) UpdateOrderStatus(ctx context.Context, orderID, status string, fillPrice float64, reason string, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, fill_price = ?, reject_reason = ?, updated_at = ?
		WHERE order_id = ?
	`, status, fillPrice, reason, at, orderID)
	return err
}

// ListOpenOrders returns orders that are not filled/closed.
func (d *Database) ListOpenOrders(ctx context.Context) ([]OrderRecord, error) {
	return d.queryOrders(ctx, `WHERE status NOT IN ('FILLED','CANCELLED','REJECTED') ORDER BY created_at`)
}

// GetOrderByBrokerID returns the order row for a broker order id.
func (d *Database) GetOrderByBrokerID(ctx context.Context, orderID string) (*OrderRecord, error) {
	res, err := d.queryOrders(ctx, `WHERE order_id = ? LIMIT 1`, orderID)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return &res[0], nil
}

func (d *Database) queryOrders(ctx context.Context, where string, args ...any) ([]OrderRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(order_id, ''), COALESCE(client_tag, ''), symbol, COALESCE(symbol_id, ''),
		       COALESCE(position_id, ''), purpose, mode, side, order_type, quantity, price, trigger_price,
		       hma_value, modification_count, status, fill_price, COALESCE(reject_reason, ''),
		       created_at, updated_at
		FROM orders `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var res []OrderRecord
	for rows.Next() {
		var (
			o                  OrderRecord
			purpose, mode, orderType string
		)
		if err := rows.Scan(&o.ID, &o.OrderID, &o.ClientTag, &o.Symbol, &o.SymbolID, &o.PositionID,
			&purpose, &mode, &o.Side, &orderType, &o.Quantity, &o.BoughtPrice, &o.TriggerPrice, &o.HMAValue,
			&o.OrderModificationCount, &o.Status, &o.FillPrice, &o.RejectReason, &o.SubmittedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Purpose = model.OrderPurpose(purpose)
		o.Mode = model.TradingMode(mode)
		o.OrderType = model.OrderType(orderType)
		res = append(res, o)
	}
	return res, rows.Err()
}

// InsertLTPSnapshots writes a batch of snapshots in one transaction.
func (d *Database) InsertLTPSnapshots(ctx context.Context, snaps []LTPSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ltp_snapshots (symbol, ltp, hma_value, trigger_status, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range snaps {
		if _, err := stmt.ExecContext(ctx, s.Symbol, s.LTP, s.HMAValue, s.TriggerStatus, s.CreatedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert snapshot %s: %w", s.Symbol, err)
		}
	}
	return tx.Commit()
}

// CountLTPSnapshots returns the number of stored snapshots for symbol.
func (d *Database) CountLTPSnapshots(ctx context.Context, symbol string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ltp_snapshots WHERE symbol = ?`, symbol).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
