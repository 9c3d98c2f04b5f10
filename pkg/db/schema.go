package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS watchlist (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL UNIQUE,
    display_name TEXT,
    option_type TEXT NOT NULL,
    params TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS monitored_symbols (
    id TEXT PRIMARY KEY,
    config_id TEXT,
    symbol TEXT NOT NULL,
    trigger_status TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS active_positions (
    id TEXT PRIMARY KEY,
    symbol_id TEXT,
    symbol TEXT NOT NULL,
    stop_loss REAL NOT NULL,
    payload TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sl_modifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id TEXT NOT NULL,
    old_stop_loss REAL NOT NULL,
    new_stop_loss REAL NOT NULL,
    reason TEXT,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS order_modifications (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    modification_type TEXT NOT NULL,
    old_hma_value REAL,
    new_hma_value REAL,
    old_limit_price REAL,
    new_limit_price REAL,
    old_order_id TEXT,
    new_order_id TEXT,
    reason TEXT,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    order_id TEXT,
    client_tag TEXT,
    symbol TEXT NOT NULL,
    symbol_id TEXT,
    position_id TEXT,
    purpose TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT 'PAPER',
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price REAL DEFAULT 0,
    trigger_price REAL DEFAULT 0,
    hma_value REAL DEFAULT 0,
    modification_count INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    fill_price REAL DEFAULT 0,
    reject_reason TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS closed_trades (
    id TEXT PRIMARY KEY,
    position_id TEXT NOT NULL,
    config_id TEXT,
    symbol TEXT NOT NULL,
    buy_order_id TEXT,
    sell_order_id TEXT,
    bought_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    quantity INTEGER NOT NULL,
    exit_reason TEXT NOT NULL,
    exit_status TEXT NOT NULL,
    pnl REAL NOT NULL,
    re_entry_count INTEGER DEFAULT 0,
    opened_at DATETIME,
    closed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ltp_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    ltp REAL NOT NULL,
    hma_value REAL,
    trigger_status TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_modifications_symbol ON order_modifications(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders(order_id);
CREATE INDEX IF NOT EXISTS idx_sl_modifications_position ON sl_modifications(position_id);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "orders", "client_tag", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "mode", "TEXT NOT NULL DEFAULT 'PAPER'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "closed_trades", "re_entry_count", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
