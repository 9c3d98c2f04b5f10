package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const memoryPath = ":memory:"

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

// Options tune the SQLite connection.
type Options struct {
	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration
	// Synchronous is the PRAGMA synchronous level.
	Synchronous string
	// ConnMaxLifetime recycles file connections; in-memory databases keep
	// their single connection for the life of the process.
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns the settings used by New.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:     5 * time.Second,
		Synchronous:     "NORMAL",
		ConnMaxLifetime: time.Hour,
	}
}

// New opens (and creates if needed) the SQLite database at path with the
// default options.
func New(path string) (*Database, error) {
	return Open(path, DefaultOptions())
}

// Open opens the SQLite database at path. Every connection enables foreign
// keys and the busy timeout; file databases also run in WAL mode.
func Open(path string, opts Options) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	memory := path == memoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, opts, memory))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; an in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !memory {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Database{DB: db}, nil
}

// dsn encodes the per-connection pragmas the modernc driver applies.
func dsn(path string, opts Options, memory bool) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	if opts.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	}
	if !memory {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	if opts.Synchronous != "" {
		q.Add("_pragma", "synchronous("+opts.Synchronous+")")
	}
	return path + "?" + q.Encode()
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
