package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pragma(t *testing.T, d *Database, name string) string {
	t.Helper()
	var v string
	require.NoError(t, d.DB.QueryRow("PRAGMA "+name).Scan(&v))
	return strings.ToLower(v)
}

func TestOpenFileAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "engine.db")
	d, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	assert.FileExists(t, path)
	assert.Equal(t, "wal", pragma(t, d, "journal_mode"))
	assert.Equal(t, "1", pragma(t, d, "foreign_keys"))
	assert.Equal(t, "5000", pragma(t, d, "busy_timeout"))
	assert.Equal(t, "1", pragma(t, d, "synchronous"), "NORMAL")
}

func TestOpenMemoryKeepsDataAcrossQueries(t *testing.T) {
	d, err := Open(":memory:", Options{BusyTimeout: 250 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	assert.Equal(t, "250", pragma(t, d, "busy_timeout"))
	assert.Equal(t, "memory", pragma(t, d, "journal_mode"))
	require.NoError(t, ApplyMigrations(d))
	_, err = d.DB.Exec(`CREATE TABLE scratch (id INTEGER)`)
	require.NoError(t, err)
	_, err = d.DB.Exec(`INSERT INTO scratch (id) VALUES (1)`)
	require.NoError(t, err)

	var n int
	require.NoError(t, d.DB.QueryRow(`SELECT COUNT(*) FROM scratch`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
