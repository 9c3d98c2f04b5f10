// Package watchlist seeds watchlist entries from a YAML file.
package watchlist

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"options-engine/internal/model"
)

// File is the top-level YAML structure.
type File struct {
	Symbols []model.SymbolConfig `yaml:"symbols"`
}

// Store is the part of the engine a sync needs.
type Store interface {
	AddSymbol(ctx context.Context, cfg model.SymbolConfig) (model.SymbolConfig, error)
	ListWatchlist(ctx context.Context) ([]model.SymbolConfig, error)
}

// Load reads watchlist entries from a YAML file.
func Load(path string) ([]model.SymbolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes watchlist YAML.
func Parse(data []byte) ([]model.SymbolConfig, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("watchlist: decode: %w", err)
	}
	return file.Symbols, nil
}

// Sync adds every entry whose symbol is not on the watchlist yet. Existing
// entries are left untouched so edits made over the API survive a restart.
// It returns how many entries were added.
func Sync(ctx context.Context, store Store, entries []model.SymbolConfig) (int, error) {
	existing, err := store.ListWatchlist(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, cfg := range existing {
		have[strings.ToUpper(cfg.Symbol)] = true
	}

	added := 0
	for _, cfg := range entries {
		key := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
		if have[key] {
			continue
		}
		if _, err := store.AddSymbol(ctx, cfg); err != nil {
			return added, fmt.Errorf("watchlist: add %s: %w", cfg.Symbol, err)
		}
		have[key] = true
		added++
	}
	return added, nil
}

// Write encodes entries in the same format Load reads.
func Write(w io.Writer, entries []model.SymbolConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Symbols: entries}); err != nil {
		return err
	}
	return enc.Close()
}
