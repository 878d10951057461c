// Package games resolves provider category ids to display names.
package games

import (
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/lsdvr/internal/fsutil"
)

// Game is one entry of the lookup table.
type Game struct {
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url,omitempty"`
	Added     int64  `json:"added,omitempty"`
}

// Table is read-only after Load.
type Table struct {
	byID map[string]Game
}

// Load reads the table at path. A missing file yields an empty table.
func Load(path string) (*Table, error) {
	t := &Table{byID: map[string]Game{}}
	if err := fsutil.ReadJSON(path, &t.byID); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, fmt.Errorf("games: %w", err)
	}
	if t.byID == nil {
		t.byID = map[string]Game{}
	}
	return t, nil
}

// New builds a table from entries.
func New(entries map[string]Game) *Table {
	t := &Table{byID: make(map[string]Game, len(entries))}
	for k, v := range entries {
		t.byID[k] = v
	}
	return t
}

// Lookup returns the game for id.
func (t *Table) Lookup(id string) (Game, bool) {
	if t == nil {
		return Game{}, false
	}
	g, ok := t.byID[id]
	return g, ok
}

// Name returns the display name for id, or fallback when unknown.
func (t *Table) Name(id, fallback string) string {
	if g, ok := t.Lookup(id); ok && g.Name != "" {
		return g.Name
	}
	return fallback
}

// Len is the number of known games.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byID)
}
