// Package file implements domain.PositionStore as one JSON document per
// market on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PositionStore keeps each market's position in <dir>/<market>.json and
// replaces it by writing a temp file, syncing it and renaming it over the
// old one.
type PositionStore struct {
	dir string
}

// NewPositionStore creates dir if needed and returns a store rooted there.
func NewPositionStore(dir string) (*PositionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create dir %s: %w", dir, err)
	}
	return &PositionStore{dir: dir}, nil
}

func (s *PositionStore) path(market string) string {
	name := unsafeChars.ReplaceAllString(market, "_")
	if name == "" {
		name = "_"
	}
	return filepath.Join(s.dir, name+".json")
}

// Load returns the stored position, or the empty position when the file
// does not exist.
func (s *PositionStore) Load(_ context.Context, market string) (domain.Position, error) {
	data, err := os.ReadFile(s.path(market))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.EmptyPosition(), nil
		}
		return domain.Position{}, fmt.Errorf("file: read position %s: %w", market, err)
	}

	var p domain.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Position{}, fmt.Errorf("file: decode position %s: %w", market, err)
	}
	return p, nil
}

// Save atomically replaces the stored position.
func (s *PositionStore) Save(ctx context.Context, market string, p domain.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode position %s: %w", market, err)
	}

	target := s.path(market)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp for %s: %w", market, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("file: write temp for %s: %w", market, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("file: sync temp for %s: %w", market, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp for %s: %w", market, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("file: rename into %s: %w", target, err)
	}
	committed = true

	// Persist the rename itself. Not every platform supports syncing a
	// directory, so failures here are ignored.
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Close is a no-op.
func (s *PositionStore) Close() error { return nil }

var _ domain.PositionStore = (*PositionStore)(nil)
