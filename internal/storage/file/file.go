// Package file stores the lab state as one JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xtding233/gratonite-lab/internal/storage"
)

// Store reads and writes a single JSON file. Writes go to a temp file in the
// same directory and are renamed over the target, so a crash never leaves a
// half-written document.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a Store for path, creating the parent directory if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: clean}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (storage.State, error) {
	if err := ctx.Err(); err != nil {
		return storage.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.State{}, storage.ErrNotFound
		}
		return storage.State{}, fmt.Errorf("read state: %w", err)
	}
	var st storage.State
	if err := json.Unmarshal(b, &st); err != nil {
		return storage.State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, st storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
