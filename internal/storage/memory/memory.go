// Package memory provides an in-process Store. State is lost on exit.
package memory

import (
	"context"
	"sync"

	"github.com/xtding233/gratonite-lab/internal/storage"
)

// Store keeps the last saved State in memory.
type Store struct {
	mu    sync.Mutex
	state *storage.State
	saves int
}

func New() *Store { return &Store{} }

// Seed returns a Store that already holds s.
func Seed(s storage.State) *Store {
	c := s.Clone()
	return &Store{state: &c}
}

func (s *Store) Load(ctx context.Context) (storage.State, error) {
	if err := ctx.Err(); err != nil {
		return storage.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return storage.State{}, storage.ErrNotFound
	}
	return s.state.Clone(), nil
}

func (s *Store) Save(ctx context.Context, st storage.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := st.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &c
	s.saves++
	return nil
}

// Saves reports how many successful Save calls happened.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
