// Package storage defines the persistence port of the lab and the persisted
// document shape. Adapters live in subpackages and carry no business rules.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CurrentVersion is the schema version written by Save.
const CurrentVersion = 1

var (
	// ErrNotFound is returned by Load when nothing has been saved yet.
	ErrNotFound = errors.New("lab state not found")
	// ErrUnsupportedVersion is returned for documents written by a newer schema.
	ErrUnsupportedVersion = errors.New("unsupported lab state version")
)

// Store loads and saves the whole lab state. Save is a full overwrite, so
// repeating it with the same State is harmless.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// State is the persisted lab document.
type State struct {
	Version int          `json:"version"`
	Coins   int          `json:"coins"`
	Dust    int          `json:"dust"`
	Owned   map[int]int  `json:"owned"`
	Recent  []PullRecord `json:"recent"`
}

// PullRecord is the persisted form of one recent pull, newest first in State.Recent.
type PullRecord struct {
	ID                  string    `json:"id,omitempty"`
	ElementNumber       int       `json:"elementNumber"`
	IsDuplicate         bool      `json:"isDuplicate"`
	DuplicateCountAfter int       `json:"duplicateCountAfter"`
	DustAwarded         int       `json:"dustAwarded"`
	PulledAt            time.Time `json:"pulledAt,omitzero"`
}

// Migrate upgrades an older document in place and rejects newer ones.
func Migrate(s State) (State, error) {
	switch {
	case s.Version > CurrentVersion:
		return State{}, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, s.Version, CurrentVersion)
	case s.Version <= 0:
		// pre-versioned documents share the v1 layout
		s.Version = CurrentVersion
	}
	if s.Owned == nil {
		s.Owned = map[int]int{}
	}
	return s, nil
}

// Clone deep-copies s so adapters never share maps or slices with callers.
func (s State) Clone() State {
	out := s
	out.Owned = make(map[int]int, len(s.Owned))
	for k, v := range s.Owned {
		out.Owned[k] = v
	}
	out.Recent = append([]PullRecord(nil), s.Recent...)
	return out
}
