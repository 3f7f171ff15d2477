// Package ledger holds the mutable collection and currency state of the lab.
// Nothing here is safe for concurrent use; the engine serializes access.
package ledger

import (
	"errors"
	"fmt"
)

// ErrInvalidCount is returned when restoring a negative owned count.
var ErrInvalidCount = errors.New("owned count must be >= 0")

// Stats are derived from owned counts on every call, never stored.
type Stats struct {
	Unique     int `json:"uniqueCount"`
	Total      int `json:"totalOwned"`
	Duplicates int `json:"duplicateCount"`
}

// Ledger tracks how many copies of each element number are owned.
//
// Invariant: RecordPull is the only operation that changes a count and it never
// decreases one. Reset and Restore replace the whole map.
type Ledger struct {
	owned map[int]int
}

func NewLedger() *Ledger {
	return &Ledger{owned: make(map[int]int)}
}

// Count returns the owned count for n, 0 if never pulled.
func (l *Ledger) Count(n int) int { return l.owned[n] }

// IsDuplicate reports whether n is already owned.
func (l *Ledger) IsDuplicate(n int) bool { return l.owned[n] > 0 }

// RecordPull adds one copy of n and returns the new count.
func (l *Ledger) RecordPull(n int) int {
	l.owned[n]++
	return l.owned[n]
}

func (l *Ledger) Stats() Stats {
	var s Stats
	for _, c := range l.owned {
		if c > 0 {
			s.Unique++
		}
		s.Total += c
	}
	s.Duplicates = s.Total - s.Unique
	return s
}

// Owned returns a copy of the non-zero counts.
func (l *Ledger) Owned() map[int]int {
	out := make(map[int]int, len(l.owned))
	for n, c := range l.owned {
		if c > 0 {
			out[n] = c
		}
	}
	return out
}

func (l *Ledger) Reset() {
	l.owned = make(map[int]int)
}

// Restore replaces all counts with a persisted snapshot.
func (l *Ledger) Restore(owned map[int]int) error {
	next := make(map[int]int, len(owned))
	for n, c := range owned {
		if c < 0 {
			return fmt.Errorf("%w: element %d has %d", ErrInvalidCount, n, c)
		}
		if c > 0 {
			next[n] = c
		}
	}
	l.owned = next
	return nil
}
