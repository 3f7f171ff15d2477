// Package catalog defines the fixed set of collectible guys and the rarity
// table that governs how often each tier is drawn.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidConfig marks a malformed catalog or rarity table. It is fatal at startup.
var ErrInvalidConfig = errors.New("invalid catalog config")

// Table is an ordered rarity table. Declaration order is the tier order used
// when walking the cumulative distribution.
type Table struct {
	tiers []RarityMeta
	index map[Rarity]int
}

// NewTable validates tiers and returns an immutable Table.
func NewTable(tiers []RarityMeta) (Table, error) {
	var errs []string
	if len(tiers) == 0 {
		errs = append(errs, "rarity table must not be empty")
	}
	index := make(map[Rarity]int, len(tiers))
	for i, t := range tiers {
		if t.Rarity == "" {
			errs = append(errs, fmt.Sprintf("rarities[%d].rarity must not be empty", i))
			continue
		}
		if _, dup := index[t.Rarity]; dup {
			errs = append(errs, fmt.Sprintf("rarity %q declared twice", t.Rarity))
			continue
		}
		index[t.Rarity] = i
		if math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) || t.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("rarity %q weight must be a positive finite number, got %v", t.Rarity, t.Weight))
		}
		if t.DustValue < 0 {
			errs = append(errs, fmt.Sprintf("rarity %q dust_value must be >= 0, got %d", t.Rarity, t.DustValue))
		}
	}
	if len(errs) > 0 {
		return Table{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return Table{tiers: append([]RarityMeta(nil), tiers...), index: index}, nil
}

// Tiers returns the table in declaration order.
func (t Table) Tiers() []RarityMeta {
	return append([]RarityMeta(nil), t.tiers...)
}

// Meta returns the metadata for r.
func (t Table) Meta(r Rarity) (RarityMeta, bool) {
	i, ok := t.index[r]
	if !ok {
		return RarityMeta{}, false
	}
	return t.tiers[i], true
}

// DustValue returns the dust awarded for a duplicate of tier r, or 0 if r is unknown.
func (t Table) DustValue(r Rarity) int {
	m, _ := t.Meta(r)
	return m.DustValue
}

// Len reports the number of tiers.
func (t Table) Len() int { return len(t.tiers) }

// Catalog is the immutable list of collectible entries.
//
// Invariant: element numbers are unique and every entry's rarity is a key of Table.
type Catalog struct {
	entries  []Entry
	byNumber map[int]int
	byRarity map[Rarity][]int
	table    Table
}

// New validates entries against table and builds a Catalog. Every violation
// is reported; nothing is silently dropped.
func New(entries []Entry, table Table) (*Catalog, error) {
	var errs []string
	if len(entries) == 0 {
		errs = append(errs, "catalog must contain at least one entry")
	}
	if table.Len() == 0 {
		errs = append(errs, "rarity table must not be empty")
	}

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ElementNumber < sorted[j].ElementNumber
	})

	byNumber := make(map[int]int, len(sorted))
	byRarity := make(map[Rarity][]int)
	for i, e := range sorted {
		if e.ElementNumber < 1 {
			errs = append(errs, fmt.Sprintf("entry %q element_number must be >= 1, got %d", e.Symbol, e.ElementNumber))
		}
		if _, dup := byNumber[e.ElementNumber]; dup {
			errs = append(errs, fmt.Sprintf("element_number %d declared twice", e.ElementNumber))
			continue
		}
		byNumber[e.ElementNumber] = i
		if _, ok := table.Meta(e.Rarity); !ok {
			errs = append(errs, fmt.Sprintf("element_number %d references unknown rarity %q", e.ElementNumber, e.Rarity))
			continue
		}
		byRarity[e.Rarity] = append(byRarity[e.Rarity], i)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return &Catalog{
		entries:  sorted,
		byNumber: byNumber,
		byRarity: byRarity,
		table:    table,
	}, nil
}

// Table returns the rarity table the catalog was validated against.
func (c *Catalog) Table() Table { return c.table }

// Size is the number of distinct collectibles.
func (c *Catalog) Size() int { return len(c.entries) }

// Entries returns all entries ordered by element number.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Lookup finds an entry by element number.
func (c *Catalog) Lookup(elementNumber int) (Entry, bool) {
	i, ok := c.byNumber[elementNumber]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// ByRarity returns the entries of tier r, ordered by element number.
func (c *Catalog) ByRarity(r Rarity) []Entry {
	idx := c.byRarity[r]
	out := make([]Entry, len(idx))
	for i, j := range idx {
		out[i] = c.entries[j]
	}
	return out
}

// CountByRarity reports how many entries belong to tier r.
func (c *Catalog) CountByRarity(r Rarity) int { return len(c.byRarity[r]) }

// PresentTiers returns the tiers that have at least one entry, in table order.
func (c *Catalog) PresentTiers() []RarityMeta {
	var out []RarityMeta
	for _, t := range c.table.tiers {
		if len(c.byRarity[t.Rarity]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// CompletionPct converts a unique-owned count into a percentage of the catalog.
func (c *Catalog) CompletionPct(unique int) float64 {
	if len(c.entries) == 0 {
		return 0
	}
	return float64(unique) * 100 / float64(len(c.entries))
}
