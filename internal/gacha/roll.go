package gacha

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtding233/gratonite-lab/internal/catalog"
)

// tierBand is one slice of the cumulative distribution.
type tierBand struct {
	meta    catalog.RarityMeta
	upper   float64 // exclusive cumulative bound
	entries []catalog.Entry
}

// Roller draws one catalog entry per call: a weighted tier pick followed by a
// uniform pick inside the tier. It holds no mutable state and is safe for
// concurrent use as long as each caller brings its own RandomSource.
type Roller struct {
	bands []tierBand
	total float64
}

// NewRoller builds the cumulative distribution over the tiers actually present
// in cat, in table declaration order. The total is the sum of those tiers'
// weights, so adding or removing entries never requires hand renormalization.
func NewRoller(cat *catalog.Catalog, table catalog.Table) (*Roller, error) {
	if cat == nil || cat.Size() == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", catalog.ErrInvalidConfig)
	}
	var errs []string
	present := make(map[catalog.Rarity]bool)
	for _, e := range cat.Entries() {
		if _, ok := table.Meta(e.Rarity); !ok {
			errs = append(errs, fmt.Sprintf("element_number %d references rarity %q absent from the table", e.ElementNumber, e.Rarity))
			continue
		}
		present[e.Rarity] = true
	}

	r := &Roller{}
	for _, meta := range table.Tiers() {
		if !present[meta.Rarity] {
			continue
		}
		if math.IsNaN(meta.Weight) || math.IsInf(meta.Weight, 0) || meta.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("rarity %q weight must be positive, got %v", meta.Rarity, meta.Weight))
			continue
		}
		r.total += meta.Weight
		r.bands = append(r.bands, tierBand{
			meta:    meta,
			upper:   r.total,
			entries: cat.ByRarity(meta.Rarity),
		})
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", catalog.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return r, nil
}

// Roll performs one draw. If rng is nil the crypto source is used.
func (r *Roller) Roll(rng RandomSource) catalog.Entry {
	if rng == nil {
		rng = DefaultRNG()
	}
	band := r.pickBand(rng.Float64() * r.total)
	return band.entries[pickIndex(rng.Float64(), len(band.entries))]
}

// pickBand returns the first band whose cumulative range contains x.
func (r *Roller) pickBand(x float64) tierBand {
	for _, b := range r.bands {
		if x < b.upper {
			return b
		}
	}
	// x == total only when a source returns 1.0; keep it in range.
	return r.bands[len(r.bands)-1]
}

func pickIndex(u float64, n int) int {
	i := int(u * float64(n))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// TotalWeight is the normalizing constant of the distribution.
func (r *Roller) TotalWeight() float64 { return r.total }

// TierProbabilities returns weight/totalWeight for each tier present in the catalog.
func (r *Roller) TierProbabilities() map[catalog.Rarity]float64 {
	out := make(map[catalog.Rarity]float64, len(r.bands))
	for _, b := range r.bands {
		out[b.meta.Rarity] = b.meta.Weight / r.total
	}
	return out
}

// Tiers lists the present tiers in draw order.
func (r *Roller) Tiers() []catalog.Rarity {
	out := make([]catalog.Rarity, len(r.bands))
	for i, b := range r.bands {
		out[i] = b.meta.Rarity
	}
	return out
}

// Roll is the one-shot form of NewRoller(cat, table).Roll(rng).
func Roll(cat *catalog.Catalog, table catalog.Table, rng RandomSource) (catalog.Entry, error) {
	r, err := NewRoller(cat, table)
	if err != nil {
		return catalog.Entry{}, err
	}
	return r.Roll(rng), nil
}
