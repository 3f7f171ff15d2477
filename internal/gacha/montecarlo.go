package gacha

import (
	"errors"
	"math"
	"slices"

	"github.com/xtding233/gratonite-lab/internal/catalog"
)

// TrialGoal selects what the simulation measures per trial.
type TrialGoal string

const (
	// Opens until every catalog entry is owned at least once.
	GoalFullSet TrialGoal = "full_set"
	// Opens until the first entry of SimParams.Rarity appears.
	GoalFirstOfRarity TrialGoal = "first_of_rarity"
	// Given a fixed budget of opens, count the unique entries collected.
	GoalFixedBudget TrialGoal = "fixed_budget"
)

var ErrSimParams = errors.New("invalid simulation params")

// SimParams describes one simulation run.
type SimParams struct {
	Goal     TrialGoal
	Rarity   catalog.Rarity // GoalFirstOfRarity only
	NumOpens int            // GoalFixedBudget only
	Trials   int
	Seed     uint64
}

// Stats summarizes simulation results.
type Stats struct {
	Mean    float64 `json:"mean"`
	Var     float64 `json:"var"`
	StdDev  float64 `json:"stddev"`
	P50     float64 `json:"p50"`
	P90     float64 `json:"p90"`
	P99     float64 `json:"p99"`
	Samples []int   `json:"-"`
}

// calcStats summarizes samples with population variance and linearly
// interpolated percentiles.
func calcStats(xs []int) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	n := float64(len(xs))
	var sum, sumSq float64
	for _, v := range xs {
		sum += float64(v)
	}
	mean := sum / n
	for _, v := range xs {
		sumSq += (float64(v) - mean) * (float64(v) - mean)
	}
	variance := sumSq / n

	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return Stats{
		Mean:    mean,
		Var:     variance,
		StdDev:  math.Sqrt(variance),
		P50:     percentile(sorted, 0.50),
		P90:     percentile(sorted, 0.90),
		P99:     percentile(sorted, 0.99),
		Samples: xs,
	}
}

// percentile reads q in [0,1] from an ascending slice.
func percentile(sorted []int, q float64) float64 {
	last := len(sorted) - 1
	switch {
	case last == 0 || q <= 0:
		return float64(sorted[0])
	case q >= 1:
		return float64(sorted[last])
	}
	pos := q * float64(last)
	lo := int(pos)
	if lo >= last {
		return float64(sorted[last])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[lo+1]-sorted[lo])
}

// simulateOne returns the primary metric for one trial depending on the goal.
func simulateOne(r *Roller, p SimParams, rng RandomSource) int {
	switch p.Goal {
	case GoalFullSet:
		need := 0
		for _, b := range r.bands {
			need += len(b.entries)
		}
		owned := make(map[int]bool, need)
		opens := 0
		for len(owned) < need {
			opens++
			owned[r.Roll(rng).ElementNumber] = true
		}
		return opens

	case GoalFirstOfRarity:
		opens := 0
		for {
			opens++
			if r.Roll(rng).Rarity == p.Rarity {
				return opens
			}
		}

	case GoalFixedBudget:
		owned := make(map[int]bool)
		for i := 0; i < p.NumOpens; i++ {
			owned[r.Roll(rng).ElementNumber] = true
		}
		return len(owned)
	}
	return 0
}

// RunMonteCarlo repeats trials with a seeded source and returns summary stats.
func RunMonteCarlo(r *Roller, p SimParams) (Stats, error) {
	if p.Trials <= 0 {
		return Stats{}, nil
	}
	switch p.Goal {
	case GoalFullSet:
	case GoalFirstOfRarity:
		if _, ok := r.TierProbabilities()[p.Rarity]; !ok {
			// the loop would never terminate
			return Stats{}, ErrSimParams
		}
	case GoalFixedBudget:
		if p.NumOpens < 0 {
			return Stats{}, ErrSimParams
		}
	default:
		return Stats{}, ErrSimParams
	}

	rng := NewSeededRNG(p.Seed)
	samples := make([]int, p.Trials)
	for i := range samples {
		samples[i] = simulateOne(r, p, rng)
	}
	return calcStats(samples), nil
}

// SimulateTiers rolls n times and returns the empirical frequency of each tier.
func SimulateTiers(r *Roller, rng RandomSource, n int) map[catalog.Rarity]float64 {
	out := make(map[catalog.Rarity]float64, len(r.bands))
	if n <= 0 {
		return out
	}
	counts := make(map[catalog.Rarity]int, len(r.bands))
	for i := 0; i < n; i++ {
		counts[r.Roll(rng).Rarity]++
	}
	for _, t := range r.Tiers() {
		out[t] = float64(counts[t]) / float64(n)
	}
	return out
}
