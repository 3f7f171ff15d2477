package lab

import (
	"github.com/xtding233/gratonite-lab/internal/catalog"
	"github.com/xtding233/gratonite-lab/internal/gacha"
	"github.com/xtding233/gratonite-lab/internal/ledger"
)

// View is a read-only projection of the engine at one instant.
type View struct {
	Coins          int          `json:"coins"`
	Dust           int          `json:"dust"`
	UniqueCount    int          `json:"uniqueCount"`
	TotalOwned     int          `json:"totalOwned"`
	DuplicateCount int          `json:"duplicateCount"`
	CatalogSize    int          `json:"catalogSize"`
	CompletionPct  float64      `json:"completionPct"`
	OpenCost       int          `json:"openCost"`
	CanOpen        bool         `json:"canOpen"`
	Opening        bool         `json:"opening"`
	Recent         []PullResult `json:"recent"`
	LastResult     *PullResult  `json:"lastResult"`
	PendingSave    bool         `json:"pendingSave"`
}

// Snapshot returns every projection under one lock.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.ledger.Stats()
	v := View{
		Coins:          e.wallet.Coins(),
		Dust:           e.wallet.Dust(),
		UniqueCount:    stats.Unique,
		TotalOwned:     stats.Total,
		DuplicateCount: stats.Duplicates,
		CatalogSize:    e.opts.Catalog.Size(),
		CompletionPct:  e.opts.Catalog.CompletionPct(stats.Unique),
		OpenCost:       e.opts.OpenCost,
		CanOpen:        e.canOpenLocked(),
		Opening:        e.opening,
		Recent:         e.history.Snapshot(),
		PendingSave:    e.dirty.Load(),
	}
	if last, ok := e.history.Latest(); ok {
		v.LastResult = &last
	}
	return v
}

func (e *Engine) canOpenLocked() bool {
	return !e.opening && e.wallet.CanAfford(e.opts.OpenCost)
}

// CanOpen reports whether OpenOne would currently succeed.
func (e *Engine) CanOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canOpenLocked()
}

func (e *Engine) OpenCost() int { return e.opts.OpenCost }

func (e *Engine) Coins() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet.Coins()
}

func (e *Engine) Dust() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet.Dust()
}

func (e *Engine) UniqueCount() int    { return e.stats().Unique }
func (e *Engine) TotalOwned() int     { return e.stats().Total }
func (e *Engine) DuplicateCount() int { return e.stats().Duplicates }

func (e *Engine) CompletionPct() float64 {
	return e.opts.Catalog.CompletionPct(e.stats().Unique)
}

// OwnedCount returns how many copies of elementNumber are owned.
func (e *Engine) OwnedCount(elementNumber int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Count(elementNumber)
}

// Recent returns the history, newest first.
func (e *Engine) Recent() []PullResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Snapshot()
}

// LastResult returns the most recent pull, if any.
func (e *Engine) LastResult() (PullResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Latest()
}

// PendingSave reports whether the latest state still awaits a successful save.
func (e *Engine) PendingSave() bool { return e.dirty.Load() }

func (e *Engine) Catalog() *catalog.Catalog { return e.opts.Catalog }

// Roller exposes the engine's roller for simulations; it holds no state.
func (e *Engine) Roller() *gacha.Roller { return e.roller }

func (e *Engine) stats() ledger.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Stats()
}
