// Package lab runs the Gratonite Guys pack lab: it spends coins to open packs,
// records pulls in the collection ledger, converts duplicates into dust and
// keeps the persisted state in sync.
package lab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtding233/gratonite-lab/internal/catalog"
	"github.com/xtding233/gratonite-lab/internal/gacha"
	"github.com/xtding233/gratonite-lab/internal/ledger"
	"github.com/xtding233/gratonite-lab/internal/storage"
)

var (
	// ErrBusy is returned while another open is in flight.
	ErrBusy = errors.New("a pack is already being opened")
	// ErrInsufficientFunds is returned when coins < open cost.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	// ErrOverflow is returned when a grant would exceed the largest balance.
	ErrOverflow = ledger.ErrOverflow
)

// PullResult is the outcome of one open.
type PullResult = ledger.PullResult

// Options configures an Engine. Catalog and Store are required.
type Options struct {
	Catalog *catalog.Catalog
	Store   storage.Store
	RNG     gacha.RandomSource // nil uses the crypto source
	Logger  *zap.Logger        // nil disables logging
	Now     func() time.Time   // nil uses time.Now

	OpenCost        int
	StartingCoins   int
	StartingDust    int
	HistoryCapacity int

	SaveTimeout     time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
}

func (o *Options) normalize() error {
	var errs []error
	if o.Catalog == nil {
		errs = append(errs, fmt.Errorf("%w: catalog is required", catalog.ErrInvalidConfig))
	}
	if o.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if o.OpenCost < 0 || o.StartingCoins < 0 || o.StartingDust < 0 {
		errs = append(errs, fmt.Errorf("%w: open cost and starting balances must be >= 0", ledger.ErrNegativeAmount))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if o.RNG == nil {
		o.RNG = gacha.DefaultRNG()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.HistoryCapacity <= 0 {
		o.HistoryCapacity = ledger.DefaultHistoryCapacity
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 5 * time.Second
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 500 * time.Millisecond
	}
	if o.RetryMax < o.RetryInitial {
		o.RetryMax = 30 * time.Second
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = 10 * time.Minute
	}
	return nil
}

// Engine owns the ledger, wallet and history. It is Idle or Opening; opens
// are strictly sequential and a second OpenOne while Opening fails with ErrBusy.
//
// Persistence is write-through: every mutation is saved before the call
// returns. A failed save does not undo the mutation; the engine stays dirty
// and a background loop keeps saving the latest state with backoff.
type Engine struct {
	opts   Options
	roller *gacha.Roller
	log    *zap.Logger

	mu      sync.Mutex // guards everything below
	ledger  *ledger.Ledger
	wallet  *ledger.Wallet
	history *ledger.History
	opening bool

	saveMu  sync.Mutex // serializes Store.Save
	dirty   atomic.Bool
	retryCh chan struct{}
	stop    context.CancelFunc
	done    chan struct{}
	closed  atomic.Bool
}

// New builds the roller, restores persisted state (defaults when none exists)
// and starts the save retry loop. Configuration errors are returned as is and
// wrap catalog.ErrInvalidConfig.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	roller, err := gacha.NewRoller(opts.Catalog, opts.Catalog.Table())
	if err != nil {
		return nil, err
	}
	wallet, err := ledger.NewWallet(opts.StartingCoins, opts.StartingDust)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:    opts,
		roller:  roller,
		log:     opts.Logger,
		ledger:  ledger.NewLedger(),
		wallet:  wallet,
		history: ledger.NewHistory(opts.HistoryCapacity),
		retryCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if err := e.restore(ctx); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.stop = cancel
	go e.retryLoop(loopCtx)
	return e, nil
}

// OpenOne spends OpenCost coins and returns exactly one pull.
//
// ErrInsufficientFunds and ErrBusy leave all state untouched. Once coins are
// debited the open always completes; ctx cancellation after that point does
// not abort the save.
func (e *Engine) OpenOne(ctx context.Context) (PullResult, error) {
	if err := ctx.Err(); err != nil {
		return PullResult{}, err
	}

	e.mu.Lock()
	if e.opening {
		e.mu.Unlock()
		return PullResult{}, ErrBusy
	}
	cost := e.opts.OpenCost
	if !e.wallet.CanAfford(cost) {
		coins := e.wallet.Coins()
		e.mu.Unlock()
		return PullResult{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, coins, cost)
	}
	e.opening = true
	if err := e.wallet.Debit(cost); err != nil {
		e.opening = false
		e.mu.Unlock()
		return PullResult{}, err
	}

	entry := e.roller.Roll(e.opts.RNG)
	wasDuplicate := e.ledger.IsDuplicate(entry.ElementNumber)
	newCount := e.ledger.RecordPull(entry.ElementNumber)
	dust := 0
	if wasDuplicate {
		dust = e.opts.Catalog.Table().DustValue(entry.Rarity)
	}
	if err := e.wallet.CreditDust(dust); err != nil {
		// dust is already at the ceiling; the pull still counts
		e.log.Warn("dust not credited", zap.Int("dust_value", dust), zap.Error(err))
		dust = 0
	}
	res := PullResult{
		ID:                  uuid.New(),
		Entry:               entry,
		IsDuplicate:         wasDuplicate,
		DuplicateCountAfter: newCount,
		DustAwarded:         dust,
		PulledAt:            e.opts.Now().UTC(),
	}
	e.history.Push(res)
	coins := e.wallet.Coins()
	e.mu.Unlock()

	e.persist(ctx, "open")

	e.mu.Lock()
	e.opening = false
	e.mu.Unlock()

	e.log.Debug("pack opened",
		zap.Int("element", entry.ElementNumber),
		zap.String("symbol", entry.Symbol),
		zap.String("rarity", string(entry.Rarity)),
		zap.Bool("duplicate", wasDuplicate),
		zap.Int("count_after", newCount),
		zap.Int("dust_awarded", dust),
		zap.Int("coins", coins),
	)
	return res, nil
}

// ResetProgress restores starting balances, clears the collection and the
// history, and saves. It is rejected with ErrBusy while an open is in flight.
// Calling it twice yields the same state as calling it once.
func (e *Engine) ResetProgress(ctx context.Context) error {
	e.mu.Lock()
	if e.opening {
		e.mu.Unlock()
		return ErrBusy
	}
	e.ledger.Reset()
	_ = e.wallet.Reset(e.opts.StartingCoins, e.opts.StartingDust) // validated in New
	e.history.Clear()
	e.mu.Unlock()

	e.persist(ctx, "reset")
	e.log.Info("lab progress reset",
		zap.Int("coins", e.opts.StartingCoins),
		zap.Int("dust", e.opts.StartingDust),
	)
	return nil
}

// GrantCoins adds coins. The engine does not decide who may grant; callers
// must gate it. A grant that would overflow the balance fails with ErrOverflow
// and changes nothing.
func (e *Engine) GrantCoins(ctx context.Context, amount int) error {
	e.mu.Lock()
	if err := e.wallet.GrantCoins(amount); err != nil {
		e.mu.Unlock()
		return err
	}
	coins := e.wallet.Coins()
	e.mu.Unlock()

	e.persist(ctx, "grant")
	e.log.Info("coins granted", zap.Int("amount", amount), zap.Int("coins", coins))
	return nil
}

// Close stops the retry loop and makes one last save attempt if the latest
// state has not been persisted. That save honors ctx's deadline.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.stop()
	<-e.done
	if !e.dirty.Load() {
		return nil
	}
	if err := e.save(ctx); err != nil {
		return fmt.Errorf("final lab save: %w", err)
	}
	return nil
}

// restore loads persisted state. Entries that no longer exist in the catalog
// are dropped with a warning so uniqueCount never exceeds the catalog size.
func (e *Engine) restore(ctx context.Context) error {
	st, err := e.opts.Store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Info("no saved lab state, starting fresh",
			zap.Int("coins", e.opts.StartingCoins),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading lab state: %w", err)
	}
	st, err = storage.Migrate(st)
	if err != nil {
		return err
	}

	if err := e.wallet.Reset(st.Coins, st.Dust); err != nil {
		return fmt.Errorf("restoring wallet: %w", err)
	}

	owned := make(map[int]int, len(st.Owned))
	for n, c := range st.Owned {
		if _, ok := e.opts.Catalog.Lookup(n); !ok {
			e.log.Warn("dropping owned count for unknown element", zap.Int("element", n), zap.Int("count", c))
			continue
		}
		owned[n] = c
	}
	if err := e.ledger.Restore(owned); err != nil {
		return fmt.Errorf("restoring collection: %w", err)
	}

	// Recent is newest first; push oldest first to keep that order.
	for i := len(st.Recent) - 1; i >= 0; i-- {
		rec := st.Recent[i]
		entry, ok := e.opts.Catalog.Lookup(rec.ElementNumber)
		if !ok {
			e.log.Warn("dropping recent pull for unknown element", zap.Int("element", rec.ElementNumber))
			continue
		}
		id, err := uuid.Parse(rec.ID)
		if err != nil {
			id = uuid.New()
		}
		e.history.Push(PullResult{
			ID:                  id,
			Entry:               entry,
			IsDuplicate:         rec.IsDuplicate,
			DuplicateCountAfter: rec.DuplicateCountAfter,
			DustAwarded:         rec.DustAwarded,
			PulledAt:            rec.PulledAt,
		})
	}

	stats := e.ledger.Stats()
	e.log.Info("lab state restored",
		zap.Int("coins", st.Coins),
		zap.Int("dust", st.Dust),
		zap.Int("unique", stats.Unique),
		zap.Int("recent", e.history.Len()),
	)
	return nil
}
