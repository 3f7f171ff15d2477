package lab

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xtding233/gratonite-lab/internal/catalog"
	"github.com/xtding233/gratonite-lab/internal/gacha"
	"github.com/xtding233/gratonite-lab/internal/storage"
	"github.com/xtding233/gratonite-lab/internal/storage/memory"
)

func testCatalog(t testing.TB) *catalog.Catalog {
	t.Helper()
	table, err := catalog.NewTable([]catalog.RarityMeta{
		{Rarity: catalog.Common, Weight: 70, DustValue: 5},
		{Rarity: catalog.Rare, Weight: 25, DustValue: 20},
		{Rarity: catalog.Legendary, Weight: 5, DustValue: 100},
	})
	require.NoError(t, err)
	cat, err := catalog.New([]catalog.Entry{
		{ElementNumber: 1, Rarity: catalog.Common, Symbol: "H"},
		{ElementNumber: 2, Rarity: catalog.Common, Symbol: "He"},
		{ElementNumber: 3, Rarity: catalog.Rare, Symbol: "Li"},
		{ElementNumber: 4, Rarity: catalog.Legendary, Symbol: "Be"},
	}, table)
	require.NoError(t, err)
	return cat
}

// alwaysFirst forces every roll onto element 1 (first common).
func alwaysFirst() gacha.RandomSource {
	return gacha.FuncRNG(func() float64 { return 0 })
}

func testOptions(t testing.TB, store storage.Store) Options {
	return Options{
		Catalog:         testCatalog(t),
		Store:           store,
		RNG:             alwaysFirst(),
		Now:             func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
		OpenCost:        100,
		StartingCoins:   1000,
		HistoryCapacity: 20,
		RetryInitial:    time.Millisecond,
		RetryMax:        5 * time.Millisecond,
	}
}

func newEngine(t testing.TB, opts Options) *Engine {
	t.Helper()
	e, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// blockingStore parks every Save until release is closed.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Save(ctx context.Context, st storage.State) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Save(ctx, st)
}

// toggleStore fails Save while fail is set.
type toggleStore struct {
	*memory.Store
	fail     atomic.Bool
	attempts atomic.Int32
}

func (s *toggleStore) Save(ctx context.Context, st storage.State) error {
	s.attempts.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, st)
}

func TestOpenOneFreshState(t *testing.T) {
	store := memory.New()
	e := newEngine(t, testOptions(t, store))
	ctx := context.Background()

	res, err := e.OpenOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entry.ElementNumber)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, 1, res.DuplicateCountAfter)
	assert.Equal(t, 0, res.DustAwarded)
	assert.NotEqual(t, [16]byte{}, [16]byte(res.ID))

	assert.Equal(t, 900, e.Coins())
	assert.Equal(t, 1, e.UniqueCount())
	assert.Equal(t, 1, e.TotalOwned())
	assert.Equal(t, 0, e.DuplicateCount())
	assert.InDelta(t, 25.0, e.CompletionPct(), 1e-9)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 900, saved.Coins)
	assert.Equal(t, map[int]int{1: 1}, saved.Owned)
	require.Len(t, saved.Recent, 1)
	assert.Equal(t, res.ID.String(), saved.Recent[0].ID)
}

func TestOpenOneDuplicateAwardsDust(t *testing.T) {
	e := newEngine(t, testOptions(t, memory.New()))
	ctx := context.Background()

	_, err := e.OpenOne(ctx)
	require.NoError(t, err)
	res, err := e.OpenOne(ctx)
	require.NoError(t, err)

	assert.True(t, res.IsDuplicate)
	assert.Equal(t, 2, res.DuplicateCountAfter)
	assert.Equal(t, 5, res.DustAwarded)
	assert.Equal(t, 5, e.Dust())
	assert.Equal(t, 800, e.Coins())
	assert.Equal(t, 1, e.UniqueCount())
	assert.Equal(t, 2, e.TotalOwned())
	assert.Equal(t, 1, e.DuplicateCount())

	last, ok := e.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)
	assert.Len(t, e.Recent(), 2)
}

func TestOpenOneInsufficientFunds(t *testing.T) {
	store := memory.New()
	opts := testOptions(t, store)
	opts.StartingCoins = 50
	e := newEngine(t, opts)

	assert.False(t, e.CanOpen())
	_, err := e.OpenOne(context.Background())
	require.ErrorIs(t, err, ErrInsufficientFunds)

	v := e.Snapshot()
	assert.Equal(t, 50, v.Coins)
	assert.Equal(t, 0, v.TotalOwned)
	assert.Empty(t, v.Recent)
	assert.Nil(t, v.LastResult)
	assert.Equal(t, 0, store.Saves())
}

func TestGrantCoins(t *testing.T) {
	opts := testOptions(t, memory.New())
	opts.StartingCoins = 0
	e := newEngine(t, opts)
	ctx := context.Background()

	require.NoError(t, e.GrantCoins(ctx, 1000))
	v := e.Snapshot()
	assert.Equal(t, 1000, v.Coins)
	assert.Equal(t, 0, v.Dust)
	assert.Equal(t, 0, v.TotalOwned)
	assert.Empty(t, v.Recent)
	assert.True(t, v.CanOpen)

	assert.Error(t, e.GrantCoins(ctx, -5))
	assert.Equal(t, 1000, e.Coins())
}

func TestResetProgressIdempotent(t *testing.T) {
	store := memory.New()
	e := newEngine(t, testOptions(t, store))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.OpenOne(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, e.ResetProgress(ctx))
	once := e.Snapshot()
	require.NoError(t, e.ResetProgress(ctx))
	twice := e.Snapshot()

	assert.Equal(t, once, twice)
	assert.Equal(t, 1000, twice.Coins)
	assert.Equal(t, 0, twice.Dust)
	assert.Equal(t, 0, twice.TotalOwned)
	assert.Empty(t, twice.Recent)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved.Owned)
	assert.Empty(t, saved.Recent)
	assert.Equal(t, 1000, saved.Coins)
}

func TestOpenOneBusyWhileSaving(t *testing.T) {
	store := &blockingStore{
		Store:   memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := newEngine(t, testOptions(t, store))
	ctx := context.Background()

	type outcome struct {
		res PullResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := e.OpenOne(ctx)
		first <- outcome{res, err}
	}()
	<-store.entered

	assert.False(t, e.CanOpen())
	assert.True(t, e.Snapshot().Opening)
	_, err := e.OpenOne(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, e.ResetProgress(ctx), ErrBusy)
	assert.Equal(t, 900, e.Coins(), "rejected open must not debit")

	close(store.release)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.res.DuplicateCountAfter)
	assert.Equal(t, 900, e.Coins())
	assert.Equal(t, 1, e.TotalOwned())
	assert.True(t, e.CanOpen())
}

func TestOpenOneSaveFailureIsRetried(t *testing.T) {
	store := &toggleStore{Store: memory.New()}
	store.fail.Store(true)
	e := newEngine(t, testOptions(t, store))
	ctx := context.Background()

	res, err := e.OpenOne(ctx)
	require.NoError(t, err, "a failed save must not fail the pull")
	assert.Equal(t, 1, res.DuplicateCountAfter)
	assert.Equal(t, 900, e.Coins())
	assert.True(t, e.PendingSave())

	store.fail.Store(false)
	require.Eventually(t, func() bool { return !e.PendingSave() }, 2*time.Second, 5*time.Millisecond)

	saved, err := store.Store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 900, saved.Coins)
	assert.Equal(t, map[int]int{1: 1}, saved.Owned)
}

func TestCloseFlushesPendingState(t *testing.T) {
	store := &toggleStore{Store: memory.New()}
	store.fail.Store(true)
	opts := testOptions(t, store)
	opts.RetryInitial = time.Hour
	opts.RetryMax = time.Hour
	e, err := New(context.Background(), opts)
	require.NoError(t, err)

	_, err = e.OpenOne(context.Background())
	require.NoError(t, err)
	require.True(t, e.PendingSave())

	store.fail.Store(false)
	require.NoError(t, e.Close(context.Background()))
	assert.False(t, e.PendingSave())

	saved, err := store.Store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 900, saved.Coins)
	assert.NoError(t, e.Close(context.Background()), "second close is a no-op")
}

func TestRetryResumesAfterBurstGivesUp(t *testing.T) {
	store := &toggleStore{Store: memory.New()}
	store.fail.Store(true)
	opts := testOptions(t, store)
	opts.RetryMaxElapsed = 20 * time.Millisecond
	e := newEngine(t, opts)
	ctx := context.Background()

	_, err := e.OpenOne(ctx)
	require.NoError(t, err)

	// let the first burst run out while the store is still down
	time.Sleep(100 * time.Millisecond)
	require.True(t, e.PendingSave())

	store.fail.Store(false)
	require.Eventually(t, func() bool { return !e.PendingSave() }, 2*time.Second, 5*time.Millisecond)

	saved, err := store.Store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 900, saved.Coins)
	assert.Equal(t, map[int]int{1: 1}, saved.Owned)
}

func TestCloseHonorsCallerDeadline(t *testing.T) {
	store := &toggleStore{Store: memory.New()}
	store.fail.Store(true)
	opts := testOptions(t, store)
	opts.RetryInitial = time.Hour
	opts.RetryMax = time.Hour
	e, err := New(context.Background(), opts)
	require.NoError(t, err)

	_, err = e.OpenOne(context.Background())
	require.NoError(t, err)
	require.True(t, e.PendingSave())

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	err = e.Close(expired)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.PendingSave())
}

func TestGrantCoinsOverflowIsRejected(t *testing.T) {
	store := memory.New()
	opts := testOptions(t, store)
	e := newEngine(t, opts)
	ctx := context.Background()

	err := e.GrantCoins(ctx, math.MaxInt)
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 1000, e.Coins())
	assert.True(t, e.CanOpen())
	assert.Equal(t, 0, store.Saves(), "a refused grant is not saved")

	require.NoError(t, e.GrantCoins(ctx, math.MaxInt-1000))
	assert.Equal(t, math.MaxInt, e.Coins())
	require.NoError(t, e.Close(ctx))

	again, err := New(ctx, opts)
	require.NoError(t, err, "saved state must reload")
	defer again.Close(ctx)
	assert.Equal(t, math.MaxInt, again.Coins())
	assert.ErrorIs(t, again.GrantCoins(ctx, 1), ErrOverflow)
}

func TestRestoreFromStore(t *testing.T) {
	store := memory.Seed(storage.State{
		Version: 1,
		Coins:   300,
		Dust:    40,
		Owned:   map[int]int{1: 3, 3: 1, 999: 2},
		Recent: []storage.PullRecord{
			{ID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", ElementNumber: 1, IsDuplicate: true, DuplicateCountAfter: 3, DustAwarded: 5},
			{ElementNumber: 999, DuplicateCountAfter: 2},
			{ElementNumber: 3, DuplicateCountAfter: 1},
		},
	})
	e := newEngine(t, testOptions(t, store))

	v := e.Snapshot()
	assert.Equal(t, 300, v.Coins)
	assert.Equal(t, 40, v.Dust)
	assert.Equal(t, 2, v.UniqueCount, "unknown element 999 is dropped")
	assert.Equal(t, 4, v.TotalOwned)
	require.Len(t, v.Recent, 2)
	assert.Equal(t, 1, v.Recent[0].Entry.ElementNumber)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", v.Recent[0].ID.String())
	assert.Equal(t, 3, v.Recent[1].Entry.ElementNumber)
	assert.Equal(t, "H", v.LastResult.Entry.Symbol)

	res, err := e.OpenOne(context.Background())
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, 4, res.DuplicateCountAfter)
}

func TestHistoryRoundTripsThroughStore(t *testing.T) {
	store := memory.New()
	opts := testOptions(t, store)
	opts.HistoryCapacity = 2
	e := newEngine(t, opts)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		res, err := e.OpenOne(ctx)
		require.NoError(t, err)
		ids = append(ids, res.ID.String())
	}
	require.NoError(t, e.Close(ctx))

	again := newEngine(t, opts)
	recent := again.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID.String())
	assert.Equal(t, ids[1], recent[1].ID.String())
	assert.Equal(t, 3, again.OwnedCount(1))
}

func TestNewRejectsBadState(t *testing.T) {
	_, err := New(context.Background(), testOptions(t, memory.Seed(storage.State{Version: 99})))
	assert.ErrorIs(t, err, storage.ErrUnsupportedVersion)

	_, err = New(context.Background(), testOptions(t, memory.Seed(storage.State{Version: 1, Coins: -1})))
	assert.Error(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	opts := testOptions(t, memory.New())
	opts.Catalog = nil
	_, err := New(context.Background(), opts)
	assert.ErrorIs(t, err, catalog.ErrInvalidConfig)

	opts = testOptions(t, nil)
	_, err = New(context.Background(), opts)
	assert.Error(t, err)

	opts = testOptions(t, memory.New())
	opts.OpenCost = -1
	_, err = New(context.Background(), opts)
	assert.Error(t, err)
}

func TestOpenOneCanceledContextChangesNothing(t *testing.T) {
	e := newEngine(t, testOptions(t, memory.New()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.OpenOne(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1000, e.Coins())
}

func TestPropertyEngineInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		opts := testOptions(t, memory.New())
		opts.RNG = gacha.NewSeededRNG(rapid.Uint64().Draw(rt, "seed"))
		opts.StartingCoins = rapid.IntRange(0, 2000).Draw(rt, "coins")
		opts.OpenCost = rapid.IntRange(0, 300).Draw(rt, "cost")
		e, err := New(context.Background(), opts)
		if err != nil {
			rt.Fatal(err)
		}
		defer e.Close(context.Background())
		ctx := context.Background()
		table := opts.Catalog.Table()

		expectedCoins := opts.StartingCoins
		counts := map[int]int{}
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"open", "open", "open", "grant"}), 1, 40).Draw(rt, "ops")
		for _, op := range ops {
			switch op {
			case "grant":
				if err := e.GrantCoins(ctx, 150); err != nil {
					rt.Fatal(err)
				}
				expectedCoins += 150
			case "open":
				res, err := e.OpenOne(ctx)
				if errors.Is(err, ErrInsufficientFunds) {
					if expectedCoins >= opts.OpenCost {
						rt.Fatalf("rejected with %d coins, cost %d", expectedCoins, opts.OpenCost)
					}
					continue
				}
				if err != nil {
					rt.Fatal(err)
				}
				expectedCoins -= opts.OpenCost
				n := res.Entry.ElementNumber
				if res.IsDuplicate != (counts[n] > 0) {
					rt.Fatalf("duplicate flag %v with prior count %d", res.IsDuplicate, counts[n])
				}
				counts[n]++
				if res.DuplicateCountAfter != counts[n] || res.DuplicateCountAfter < 1 {
					rt.Fatalf("count after %d, want %d", res.DuplicateCountAfter, counts[n])
				}
				wantDust := 0
				if res.IsDuplicate {
					wantDust = table.DustValue(res.Entry.Rarity)
				}
				if res.DustAwarded != wantDust {
					rt.Fatalf("dust %d, want %d", res.DustAwarded, wantDust)
				}
			}
			if c := e.Coins(); c != expectedCoins || c < 0 {
				rt.Fatalf("coins %d, want %d", c, expectedCoins)
			}
			for n, c := range counts {
				if e.OwnedCount(n) != c {
					rt.Fatalf("element %d owned %d, want %d", n, e.OwnedCount(n), c)
				}
			}
			if e.UniqueCount() > opts.Catalog.Size() {
				rt.Fatalf("unique %d exceeds catalog", e.UniqueCount())
			}
		}
	})
}
