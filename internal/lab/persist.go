package lab

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/xtding233/gratonite-lab/internal/storage"
)

// persist saves the latest state and, on failure, hands the work to the
// retry loop. The caller's mutation stands either way.
func (e *Engine) persist(ctx context.Context, op string) {
	// the mutation already happened; a caller hanging up must not skip its save
	if err := e.save(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn("lab save failed, will retry",
			zap.String("op", op),
			zap.Error(err),
		)
		select {
		case e.retryCh <- struct{}{}:
		default: // a retry is already queued
		}
	}
}

// save writes a snapshot taken under saveMu, so a later save never writes
// older state than an earlier one. The write is a full overwrite and is bounded
// by SaveTimeout or ctx's deadline, whichever comes first.
func (e *Engine) save(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	st := e.state()
	sctx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
	defer cancel()
	if err := e.opts.Store.Save(sctx, st); err != nil {
		e.dirty.Store(true)
		return err
	}
	e.dirty.Store(false)
	return nil
}

// retryLoop saves in bursts of exponential backoff. A burst that gives up
// re-arms itself after RetryMax while the state is still dirty, so a store
// that recovers during an idle period is still caught up.
func (e *Engine) retryLoop(ctx context.Context) {
	defer close(e.done)
	var rearm <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.retryCh:
		case <-rearm:
		}
		rearm = nil
		if !e.dirty.Load() {
			continue
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.opts.RetryInitial
		b.MaxInterval = e.opts.RetryMax

		attempts := 0
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			if !e.dirty.Load() {
				return struct{}{}, nil
			}
			attempts++
			return struct{}{}, e.save(ctx)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(e.opts.RetryMaxElapsed),
			backoff.WithNotify(func(err error, next time.Duration) {
				e.log.Debug("lab save retry scheduled", zap.Error(err), zap.Duration("next", next))
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Error("lab save retries exhausted, state kept in memory",
				zap.Int("attempts", attempts),
				zap.Duration("next_burst", e.opts.RetryMax),
				zap.Error(err),
			)
			rearm = time.After(e.opts.RetryMax)
			continue
		}
		if attempts > 0 {
			e.log.Info("lab save recovered", zap.Int("attempts", attempts))
		}
	}
}

// state copies the engine state into its persisted shape.
func (e *Engine) state() storage.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	recent := e.history.Snapshot()
	records := make([]storage.PullRecord, len(recent))
	for i, r := range recent {
		records[i] = storage.PullRecord{
			ID:                  r.ID.String(),
			ElementNumber:       r.Entry.ElementNumber,
			IsDuplicate:         r.IsDuplicate,
			DuplicateCountAfter: r.DuplicateCountAfter,
			DustAwarded:         r.DustAwarded,
			PulledAt:            r.PulledAt,
		}
	}
	return storage.State{
		Version: storage.CurrentVersion,
		Coins:   e.wallet.Coins(),
		Dust:    e.wallet.Dust(),
		Owned:   e.ledger.Owned(),
		Recent:  records,
	}
}
