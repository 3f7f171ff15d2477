package ledger

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInsufficientFunds is returned by Debit when coins < cost.
	ErrInsufficientFunds = errors.New("not enough coins")
	// ErrNegativeAmount is returned for negative costs, grants or balances.
	ErrNegativeAmount = errors.New("amount must be >= 0")
	// ErrOverflow is returned when a credit would exceed the largest balance.
	ErrOverflow = errors.New("balance would overflow")
)

// Wallet holds the two lab currencies.
//
// Invariant: Coins and Dust are never negative.
type Wallet struct {
	coins int
	dust  int
}

// NewWallet returns a wallet with the given starting balances.
func NewWallet(coins, dust int) (*Wallet, error) {
	w := &Wallet{}
	if err := w.Reset(coins, dust); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) Coins() int { return w.coins }
func (w *Wallet) Dust() int { return w.dust }

func (w *Wallet) CanAfford(cost int) bool { return cost >= 0 && w.coins >= cost }

// Debit removes cost coins or fails without touching the balance.
func (w *Wallet) Debit(cost int) error {
	if cost < 0 {
		return fmt.Errorf("%w: cost %d", ErrNegativeAmount, cost)
	}
	if !w.CanAfford(cost) {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, w.coins, cost)
	}
	w.coins -= cost
	return nil
}

// CreditDust adds amount dust. Zero is a no-op.
func (w *Wallet) CreditDust(amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: dust %d", ErrNegativeAmount, amount)
	}
	if amount > math.MaxInt-w.dust {
		return fmt.Errorf("%w: dust %d + %d", ErrOverflow, w.dust, amount)
	}
	w.dust += amount
	return nil
}

// GrantCoins adds amount coins. Who may call it is decided by the caller, not
// the wallet; the wallet only refuses credits that would wrap the balance.
func (w *Wallet) GrantCoins(amount int) error {
	if amount < 0 {
		return fmt.Errorf("%w: grant %d", ErrNegativeAmount, amount)
	}
	if amount > math.MaxInt-w.coins {
		return fmt.Errorf("%w: coins %d + %d", ErrOverflow, w.coins, amount)
	}
	w.coins += amount
	return nil
}

// Reset sets both balances, e.g. to configured defaults or a loaded snapshot.
func (w *Wallet) Reset(coins, dust int) error {
	if coins < 0 || dust < 0 {
		return fmt.Errorf("%w: coins=%d dust=%d", ErrNegativeAmount, coins, dust)
	}
	w.coins, w.dust = coins, dust
	return nil
}
