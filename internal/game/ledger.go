package game

import (
	"context"
	"fmt"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
)

// Ledger credits and debits seed balances.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger bound to store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// AddSeeds credits amount to both the spendable and the lifetime balance.
func (l *Ledger) AddSeeds(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	account, err := l.account(ctx, userID)
	if err != nil {
		return 0, err
	}

	seeds := account.Seeds + amount
	lifetime := account.LifetimeSeeds + amount
	if err := l.store.UpdateCurrency(ctx, account.ID, account.Version, seeds, lifetime); err != nil {
		return 0, fmt.Errorf("credit seeds: %w", err)
	}
	return seeds, nil
}

// SpendSeeds debits amount from the spendable balance. The lifetime balance
// only ever counts earnings.
func (l *Ledger) SpendSeeds(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	account, err := l.account(ctx, userID)
	if err != nil {
		return 0, err
	}
	if account.Seeds < amount {
		return account.Seeds, ErrInsufficientFunds
	}

	seeds := account.Seeds - amount
	if err := l.store.UpdateCurrency(ctx, account.ID, account.Version, seeds, account.LifetimeSeeds); err != nil {
		return 0, fmt.Errorf("debit seeds: %w", err)
	}
	return seeds, nil
}

// Balance returns the current account of userID.
func (l *Ledger) Balance(ctx context.Context, userID string) (*models.CurrencyAccount, error) {
	return l.account(ctx, userID)
}

func (l *Ledger) account(ctx context.Context, userID string) (*models.CurrencyAccount, error) {
	account, err := l.store.GetCurrency(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load currency account: %w", err)
	}
	return account, nil
}
