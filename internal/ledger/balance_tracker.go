package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientFunds is returned when a batch would drive a user or
	// system account below zero.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrBalanceOverflow is returned when a balance leaves the int64 range.
	ErrBalanceOverflow = errors.New("ledger: balance overflow")
)

// BalanceTracker maintains in-memory account balances.
// External accounts may go negative (they mirror value entering or leaving
// the system); every other account is kept non-negative.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyBatch applies all journals in a batch atomically: either every entry
// is applied or the tracker is left untouched.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[AccountKey]int64, len(batch.Journals)*2)
	get := func(k AccountKey) int64 {
		if v, ok := staged[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, j := range batch.Journals {
		amount := int64(j.Amount)

		debit := get(j.DebitAccount)
		if debit > math.MaxInt64-amount {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, j.DebitAccount.AccountPath())
		}
		staged[j.DebitAccount] = debit + amount

		credit := get(j.CreditAccount)
		if credit < math.MinInt64+amount {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, j.CreditAccount.AccountPath())
		}
		staged[j.CreditAccount] = credit - amount
	}

	for key, balance := range staged {
		if balance < 0 && !key.IsExternal() {
			return fmt.Errorf("%w: %s would be %d", ErrInsufficientFunds, key.AccountPath(), balance)
		}
	}

	for key, balance := range staged {
		if balance == 0 {
			delete(bt.balances, key)
			continue
		}
		bt.balances[key] = balance
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// Available returns the non-negative balance of an account as base units.
func (bt *BalanceTracker) Available(key AccountKey) uint64 {
	if b := bt.balances[key]; b > 0 {
		return uint64(b)
	}
	return 0
}

// GetWalletBalance returns an owner's wallet balance for an asset.
func (bt *BalanceTracker) GetWalletBalance(owner uuid.UUID, assetID AssetID) uint64 {
	return bt.Available(Wallet(owner, assetID))
}

// ValidateSufficient checks that an account holds at least required units.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required uint64) error {
	if have := bt.Available(key); have < required {
		return fmt.Errorf("%w: %s have=%d need=%d", ErrInsufficientFunds, key.AccountPath(), have, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset. A zero-sum
// ledger yields zero for every asset.
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// OwnerBalances returns every non-zero account belonging to an owner.
func (bt *BalanceTracker) OwnerBalances(owner uuid.UUID) map[AccountKey]int64 {
	out := make(map[AccountKey]int64)
	for k, v := range bt.balances {
		if k.Scope == AccountScopeUser && uuid.UUID(k.EntityID) == owner {
			out[k] = v
		}
	}
	return out
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances, used when loading a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		if v != 0 {
			bt.balances[k] = v
		}
	}
}
