package core

import (
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/state"
)

func (c *DeterministicCore) handleLiquidityDeposit(tx *txn, evt *event.LiquidityDeposit) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if _, err := tx.liquidityPool().Deposit(evt.Caller, evt.Amount); err != nil {
		return err
	}
	tx.b.Transfer(ledger.Wallet(evt.Caller, c.poolAsset), poolLiquidity(c.poolAsset), evt.Amount, ledger.JournalTypeLiquidityDeposit)
	return nil
}

func (c *DeterministicCore) handleLiquidityWithdrawal(tx *txn, evt *event.LiquidityWithdrawal) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	amount, err := tx.liquidityPool().Withdraw(evt.Caller, evt.Shares)
	if err != nil {
		return err
	}
	tx.b.Transfer(poolLiquidity(c.poolAsset), ledger.Wallet(evt.Caller, c.poolAsset), amount, ledger.JournalTypeLiquidityWithdrawal)
	return nil
}

// handleFinancingAllocation locks pool liquidity into the financing escrow
// outside of origination. Admin only.
func (c *DeterministicCore) handleFinancingAllocation(tx *txn, evt *event.FinancingAllocation) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.requireAdmin(); err != nil {
		return err
	}
	if err := tx.liquidityPool().Allocate(evt.Amount); err != nil {
		return err
	}
	tx.b.Transfer(poolLiquidity(c.poolAsset), financingEscrow(c.poolAsset), evt.Amount, ledger.JournalTypeEscrowAllocate)
	return nil
}

// handleFinancingRelease returns escrowed liquidity to the pool. The
// unlocked amount is clamped to what the pool has locked.
func (c *DeterministicCore) handleFinancingRelease(tx *txn, evt *event.FinancingRelease) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.requireAdmin(); err != nil {
		return err
	}
	if evt.Amount == 0 {
		return state.ErrZeroAmount
	}
	unlocked, err := tx.liquidityPool().Release(evt.Amount, 0)
	if err != nil {
		return err
	}
	tx.b.Transfer(financingEscrow(c.poolAsset), poolLiquidity(c.poolAsset), unlocked, ledger.JournalTypeEscrowRelease)
	return nil
}

func (c *DeterministicCore) handleBadDebtWriteOff(tx *txn, evt *event.BadDebtWriteOff) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pool := tx.liquidityPool()
	if err := pool.WriteOff(evt.Caller, evt.FinancingAmount, evt.BadDebt); err != nil {
		return err
	}
	// unlocking more than is written off would report cash the pool lacks
	if pool.Available() > c.balanceTracker.Available(poolLiquidity(c.poolAsset)) {
		return state.ErrInsufficientLiquidity
	}
	return nil
}

func (c *DeterministicCore) handlePoolPause(tx *txn, evt *event.PoolPause) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	return tx.liquidityPool().Pause(evt.Caller)
}

func (c *DeterministicCore) handlePoolUnpause(tx *txn, evt *event.PoolUnpause) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	return tx.liquidityPool().Unpause(evt.Caller)
}

func (c *DeterministicCore) handlePoolAuthorityMigration(tx *txn, evt *event.PoolAuthorityMigration) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	return tx.liquidityPool().MigrateAuthority(evt.Caller, evt.NewAuthority)
}
