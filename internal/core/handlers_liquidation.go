package core

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

// handlePermissionlessLiquidation lets any caller repay part of a position
// in the permissionless band and seize collateral worth the repayment plus
// the liquidation bonus.
func (c *DeterministicCore) handlePermissionlessLiquidation(tx *txn, evt *event.PermissionlessLiquidation) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	if !pos.Status.IsOpen() {
		return state.ErrInvalidStatus
	}
	decimals, err := assetDecimals(pos.CollateralAsset)
	if err != nil {
		return err
	}

	q, err := state.QuotePermissionless(tx.params(), pos, evt.Pct, decimals)
	if err != nil {
		return err
	}

	liquidator := evt.Caller
	tx.b.Transfer(ledger.Wallet(liquidator, c.poolAsset), poolLiquidity(c.poolAsset), q.DebtToRepay, ledger.JournalTypeLiquidationRepay)
	tx.b.Transfer(custody(pos.CollateralAsset), ledger.Wallet(liquidator, pos.CollateralAsset), q.SeizeUnits, ledger.JournalTypeLiquidationSeize)

	full, err := pos.ApplyPermissionless(q)
	if err != nil {
		return err
	}
	pool := tx.liquidityPool()
	if _, err := pool.Release(q.PrincipalRepaid, q.MarkupRepaid); err != nil {
		return err
	}

	var shortfall uint64
	if full {
		shortfall = pos.DeferredPayment
		// collateral left after a full repayment goes back to the owner;
		// principal left after the collateral ran out is a pool loss
		tx.b.Transfer(custody(pos.CollateralAsset), ledger.Wallet(pos.Owner, pos.CollateralAsset), pos.CollateralAmount, ledger.JournalTypeCollateralReturn)
		pool.RecordLoss(pos.FinancingAmount)
		pos.CollateralAmount = 0
		tx.releaseSlot(pos.Owner)
		tx.reclaim(pos.Key())
	}

	tx.outcome = &LiquidationOutcome{
		Kind:             LiquidationKindPermissionless,
		Owner:            pos.Owner,
		Index:            pos.Index,
		Liquidator:       liquidator,
		DebtRepaid:       q.DebtToRepay,
		CollateralSeized: q.SeizeUnits,
		Bonus:            q.Bonus,
		Shortfall:        shortfall,
		FullyLiquidated:  full,
	}
	tx.after(func() { c.recordLiquidation(tx.outcome) })
	return nil
}

// handleForcedLiquidation sells collateral at the supplied price to clear
// the full debt plus the forced-liquidation fee. Admin only.
func (c *DeterministicCore) handleForcedLiquidation(tx *txn, evt *event.ForcedLiquidation) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.requireAdmin(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	if !pos.Status.IsOpen() {
		return state.ErrInvalidStatus
	}
	decimals, err := assetDecimals(pos.CollateralAsset)
	if err != nil {
		return err
	}

	q, err := state.QuoteForced(tx.params(), pos, evt.CurrentPrice, decimals)
	if err != nil {
		return err
	}

	proceeds, err := c.exchange.Sell(tx.b, custody(pos.CollateralAsset), poolLiquidity(c.poolAsset), q.SoldUnits, evt.CurrentPrice)
	if err != nil {
		return err
	}
	if proceeds != q.GrossProceeds {
		return fmt.Errorf("%w: sale filled %d, quoted %d", state.ErrMathOverflow, proceeds, q.GrossProceeds)
	}
	tx.b.Transfer(poolLiquidity(c.poolAsset), protocolFees(c.poolAsset), q.ProtocolFee, ledger.JournalTypeLiquidationFee)
	tx.b.Transfer(custody(pos.CollateralAsset), ledger.Wallet(pos.Owner, pos.CollateralAsset), q.ReturnedUnits, ledger.JournalTypeCollateralReturn)

	pool := tx.liquidityPool()
	if _, err := pool.Release(q.PrincipalRepaid, q.MarkupRepaid); err != nil {
		return err
	}
	pool.RecordLoss(q.LostPrincipal)

	pos.CollateralAmount = 0
	pos.CollateralValue = 0
	pos.CollateralPrice = evt.CurrentPrice
	pos.FinancingAmount = q.LostPrincipal
	pos.MarkupAmount = 0
	pos.DeferredPayment = q.Shortfall
	pos.CurrentLtv = q.Ltv
	if err := pos.TransitionTo(state.PositionStatusLiquidated); err != nil {
		return err
	}
	tx.releaseSlot(pos.Owner)
	tx.reclaim(pos.Key())

	tx.outcome = &LiquidationOutcome{
		Kind:             LiquidationKindForced,
		Owner:            pos.Owner,
		Index:            pos.Index,
		Liquidator:       evt.Caller,
		DebtRepaid:       q.Repaid,
		CollateralSeized: q.SoldUnits,
		ProtocolFee:      q.ProtocolFee,
		OwnerReturn:      q.ReturnedUnits,
		Shortfall:        q.Shortfall,
		FullyLiquidated:  true,
	}
	tx.after(func() { c.recordLiquidation(tx.outcome) })
	return nil
}

// handleSnapshotFreeze freezes a price for the owner's next executor
// liquidation. Anyone may freeze from a price source that an open position
// of the owner lists for its collateral asset, provided the position's
// other fresh sources agree. An explicit price needs the admin or the
// owner's registered liquidator.
func (c *DeterministicCore) handleSnapshotFreeze(tx *txn, evt *event.SnapshotFreeze) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if !c.hasOpenPosition(evt.Owner) {
		return state.ErrPositionNotFound
	}
	rec := tx.record(evt.Owner)

	price := evt.Price
	if evt.SourceID != uuid.Nil {
		pos := c.pricedPosition(evt.Owner, evt.SourceID)
		if pos == nil {
			return state.ErrUnauthorizedPriceSource
		}
		p := tx.params()
		fresh, reading, err := oracle.FreshPrice(tx.priceBook(), evt.SourceID, evt.Slot, p.OracleStaleSlots, c.valueScale)
		if err != nil {
			return err
		}
		if reading.AssetID != pos.CollateralAsset {
			return fmt.Errorf("%w: source %s", oracle.ErrSourceAssetMismatch, evt.SourceID)
		}
		err = oracle.CheckConsistency(tx.priceBook(), fresh, pos.CollateralAsset, pos.PriceSources, evt.Slot, p.OracleStaleSlots, p.OracleToleranceBps, c.valueScale)
		if err != nil {
			return err
		}
		price = fresh
	} else {
		if tx.requireAdmin() != nil && (rec.DelegatedLiquidator == uuid.Nil || evt.Caller != rec.DelegatedLiquidator) {
			return state.ErrUnauthorized
		}
		if err := oracle.ValidatePrice(price); err != nil {
			return err
		}
	}

	if err := rec.Freeze(tx.params(), evt.Slot, price); err != nil {
		return err
	}
	tx.putRecord(rec)
	return nil
}

// pricedPosition returns the owner's first open position that lists
// sourceID among its price sources.
func (c *DeterministicCore) pricedPosition(owner, sourceID uuid.UUID) *state.Position {
	for _, p := range c.positions.OwnerPositions(owner) {
		if p.Status.IsOpen() && p.IsPriceSource(sourceID) {
			return p
		}
	}
	return nil
}

func (c *DeterministicCore) hasOpenPosition(owner uuid.UUID) bool {
	for _, p := range c.positions.OwnerPositions(owner) {
		if p.Status.IsOpen() {
			return true
		}
	}
	return false
}

// handleLiquidationExecution executes against the frozen snapshot. Only
// the registered delegate may execute, once per snapshot.
func (c *DeterministicCore) handleLiquidationExecution(tx *txn, evt *event.LiquidationExecution) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	rec := tx.record(evt.Owner)
	if err := rec.Execute(tx.params(), evt.Caller, evt.Slot, evt.Ltv, evt.Threshold, evt.SlippageBps); err != nil {
		return err
	}
	tx.putRecord(rec)
	return nil
}

// handleProceedsDistribution splits an executed liquidation's proceeds.
// The caller pays the executor fee to the protocol and the rest to the
// owner from its own wallet.
func (c *DeterministicCore) handleProceedsDistribution(tx *txn, evt *event.ProceedsDistribution) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	rec := tx.record(evt.Owner)
	isDelegate := rec.DelegatedLiquidator != uuid.Nil && evt.Caller == rec.DelegatedLiquidator
	if !isDelegate && tx.requireAdmin() != nil {
		return state.ErrUnauthorized
	}

	res, err := rec.Distribute(tx.params(), evt.TotalProceeds)
	if err != nil {
		return err
	}
	tx.putRecord(rec)

	payer := ledger.Wallet(evt.Caller, c.poolAsset)
	tx.b.Transfer(payer, protocolFees(c.poolAsset), res.Fee, ledger.JournalTypeProceedsFee)
	if evt.Caller != evt.Owner {
		tx.b.Transfer(payer, ledger.Wallet(evt.Owner, c.poolAsset), res.OwnerReturn, ledger.JournalTypeProceedsReturn)
	}

	tx.outcome = &LiquidationOutcome{
		Kind:        LiquidationKindExecutor,
		Owner:       evt.Owner,
		Liquidator:  evt.Caller,
		DebtRepaid:  evt.TotalProceeds,
		ProtocolFee: res.Fee,
		OwnerReturn: res.OwnerReturn,
	}
	tx.after(func() { c.recordLiquidation(tx.outcome) })
	return nil
}

func (c *DeterministicCore) recordLiquidation(o *LiquidationOutcome) {
	if c.metrics == nil {
		return
	}
	c.metrics.Liquidations.WithLabelValues(o.Kind).Inc()
	if o.Shortfall > 0 {
		c.metrics.LiquidationShortfall.Add(float64(o.Shortfall))
	}
	if o.Kind == LiquidationKindExecutor {
		c.metrics.ExecutorFees.Add(float64(o.ProtocolFee))
	}
}
