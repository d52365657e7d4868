package core

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

func custody(asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeCollateralCustody, asset)
}

func poolLiquidity(asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypePoolLiquidity, asset)
}

func protocolFees(asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeProtocolFees, asset)
}

func financingEscrow(asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewSystemAccountKey(ledger.SubTypeFinancingEscrow, asset)
}

// handlePositionOpen originates a position: the collateral moves into
// custody, the pool funds the purchase and the financed asset is delivered
// to the owner's wallet.
func (c *DeterministicCore) handlePositionOpen(tx *txn, evt *event.PositionOpen) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	owner := evt.Caller
	if owner == uuid.Nil {
		return state.ErrUnauthorized
	}
	collateralAsset, collateralDecimals, err := resolveAsset(evt.CollateralAsset)
	if err != nil {
		return err
	}
	financedAsset, _, err := resolveAsset(evt.FinancedAsset)
	if err != nil {
		return err
	}

	terms := state.OriginationTerms{
		CollateralAmount:     evt.CollateralAmount,
		CollateralValue:      evt.CollateralValue,
		FinancingAmount:      evt.FinancingAmount,
		MarkupBps:            evt.MarkupBps,
		InitialLtv:           evt.InitialLtv,
		MaxLtv:               evt.MaxLtv,
		LiquidationThreshold: evt.LiquidationThreshold,
		TermStart:            evt.TermStart,
		TermEnd:              evt.TermEnd,
		PriceSources:         evt.PriceSources,
	}
	if err := state.ValidateOrigination(tx.params(), terms); err != nil {
		return err
	}
	quote, err := state.QuoteOrigination(terms)
	if err != nil {
		return err
	}
	if err := oracle.ValidatePrice(evt.PurchasePrice); err != nil {
		return err
	}
	collateralPrice, err := state.ImpliedPrice(evt.CollateralValue, evt.CollateralAmount, collateralDecimals)
	if err != nil {
		return err
	}

	counter := tx.counter(owner)
	index, err := counter.Reserve(tx.params().MaxOpenPositions)
	if err != nil {
		return err
	}
	tx.putCounter(counter)

	if err := tx.liquidityPool().Allocate(evt.FinancingAmount); err != nil {
		return err
	}

	tx.b.Transfer(ledger.Wallet(owner, collateralAsset), custody(collateralAsset), evt.CollateralAmount, ledger.JournalTypeCollateralLock)
	units, err := c.exchange.Buy(tx.b, poolLiquidity(c.poolAsset), ledger.Wallet(owner, financedAsset), evt.FinancingAmount, financedAsset, evt.PurchasePrice)
	if err != nil {
		return err
	}

	pos := &state.Position{
		Owner:                owner,
		Index:                index,
		CollateralAsset:      collateralAsset,
		CollateralAmount:     evt.CollateralAmount,
		CollateralValue:      evt.CollateralValue,
		CollateralPrice:      collateralPrice,
		FinancedAsset:        financedAsset,
		FinancedAmount:       units,
		PurchasePrice:        evt.PurchasePrice,
		FinancingAmount:      evt.FinancingAmount,
		MarkupBps:            evt.MarkupBps,
		MarkupAmount:         quote.MarkupAmount,
		DeferredPayment:      quote.DeferredPayment,
		InitialLtv:           evt.InitialLtv,
		MaxLtv:               evt.MaxLtv,
		LiquidationThreshold: evt.LiquidationThreshold,
		CurrentLtv:           quote.Ltv,
		TermStart:            evt.TermStart,
		TermEnd:              evt.TermEnd,
		PriceSources:         append([]uuid.UUID(nil), evt.PriceSources...),
		Status:               state.PositionStatusActive,
		OpenedAt:             c.sequence,
	}
	tx.putPosition(pos)

	tx.after(func() {
		if c.metrics != nil {
			c.metrics.PositionsOpened.Inc()
		}
	})
	return nil
}

// handleCollateralPriceUpdate revalues a position. Only the admin or one of
// the position's allow-listed price sources may submit a price.
func (c *DeterministicCore) handleCollateralPriceUpdate(tx *txn, evt *event.CollateralPriceUpdate) error {
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
	if tx.requireAdmin() != nil && !pos.IsPriceSource(evt.Caller) {
		return state.ErrUnauthorizedPriceSource
	}
	decimals, err := assetDecimals(pos.CollateralAsset)
	if err != nil {
		return err
	}
	return pos.Revalue(evt.Price, decimals)
}

// requireRepaymentFunds checks the owner's wallet holds the deferred
// payment in the pool asset. Closure does not move it.
func (c *DeterministicCore) requireRepaymentFunds(pos *state.Position) error {
	if err := c.balanceTracker.ValidateSufficient(ledger.Wallet(pos.Owner, c.poolAsset), pos.DeferredPayment); err != nil {
		return fmt.Errorf("%w: %v", state.ErrInsufficientBalanceForClosure, err)
	}
	return nil
}

// handleMaturityClose returns the collateral once the term has ended.
func (c *DeterministicCore) handleMaturityClose(tx *txn, evt *event.MaturityClose) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	if evt.Caller != pos.Owner {
		return state.ErrUnauthorized
	}
	if !pos.Status.IsOpen() {
		return state.ErrInvalidStatus
	}
	if tx.meta.Timestamp < pos.TermEnd {
		return state.ErrNotMatured
	}
	if err := c.requireRepaymentFunds(pos); err != nil {
		return err
	}

	tx.b.Transfer(custody(pos.CollateralAsset), ledger.Wallet(pos.Owner, pos.CollateralAsset), pos.CollateralAmount, ledger.JournalTypeCollateralReturn)
	if err := pos.TransitionTo(state.PositionStatusClosed); err != nil {
		return err
	}
	tx.releaseSlot(pos.Owner)

	tx.after(func() {
		if c.metrics != nil {
			c.metrics.PositionsClosed.WithLabelValues("maturity").Inc()
		}
	})
	return nil
}

// handleEarlyClose closes an active position before its term end. The
// early-close fee is taken from the collateral.
func (c *DeterministicCore) handleEarlyClose(tx *txn, evt *event.EarlyClose) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	if evt.Caller != pos.Owner {
		return state.ErrUnauthorized
	}
	if pos.Status == state.PositionStatusMatured {
		return state.ErrAlreadyMatured
	}
	if pos.Status != state.PositionStatusActive {
		return state.ErrInvalidStatus
	}
	if tx.meta.Timestamp >= pos.TermEnd {
		return state.ErrAlreadyMatured
	}
	fee, err := state.EarlyCloseFee(tx.params(), pos.CollateralAmount)
	if err != nil {
		return err
	}
	if err := c.requireRepaymentFunds(pos); err != nil {
		return err
	}

	wallet := ledger.Wallet(pos.Owner, pos.CollateralAsset)
	tx.b.Transfer(custody(pos.CollateralAsset), wallet, pos.CollateralAmount-fee, ledger.JournalTypeCollateralReturn)
	tx.b.Transfer(custody(pos.CollateralAsset), protocolFees(pos.CollateralAsset), fee, ledger.JournalTypeEarlyCloseFee)
	if err := pos.TransitionTo(state.PositionStatusClosed); err != nil {
		return err
	}
	tx.releaseSlot(pos.Owner)

	tx.after(func() {
		if c.metrics != nil {
			c.metrics.PositionsClosed.WithLabelValues("early").Inc()
		}
	})
	return nil
}

// handleDelegateAssignment records the liquidation and settlement
// delegates. The liquidation delegate also becomes the owner's executor.
func (c *DeterministicCore) handleDelegateAssignment(tx *txn, evt *event.DelegateAssignment) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	if evt.Caller != pos.Owner {
		return state.ErrUnauthorized
	}
	if !pos.Status.IsOpen() {
		return state.ErrInvalidStatus
	}
	if evt.Liquidator == uuid.Nil || evt.Settlement == uuid.Nil {
		return state.ErrInvalidDelegate
	}

	pos.LiquidationDelegate = evt.Liquidator
	pos.SettlementDelegate = evt.Settlement
	pos.Version++

	rec := tx.record(pos.Owner)
	rec.DelegatedLiquidator = evt.Liquidator
	tx.putRecord(rec)
	return nil
}

// handleRepaymentSettlement pays a closed position's deferred payment from
// the owner's wallet into the pool and reclaims the record.
func (c *DeterministicCore) handleRepaymentSettlement(tx *txn, evt *event.RepaymentSettlement) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	delegated := pos.SettlementDelegate != uuid.Nil && evt.Caller == pos.SettlementDelegate
	if evt.Caller != pos.Owner && !delegated {
		return state.ErrUnauthorized
	}
	if pos.Status != state.PositionStatusClosed {
		return state.ErrInvalidStatus
	}

	tx.b.Transfer(ledger.Wallet(pos.Owner, c.poolAsset), poolLiquidity(c.poolAsset), pos.DeferredPayment, ledger.JournalTypeRepayment)
	if _, err := tx.liquidityPool().Release(pos.FinancingAmount, pos.MarkupAmount); err != nil {
		return err
	}

	pos.FinancingAmount = 0
	pos.MarkupAmount = 0
	pos.DeferredPayment = 0
	pos.Version++
	tx.reclaim(pos.Key())
	return nil
}

// handleMaturitySweep marks an active position past its term end as
// matured. Anyone may sweep.
func (c *DeterministicCore) handleMaturitySweep(tx *txn, evt *event.MaturitySweep) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	pos, err := tx.position(evt.Owner, evt.Index)
	if err != nil {
		return err
	}
	if pos.Status != state.PositionStatusActive {
		return state.ErrInvalidStatus
	}
	if tx.meta.Timestamp < pos.TermEnd {
		return state.ErrNotMatured
	}
	return pos.TransitionTo(state.PositionStatusMatured)
}
