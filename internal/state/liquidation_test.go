package state

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bandPosition sits at ltv 7352, inside the permissionless band. Collateral
// uses 6 decimals at a price of one value unit per unit.
func bandPosition() *Position {
	return &Position{
		Owner:            uuid.New(),
		CollateralAmount: 1_360_000,
		CollateralValue:  1_360_000,
		CollateralPrice:  1_000_000,
		FinancingAmount:  1_000_000,
		DeferredPayment:  1_000_000,
		MaxLtv:           8_000,
		Status:           PositionStatusActive,
	}
}

func TestClassifyLtv(t *testing.T) {
	p := DefaultRiskParams
	assert.Equal(t, TierHealthy, ClassifyLtv(p, 7_299))
	assert.Equal(t, TierPermissionless, ClassifyLtv(p, 7_300))
	assert.Equal(t, TierPermissionless, ClassifyLtv(p, 7_499))
	assert.Equal(t, TierForced, ClassifyLtv(p, 7_500))
	assert.Equal(t, TierForced, ClassifyLtv(p, 20_000))
}

func TestQuotePermissionless(t *testing.T) {
	pos := bandPosition()

	q, err := QuotePermissionless(DefaultRiskParams, pos, 50, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(7_352), q.Ltv)
	assert.Equal(t, uint64(500_000), q.DebtToRepay)
	assert.Equal(t, uint64(25_000), q.Bonus)
	assert.Equal(t, uint64(525_000), q.TotalClaim)
	assert.Equal(t, uint64(525_000), q.SeizeUnits)
	assert.LessOrEqual(t, q.SeizeUnits, pos.CollateralAmount)
	assert.Equal(t, uint64(500_000), q.PrincipalRepaid)
	assert.Zero(t, q.MarkupRepaid)

	full, err := pos.ApplyPermissionless(q)
	require.NoError(t, err)
	assert.False(t, full)
	assert.Equal(t, uint64(835_000), pos.CollateralAmount)
	assert.Equal(t, uint64(835_000), pos.CollateralValue)
	assert.Equal(t, uint64(500_000), pos.DeferredPayment)
	assert.Equal(t, uint64(500_000), pos.FinancingAmount)
	assert.Equal(t, uint64(5_988), pos.CurrentLtv)
	assert.Equal(t, PositionStatusActive, pos.Status)
}

func TestQuotePermissionless_Rejections(t *testing.T) {
	p := DefaultRiskParams

	t.Run("percentage out of range", func(t *testing.T) {
		_, err := QuotePermissionless(p, bandPosition(), 0, 6)
		assert.ErrorIs(t, err, ErrInvalidPercentage)
		_, err = QuotePermissionless(p, bandPosition(), 51, 6)
		assert.ErrorIs(t, err, ErrInvalidPercentage)
	})

	t.Run("healthy position", func(t *testing.T) {
		pos := bandPosition()
		pos.CollateralValue = 2_000_000
		_, err := QuotePermissionless(p, pos, 50, 6)
		assert.ErrorIs(t, err, ErrNotInPermissionlessBand)
	})

	t.Run("forced band", func(t *testing.T) {
		pos := bandPosition()
		pos.CollateralValue = 1_300_000
		_, err := QuotePermissionless(p, pos, 50, 6)
		assert.ErrorIs(t, err, ErrNotInPermissionlessBand)
	})

	t.Run("seizure beyond collateral", func(t *testing.T) {
		pos := bandPosition()
		pos.CollateralPrice = 100_000
		_, err := QuotePermissionless(p, pos, 50, 6)
		assert.ErrorIs(t, err, ErrSeizureExceedsCollateral)
	})
}

func TestQuotePermissionless_SplitsMarkup(t *testing.T) {
	pos := bandPosition()
	pos.FinancingAmount = 800_000
	pos.MarkupAmount = 200_000

	q, err := QuotePermissionless(DefaultRiskParams, pos, 50, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(400_000), q.PrincipalRepaid)
	assert.Equal(t, uint64(100_000), q.MarkupRepaid)
	assert.Equal(t, q.DebtToRepay, q.PrincipalRepaid+q.MarkupRepaid)
}

func forcedPosition() *Position {
	return &Position{
		Owner:            uuid.New(),
		CollateralAmount: 1_000_000,
		CollateralValue:  1_300_000,
		CollateralPrice:  1_300_000,
		FinancingAmount:  1_000_000,
		DeferredPayment:  1_000_000,
		MaxLtv:           8_000,
		Status:           PositionStatusActive,
	}
}

func TestQuoteForced_CoversDebt(t *testing.T) {
	q, err := QuoteForced(DefaultRiskParams, forcedPosition(), 1_300_000, 6)
	require.NoError(t, err)

	assert.Equal(t, uint64(7_692), q.Ltv)
	assert.Equal(t, uint64(807_693), q.SoldUnits)
	assert.Equal(t, uint64(192_307), q.ReturnedUnits)
	assert.Equal(t, uint64(1_050_000), q.GrossProceeds)
	assert.Equal(t, uint64(1_000_000), q.Repaid)
	assert.Equal(t, uint64(50_000), q.ProtocolFee)
	assert.Zero(t, q.Shortfall)
	assert.Zero(t, q.LostPrincipal)
	assert.Equal(t, uint64(1_000_000), q.PrincipalRepaid)
}

func TestQuoteForced_Shortfall(t *testing.T) {
	q, err := QuoteForced(DefaultRiskParams, forcedPosition(), 900_000, 6)
	require.NoError(t, err)

	assert.Equal(t, uint64(11_111), q.Ltv)
	assert.Equal(t, uint64(1_000_000), q.SoldUnits)
	assert.Zero(t, q.ReturnedUnits)
	assert.Equal(t, uint64(900_000), q.GrossProceeds)
	assert.Equal(t, uint64(42_857), q.ProtocolFee)
	assert.Equal(t, uint64(857_143), q.Repaid)
	assert.Equal(t, uint64(142_857), q.Shortfall)
	assert.Equal(t, uint64(142_857), q.LostPrincipal)
	assert.Equal(t, q.GrossProceeds, q.Repaid+q.ProtocolFee)
}

func TestQuoteForced_Rejections(t *testing.T) {
	_, err := QuoteForced(DefaultRiskParams, forcedPosition(), 2_000_000, 6)
	assert.ErrorIs(t, err, ErrNotInForcedBand)

	_, err = QuoteForced(DefaultRiskParams, forcedPosition(), 0, 6)
	assert.Error(t, err)
}

func TestLiquidationRecord_Lifecycle(t *testing.T) {
	p := DefaultRiskParams
	delegate := uuid.New()
	r := LiquidationRecord{Owner: uuid.New(), DelegatedLiquidator: delegate}

	assert.Equal(t, PhaseIdle, r.Phase())
	assert.True(t, r.CanLiquidate())
	assert.ErrorIs(t, r.Execute(p, delegate, 5, 9_000, 8_500, 0), ErrSnapshotMissing)

	require.NoError(t, r.Freeze(p, 10, 1_000_000))
	assert.Equal(t, PhaseFrozen, r.Phase())
	assert.ErrorIs(t, r.Freeze(p, 50, 2_000_000), ErrDoubleLiquidation)
	assert.Equal(t, uint64(1_000_000), r.FrozenPrice)

	assert.ErrorIs(t, r.Execute(p, uuid.New(), 20, 9_000, 8_500, 0), ErrUnauthorized)
	assert.ErrorIs(t, r.Execute(p, delegate, 20, 8_000, 8_500, 0), ErrThresholdNotBreached)
	assert.ErrorIs(t, r.Execute(p, delegate, 20, 9_000, 8_500, 201), ErrSlippageTooHigh)

	_, err := r.Distribute(p, 1_000_000)
	assert.ErrorIs(t, err, ErrNotExecuted)

	require.NoError(t, r.Execute(p, delegate, 20, 9_000, 8_500, 150))
	assert.Equal(t, PhaseExecuted, r.Phase())
	assert.False(t, r.CanLiquidate())
	assert.ErrorIs(t, r.Execute(p, delegate, 21, 9_000, 8_500, 0), ErrAlreadyExecuted)
	assert.ErrorIs(t, r.Freeze(p, 500, 1_000_000), ErrDoubleLiquidation)

	res, err := r.Distribute(p, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000), res.Fee)
	assert.Equal(t, uint64(970_000), res.OwnerReturn)
	assert.Equal(t, uint64(30_000), r.LastFeeAccrued)
	assert.Equal(t, uint64(1), r.Cycles)
	assert.Equal(t, PhaseIdle, r.Phase())

	// the record serves the next liquidation
	require.NoError(t, r.Freeze(p, 600, 900_000))
}

func TestLiquidationRecord_Expiry(t *testing.T) {
	p := DefaultRiskParams
	delegate := uuid.New()
	r := LiquidationRecord{DelegatedLiquidator: delegate}

	require.NoError(t, r.Freeze(p, 10, 1_000_000))
	assert.ErrorIs(t, r.Execute(p, delegate, 110, 9_000, 8_500, 0), ErrSnapshotExpired)

	// an expired snapshot may be replaced
	require.NoError(t, r.Freeze(p, 110, 1_100_000))
	assert.Equal(t, uint64(110), r.FrozenSnapshotSlot)
	require.NoError(t, r.Execute(p, delegate, 209, 9_000, 8_500, 0))
}

func TestLiquidationRecord_EarlierSlotIsStillLive(t *testing.T) {
	p := DefaultRiskParams
	delegate := uuid.New()
	r := LiquidationRecord{DelegatedLiquidator: delegate}

	require.NoError(t, r.Freeze(p, 500, 1_000_000))
	assert.ErrorIs(t, r.Freeze(p, 499, 2_000_000), ErrDoubleLiquidation)
	assert.Equal(t, uint64(500), r.FrozenSnapshotSlot)
	assert.Equal(t, uint64(1_000_000), r.FrozenPrice)

	require.NoError(t, r.Execute(p, delegate, 499, 9_000, 8_500, 0))
}

func TestLiquidationRecord_Rejections(t *testing.T) {
	p := DefaultRiskParams
	var r LiquidationRecord

	assert.ErrorIs(t, r.Freeze(p, 0, 1), ErrInvalidSlot)
	assert.ErrorIs(t, r.Freeze(p, 1, 0), ErrZeroAmount)

	require.NoError(t, r.Freeze(p, 1, 1))
	assert.False(t, r.CanLiquidate())
	assert.ErrorIs(t, r.Execute(p, uuid.Nil, 2, 9_000, 8_500, 0), ErrInvalidLiquidator)
}

func TestLiquidationManager(t *testing.T) {
	lm := NewLiquidationManager()
	owner := uuid.New()

	r := lm.Record(owner)
	assert.Equal(t, owner, r.Owner)
	_, ok := lm.Lookup(owner)
	assert.False(t, ok)

	r.DelegatedLiquidator = uuid.New()
	lm.Put(r)
	got, ok := lm.Lookup(owner)
	require.True(t, ok)
	assert.Equal(t, r, got)

	got.FrozenSnapshotSlot = 7
	stored, _ := lm.Lookup(owner)
	assert.Zero(t, stored.FrozenSnapshotSlot, "lookups return copies")
	assert.Len(t, lm.Records(), 1)
}
