package state

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTerms() OriginationTerms {
	return OriginationTerms{
		CollateralAmount:     200_000_000,
		CollateralValue:      200_000_000,
		FinancingAmount:      100_000_000,
		MarkupBps:            500,
		InitialLtv:           5_000,
		MaxLtv:               8_000,
		LiquidationThreshold: 8_500,
		TermStart:            1_000,
		TermEnd:              2_000,
		PriceSources:         []uuid.UUID{uuid.New()},
	}
}

func TestQuoteOrigination_WithinMaxLtv(t *testing.T) {
	terms := validTerms()
	require.NoError(t, ValidateOrigination(DefaultRiskParams, terms))

	q, err := QuoteOrigination(terms)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), q.MarkupAmount)
	assert.Equal(t, uint64(105_000_000), q.DeferredPayment)
	assert.Equal(t, uint64(5_250), q.Ltv)
}

func TestQuoteOrigination_Rejections(t *testing.T) {
	t.Run("ltv above max", func(t *testing.T) {
		terms := validTerms()
		terms.FinancingAmount = 180_000_000
		_, err := QuoteOrigination(terms)
		assert.ErrorIs(t, err, ErrLtvBreach)
	})

	t.Run("negative equity", func(t *testing.T) {
		terms := validTerms()
		terms.CollateralValue = 1_000
		terms.MarkupBps = 10_000
		_, err := QuoteOrigination(terms)
		assert.ErrorIs(t, err, ErrNegativeEquity)
	})

	t.Run("overflow", func(t *testing.T) {
		terms := validTerms()
		terms.FinancingAmount = ^uint64(0)
		_, err := QuoteOrigination(terms)
		assert.ErrorIs(t, err, ErrMathOverflow)
	})
}

func TestValidateOrigination(t *testing.T) {
	p := DefaultRiskParams
	tests := []struct {
		name   string
		mutate func(*OriginationTerms)
		want   error
	}{
		{"zero collateral", func(o *OriginationTerms) { o.CollateralAmount = 0 }, ErrZeroAmount},
		{"collateral value below minimum", func(o *OriginationTerms) { o.CollateralValue = 99_999_999 }, ErrPositionTooSmall},
		{"financing below minimum", func(o *OriginationTerms) { o.FinancingAmount = 49_999_999 }, ErrFinancingTooSmall},
		{"term end before start", func(o *OriginationTerms) { o.TermEnd = o.TermStart }, ErrInvalidTerm},
		{"no price sources", func(o *OriginationTerms) { o.PriceSources = nil }, ErrNoPriceSources},
		{"too many price sources", func(o *OriginationTerms) {
			o.PriceSources = []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
		}, ErrTooManyPriceSources},
		{"nil price source", func(o *OriginationTerms) { o.PriceSources = []uuid.UUID{uuid.Nil} }, ErrInvalidPriceSource},
		{"initial above max", func(o *OriginationTerms) { o.InitialLtv = 8_100 }, ErrInvalidLtvOrdering},
		{"max above threshold", func(o *OriginationTerms) { o.MaxLtv = 8_600 }, ErrInvalidLtvOrdering},
		{"max above ceiling", func(o *OriginationTerms) {
			o.MaxLtv = 8_600
			o.LiquidationThreshold = 9_000
		}, ErrMaxLtvTooHigh},
		{"threshold above ceiling", func(o *OriginationTerms) { o.LiquidationThreshold = 9_100 }, ErrThresholdTooHigh},
		{"threshold gap too small", func(o *OriginationTerms) { o.LiquidationThreshold = 8_400 }, ErrThresholdGapTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := validTerms()
			tt.mutate(&terms)
			assert.ErrorIs(t, ValidateOrigination(p, terms), tt.want)
		})
	}
}

func TestComputeLtv(t *testing.T) {
	ltv, err := ComputeLtv(100, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), ltv)

	_, err = ComputeLtv(100, 0)
	assert.ErrorIs(t, err, ErrZeroCollateral)

	_, err = ComputeLtv(^uint64(0), 1)
	assert.ErrorIs(t, err, ErrMathOverflow)
}

func TestFinancingAmountFromCollateral(t *testing.T) {
	f, err := FinancingAmountFromCollateral(100_000_000, 5_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), f)

	_, err = FinancingAmountFromCollateral(100, 10_000)
	assert.ErrorIs(t, err, ErrInvalidLtvOrdering)
}

func TestEarlyCloseFee(t *testing.T) {
	fee, err := EarlyCloseFee(DefaultRiskParams, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), fee)

	p := DefaultRiskParams
	p.EarlyCloseFeeBps = 2_000
	fee, err = EarlyCloseFee(p, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), fee, "fee is capped at the fee ceiling")

	p.EarlyCloseFeeBps = 10_000
	p.MaxFeeBps = 10_000
	_, err = EarlyCloseFee(p, 1_000_000)
	assert.ErrorIs(t, err, ErrFeeExceedsCollateral)
}

func TestRevalue_RejectsLtvAboveMax(t *testing.T) {
	pos := &Position{
		CollateralAmount: 1_000_000_000, // 1 whole token at 9 decimals
		CollateralValue:  200_000_000,
		CollateralPrice:  200_000_000,
		FinancingAmount:  100_000_000,
		DeferredPayment:  100_000_000,
		MaxLtv:           8_000,
		CurrentLtv:       5_000,
	}
	before := *pos

	err := pos.Revalue(111_111_111, 9)
	assert.ErrorIs(t, err, ErrLtvBreach)
	assert.Equal(t, before, *pos)
}

func TestRevalue_UpdatesValueAndLtv(t *testing.T) {
	pos := &Position{
		CollateralAmount: 2_000_000_000,
		CollateralValue:  200_000_000,
		CollateralPrice:  100_000_000,
		DeferredPayment:  100_000_000,
		MaxLtv:           8_000,
	}
	require.NoError(t, pos.Revalue(150_000_000, 9))
	assert.Equal(t, uint64(300_000_000), pos.CollateralValue)
	assert.Equal(t, uint64(150_000_000), pos.CollateralPrice)
	assert.Equal(t, uint64(3_333), pos.CurrentLtv)
	assert.Equal(t, int64(1), pos.Version)

	assert.Error(t, pos.Revalue(0, 9))
}

func TestImpliedPrice(t *testing.T) {
	price, err := ImpliedPrice(200_000_000, 2_000_000_000, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), price)

	_, err = ImpliedPrice(1, 0, 9)
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestPositionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to PositionStatus
		ok       bool
	}{
		{PositionStatusActive, PositionStatusMatured, true},
		{PositionStatusActive, PositionStatusClosed, true},
		{PositionStatusActive, PositionStatusLiquidated, true},
		{PositionStatusMatured, PositionStatusClosed, true},
		{PositionStatusMatured, PositionStatusLiquidated, true},
		{PositionStatusMatured, PositionStatusActive, false},
		{PositionStatusClosed, PositionStatusActive, false},
		{PositionStatusLiquidated, PositionStatusClosed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestUserPositionCounter(t *testing.T) {
	c := UserPositionCounter{Owner: uuid.New()}
	for i := uint64(0); i < 3; i++ {
		idx, err := c.Reserve(3)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	_, err := c.Reserve(3)
	assert.ErrorIs(t, err, ErrTooManyPositions)

	c.Release()
	idx, err := c.Reserve(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), idx, "indices are never reused")

	empty := UserPositionCounter{}
	empty.Release()
	assert.Zero(t, empty.OpenPositions)
}

func TestProtocolConfig(t *testing.T) {
	admin := uuid.New()
	var c ProtocolConfig

	assert.ErrorIs(t, c.RequireActive(), ErrNotInitialized)
	assert.ErrorIs(t, c.Initialize(uuid.Nil), ErrInvalidAuthority)
	require.NoError(t, c.Initialize(admin))
	assert.ErrorIs(t, c.Initialize(admin), ErrAlreadyInitialized)

	assert.ErrorIs(t, c.Pause(uuid.New()), ErrUnauthorized)
	assert.ErrorIs(t, c.Unpause(admin), ErrNotPaused)
	require.NoError(t, c.Pause(admin))
	assert.ErrorIs(t, c.RequireActive(), ErrProtocolPaused)
	assert.ErrorIs(t, c.Pause(admin), ErrAlreadyPaused)
	require.NoError(t, c.Unpause(admin))
	assert.NoError(t, c.RequireActive())
}

func TestValidateRiskParams(t *testing.T) {
	require.NoError(t, ValidateRiskParams(DefaultRiskParams))

	p := DefaultRiskParams
	p.PermissionlessLtv = p.ForcedLtv
	assert.Error(t, ValidateRiskParams(p))
}
