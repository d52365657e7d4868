package state

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	fpmath "github.com/x5th/x-leverage/internal/math"
	"github.com/x5th/x-leverage/internal/oracle"
)

// OriginationTerms are the caller-supplied inputs of a new position.
type OriginationTerms struct {
	CollateralAmount     uint64
	CollateralValue      uint64
	FinancingAmount      uint64
	MarkupBps            uint64
	InitialLtv           uint64
	MaxLtv               uint64
	LiquidationThreshold uint64
	TermStart            int64
	TermEnd              int64
	PriceSources         []uuid.UUID
}

// OriginationQuote is what the protocol derives from the terms.
type OriginationQuote struct {
	MarkupAmount    uint64
	DeferredPayment uint64
	Ltv             uint64
}

// arith maps math package failures onto ErrMathOverflow.
func arith(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMathOverflow) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMathOverflow, err)
}

// ComputeLtv returns obligations * 10_000 / collateralValue.
func ComputeLtv(obligations, collateralValue uint64) (uint64, error) {
	if collateralValue == 0 {
		return 0, ErrZeroCollateral
	}
	scaled, err := fpmath.CheckedMul(obligations, fpmath.BpsDenominator)
	if err != nil {
		return 0, arith(err)
	}
	return scaled / collateralValue, nil
}

// MarkupAmount returns financingAmount * markupBps / 10_000.
func MarkupAmount(financingAmount, markupBps uint64) (uint64, error) {
	scaled, err := fpmath.CheckedMul(financingAmount, markupBps)
	if err != nil {
		return 0, arith(err)
	}
	return scaled / fpmath.BpsDenominator, nil
}

// DeferredPayment returns principal plus markup.
func DeferredPayment(financingAmount, markup uint64) (uint64, error) {
	total, err := fpmath.CheckedAdd(financingAmount, markup)
	return total, arith(err)
}

// FinancingAmountFromCollateral returns C * m / (10_000 - m), the financing
// that a collateral value supports at an LTV of m bps.
func FinancingAmountFromCollateral(collateralValue, m uint64) (uint64, error) {
	if m >= fpmath.BpsDenominator {
		return 0, ErrInvalidLtvOrdering
	}
	scaled, err := fpmath.CheckedMul(collateralValue, m)
	if err != nil {
		return 0, arith(err)
	}
	return scaled / (fpmath.BpsDenominator - m), nil
}

// EarlyCloseFee charges the early-close fee on the collateral amount.
func EarlyCloseFee(p RiskParams, collateralAmount uint64) (uint64, error) {
	bps := p.EarlyCloseFeeBps
	if bps > p.MaxFeeBps {
		bps = p.MaxFeeBps
	}
	scaled, err := fpmath.CheckedMul(collateralAmount, bps)
	if err != nil {
		return 0, arith(err)
	}
	fee := scaled / fpmath.BpsDenominator
	if fee >= collateralAmount {
		return 0, ErrFeeExceedsCollateral
	}
	return fee, nil
}

// ValidateLtvParams checks the LTV triple's ordering and ceilings.
func ValidateLtvParams(p RiskParams, initial, max, threshold uint64) error {
	if initial > max || max > threshold {
		return ErrInvalidLtvOrdering
	}
	if max > p.MaxLtvCeiling {
		return ErrMaxLtvTooHigh
	}
	if threshold > p.ThresholdCeiling {
		return ErrThresholdTooHigh
	}
	if threshold < max+p.MinThresholdGap {
		return ErrThresholdGapTooSmall
	}
	return nil
}

// ValidatePriceSources checks the allow-list: non-empty, bounded, no default ids.
func ValidatePriceSources(p RiskParams, sources []uuid.UUID) error {
	if len(sources) == 0 {
		return ErrNoPriceSources
	}
	if len(sources) > p.MaxPriceSources {
		return ErrTooManyPriceSources
	}
	for _, s := range sources {
		if s == uuid.Nil {
			return ErrInvalidPriceSource
		}
	}
	return nil
}

// ValidateOrigination runs every input check that precedes side effects.
func ValidateOrigination(p RiskParams, t OriginationTerms) error {
	if t.CollateralAmount == 0 {
		return ErrZeroAmount
	}
	if t.CollateralValue < p.MinCollateralValue {
		return ErrPositionTooSmall
	}
	if t.FinancingAmount < p.MinFinancingAmount {
		return ErrFinancingTooSmall
	}
	if t.TermEnd <= t.TermStart {
		return ErrInvalidTerm
	}
	if err := ValidatePriceSources(p, t.PriceSources); err != nil {
		return err
	}
	return ValidateLtvParams(p, t.InitialLtv, t.MaxLtv, t.LiquidationThreshold)
}

// QuoteOrigination derives markup, deferred payment and opening LTV, and
// rejects terms that start with negative equity or above max LTV.
func QuoteOrigination(t OriginationTerms) (OriginationQuote, error) {
	markup, err := MarkupAmount(t.FinancingAmount, t.MarkupBps)
	if err != nil {
		return OriginationQuote{}, err
	}
	deferred, err := DeferredPayment(t.FinancingAmount, markup)
	if err != nil {
		return OriginationQuote{}, err
	}
	if t.CollateralValue <= markup {
		return OriginationQuote{}, ErrNegativeEquity
	}
	ltv, err := ComputeLtv(deferred, t.CollateralValue)
	if err != nil {
		return OriginationQuote{}, err
	}
	if ltv > t.MaxLtv {
		return OriginationQuote{}, ErrLtvBreach
	}
	return OriginationQuote{MarkupAmount: markup, DeferredPayment: deferred, Ltv: ltv}, nil
}

// ImpliedPrice returns the price per whole token implied by a value and amount.
func ImpliedPrice(value, amount uint64, decimals uint8) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroAmount
	}
	scale, err := fpmath.Pow10(decimals)
	if err != nil {
		return 0, arith(err)
	}
	price, err := fpmath.MulDiv(value, scale, amount)
	if err != nil {
		return 0, arith(err)
	}
	if err := oracle.ValidatePrice(price); err != nil {
		return 0, err
	}
	return price, nil
}

// Revalue applies a new collateral price, recomputing value and LTV. The
// position is left untouched when the new LTV would exceed max LTV.
func (p *Position) Revalue(price uint64, collateralDecimals uint8) error {
	if err := oracle.ValidatePrice(price); err != nil {
		return err
	}
	value, err := fpmath.UnitsToValue(p.CollateralAmount, price, collateralDecimals, fpmath.RoundDown)
	if err != nil {
		return arith(err)
	}
	ltv, err := ComputeLtv(p.DeferredPayment, value)
	if err != nil {
		return err
	}
	if ltv > p.MaxLtv {
		return fmt.Errorf("%w: ltv %d > max %d", ErrLtvBreach, ltv, p.MaxLtv)
	}
	p.CollateralPrice = price
	p.CollateralValue = value
	p.CurrentLtv = ltv
	p.Version++
	return nil
}

// Ltv recomputes the position's LTV from its recorded figures.
func (p *Position) Ltv() (uint64, error) {
	return ComputeLtv(p.DeferredPayment, p.CollateralValue)
}
