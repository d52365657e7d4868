// internal/state/liquidation_trigger.go
package state

import (
	fpmath "github.com/x5th/x-leverage/internal/math"
	"github.com/x5th/x-leverage/internal/oracle"
)

// LiquidationTier is the band a position's LTV falls in.
type LiquidationTier uint8

const (
	TierHealthy LiquidationTier = iota
	TierPermissionless
	TierForced
)

func (t LiquidationTier) String() string {
	switch t {
	case TierHealthy:
		return "Healthy"
	case TierPermissionless:
		return "Permissionless"
	case TierForced:
		return "Forced"
	default:
		return "Unknown"
	}
}

// ClassifyLtv places an LTV in [0, P), [P, F) or [F, ∞).
func ClassifyLtv(p RiskParams, ltv uint64) LiquidationTier {
	switch {
	case ltv >= p.ForcedLtv:
		return TierForced
	case ltv >= p.PermissionlessLtv:
		return TierPermissionless
	default:
		return TierHealthy
	}
}

// PermissionlessQuote is the outcome of a permissionless partial liquidation.
type PermissionlessQuote struct {
	Ltv             uint64
	DebtToRepay     uint64
	Bonus           uint64
	TotalClaim      uint64
	SeizeUnits      uint64
	PrincipalRepaid uint64
	MarkupRepaid    uint64
}

// QuotePermissionless computes a partial liquidation of pct% of the
// position's debt against its recorded collateral price.
func QuotePermissionless(p RiskParams, pos *Position, pct uint64, collateralDecimals uint8) (PermissionlessQuote, error) {
	if pct == 0 || pct > p.MaxLiquidationPct {
		return PermissionlessQuote{}, ErrInvalidPercentage
	}

	ltv, err := pos.Ltv()
	if err != nil {
		return PermissionlessQuote{}, err
	}
	if ClassifyLtv(p, ltv) != TierPermissionless {
		return PermissionlessQuote{}, ErrNotInPermissionlessBand
	}

	debt, err := fpmath.MulDiv(pos.DeferredPayment, pct, 100)
	if err != nil {
		return PermissionlessQuote{}, arith(err)
	}
	if debt == 0 {
		return PermissionlessQuote{}, ErrZeroAmount
	}
	bonus, err := fpmath.ApplyBps(debt, p.LiquidationBonusBps)
	if err != nil {
		return PermissionlessQuote{}, arith(err)
	}
	claim, err := fpmath.CheckedAdd(debt, bonus)
	if err != nil {
		return PermissionlessQuote{}, arith(err)
	}

	seize, err := fpmath.ValueToUnits(claim, pos.CollateralPrice, collateralDecimals, fpmath.RoundDown)
	if err != nil {
		return PermissionlessQuote{}, arith(err)
	}
	if seize > pos.CollateralAmount {
		return PermissionlessQuote{}, ErrSeizureExceedsCollateral
	}

	principal, markup, err := splitRepayment(pos, debt)
	if err != nil {
		return PermissionlessQuote{}, err
	}

	return PermissionlessQuote{
		Ltv:             ltv,
		DebtToRepay:     debt,
		Bonus:           bonus,
		TotalClaim:      claim,
		SeizeUnits:      seize,
		PrincipalRepaid: principal,
		MarkupRepaid:    markup,
	}, nil
}

// splitRepayment divides a repayment between principal and markup in the
// proportion they make up the outstanding deferred payment.
func splitRepayment(pos *Position, repaid uint64) (principal, markup uint64, err error) {
	if repaid > pos.DeferredPayment {
		return 0, 0, ErrMathOverflow
	}
	principal, err = fpmath.MulDiv(pos.FinancingAmount, repaid, pos.DeferredPayment)
	if err != nil {
		return 0, 0, arith(err)
	}
	markup = repaid - principal
	if markup > pos.MarkupAmount {
		markup = pos.MarkupAmount
		principal = repaid - markup
	}
	return principal, markup, nil
}

// ApplyPermissionless reduces the position's debt, collateral and value by a
// quote. It returns true when the position is fully liquidated.
func (p *Position) ApplyPermissionless(q PermissionlessQuote) (bool, error) {
	remaining := p.CollateralAmount - q.SeizeUnits

	value := uint64(0)
	if remaining > 0 {
		v, err := fpmath.MulDiv(p.CollateralValue, remaining, p.CollateralAmount)
		if err != nil {
			return false, arith(err)
		}
		value = v
	}

	deferred, err := fpmath.CheckedSub(p.DeferredPayment, q.DebtToRepay)
	if err != nil {
		return false, arith(err)
	}
	financing, err := fpmath.CheckedSub(p.FinancingAmount, q.PrincipalRepaid)
	if err != nil {
		return false, arith(err)
	}
	markup, err := fpmath.CheckedSub(p.MarkupAmount, q.MarkupRepaid)
	if err != nil {
		return false, arith(err)
	}

	p.CollateralAmount = remaining
	p.CollateralValue = value
	p.DeferredPayment = deferred
	p.FinancingAmount = financing
	p.MarkupAmount = markup
	p.Version++

	if deferred == 0 || remaining == 0 {
		return true, p.TransitionTo(PositionStatusLiquidated)
	}
	ltv, err := p.Ltv()
	if err != nil {
		return false, err
	}
	p.CurrentLtv = ltv
	return false, nil
}

// ForcedQuote is the outcome of a protocol-forced liquidation.
type ForcedQuote struct {
	Ltv             uint64
	Debt            uint64
	SoldUnits       uint64
	GrossProceeds   uint64
	ProtocolFee     uint64
	Repaid          uint64
	PrincipalRepaid uint64
	MarkupRepaid    uint64
	ReturnedUnits   uint64
	Shortfall       uint64 // debt left unpaid
	LostPrincipal   uint64 // principal the pool will not recover
}

// QuoteForced computes selling enough collateral at currentPrice, plus the
// forced-liquidation fee, to clear the full outstanding debt. When the
// collateral cannot cover it, all of it is sold and the gap is a shortfall.
func QuoteForced(p RiskParams, pos *Position, currentPrice uint64, collateralDecimals uint8) (ForcedQuote, error) {
	if err := oracle.ValidatePrice(currentPrice); err != nil {
		return ForcedQuote{}, err
	}

	value, err := fpmath.UnitsToValue(pos.CollateralAmount, currentPrice, collateralDecimals, fpmath.RoundDown)
	if err != nil {
		return ForcedQuote{}, arith(err)
	}
	ltv, err := ComputeLtv(pos.DeferredPayment, value)
	if err != nil {
		return ForcedQuote{}, err
	}
	if ClassifyLtv(p, ltv) != TierForced {
		return ForcedQuote{}, ErrNotInForcedBand
	}

	debt := pos.DeferredPayment
	needUnits, err := fpmath.ValueToUnits(debt, currentPrice, collateralDecimals, fpmath.RoundUp)
	if err != nil {
		return ForcedQuote{}, arith(err)
	}
	withFee, err := fpmath.MulDivCeil(needUnits, fpmath.BpsDenominator+p.ForcedFeeBps, fpmath.BpsDenominator)
	if err != nil {
		return ForcedQuote{}, arith(err)
	}

	q := ForcedQuote{Ltv: ltv, Debt: debt}
	if withFee <= pos.CollateralAmount {
		q.SoldUnits = withFee
	} else {
		q.SoldUnits = pos.CollateralAmount
	}
	q.ReturnedUnits = pos.CollateralAmount - q.SoldUnits

	q.GrossProceeds, err = fpmath.UnitsToValue(q.SoldUnits, currentPrice, collateralDecimals, fpmath.RoundDown)
	if err != nil {
		return ForcedQuote{}, arith(err)
	}

	if q.SoldUnits == withFee {
		// the sale covers the debt; the surplus is the fee
		q.Repaid = debt
		if q.GrossProceeds < debt {
			q.Repaid = q.GrossProceeds
		}
	} else {
		fee, err := fpmath.MulDiv(q.GrossProceeds, p.ForcedFeeBps, fpmath.BpsDenominator+p.ForcedFeeBps)
		if err != nil {
			return ForcedQuote{}, arith(err)
		}
		net := q.GrossProceeds - fee
		q.Repaid = net
		if net > debt {
			q.Repaid = debt
		}
	}
	q.ProtocolFee = q.GrossProceeds - q.Repaid
	q.Shortfall = debt - q.Repaid

	q.PrincipalRepaid = q.Repaid
	if q.PrincipalRepaid > pos.FinancingAmount {
		q.PrincipalRepaid = pos.FinancingAmount
	}
	q.MarkupRepaid = q.Repaid - q.PrincipalRepaid
	q.LostPrincipal = pos.FinancingAmount - q.PrincipalRepaid

	return q, nil
}
