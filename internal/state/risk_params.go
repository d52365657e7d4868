package state

import "fmt"

// RiskParams holds the protocol-wide constants that bound origination,
// liquidation, and the snapshot executor. They are fixed at startup.
type RiskParams struct {
	MinCollateralValue  uint64 // collateral value floor at origination
	MinFinancingAmount  uint64 // financing dust floor
	MaxOpenPositions    uint64 // per owner
	MaxPriceSources     int
	MaxLtvCeiling       uint64 // bps
	ThresholdCeiling    uint64 // bps
	MinThresholdGap     uint64 // threshold - maxLtv, bps
	EarlyCloseFeeBps    uint64
	MaxFeeBps           uint64 // overall fee ceiling
	PermissionlessLtv   uint64 // lower bound of the permissionless band, bps
	ForcedLtv           uint64 // lower bound of the protocol-forced band, bps
	LiquidationBonusBps uint64
	MaxLiquidationPct   uint64 // per permissionless call
	ForcedFeeBps        uint64
	ExecutorFeePct      uint64 // percent of distributed proceeds
	MaxSlippageBps      uint64
	SnapshotExpirySlots uint64
	OracleStaleSlots    uint64
	OracleToleranceBps  uint64 // max spread between a position's price sources
	BaseRateBps         uint64 // used for LP APY reporting
}

// DefaultRiskParams are the production constants.
var DefaultRiskParams = RiskParams{
	MinCollateralValue:  100_000_000,
	MinFinancingAmount:  50_000_000,
	MaxOpenPositions:    250,
	MaxPriceSources:     3,
	MaxLtvCeiling:       8_500,
	ThresholdCeiling:    9_000,
	MinThresholdGap:     500,
	EarlyCloseFeeBps:    50,
	MaxFeeBps:           1_000,
	PermissionlessLtv:   7_300,
	ForcedLtv:           7_500,
	LiquidationBonusBps: 500,
	MaxLiquidationPct:   50,
	ForcedFeeBps:        500,
	ExecutorFeePct:      3,
	MaxSlippageBps:      200,
	SnapshotExpirySlots: 100,
	OracleStaleSlots:    100,
	OracleToleranceBps:  200,
	BaseRateBps:         800,
}

// ValidateRiskParams checks that the parameters are internally consistent.
func ValidateRiskParams(p RiskParams) error {
	if p.MaxLtvCeiling == 0 || p.MaxLtvCeiling > 10_000 {
		return fmt.Errorf("max_ltv_ceiling must be in (0, 10000], got %d", p.MaxLtvCeiling)
	}
	if p.ThresholdCeiling < p.MaxLtvCeiling || p.ThresholdCeiling > 10_000 {
		return fmt.Errorf("threshold_ceiling (%d) must be in [max_ltv_ceiling, 10000]", p.ThresholdCeiling)
	}
	if p.PermissionlessLtv >= p.ForcedLtv {
		return fmt.Errorf("permissionless_ltv (%d) must be < forced_ltv (%d)", p.PermissionlessLtv, p.ForcedLtv)
	}
	if p.MaxLiquidationPct == 0 || p.MaxLiquidationPct > 100 {
		return fmt.Errorf("max_liquidation_pct must be in [1, 100], got %d", p.MaxLiquidationPct)
	}
	if p.ExecutorFeePct > 100 {
		return fmt.Errorf("executor_fee_pct must be <= 100, got %d", p.ExecutorFeePct)
	}
	if p.OracleToleranceBps > 10_000 {
		return fmt.Errorf("oracle_tolerance_bps must be <= 10000, got %d", p.OracleToleranceBps)
	}
	if p.EarlyCloseFeeBps > 10_000 || p.MaxFeeBps > 10_000 || p.ForcedFeeBps > 10_000 {
		return fmt.Errorf("fee parameters must be <= 10000 bps")
	}
	if p.MaxPriceSources <= 0 {
		return fmt.Errorf("max_price_sources must be > 0, got %d", p.MaxPriceSources)
	}
	if p.SnapshotExpirySlots == 0 || p.OracleStaleSlots == 0 {
		return fmt.Errorf("slot windows must be > 0")
	}
	return nil
}
