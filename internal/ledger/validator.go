package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset: whatever
// sits in user and system accounts is mirrored by external issuance.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateCustodyCovers verifies the collateral custody account holds at
// least the collateral recorded across open positions for each asset.
func (v *InvariantValidator) ValidateCustodyCovers(recorded map[AssetID]uint64) error {
	for assetID, want := range recorded {
		have := v.tracker.Available(NewSystemAccountKey(SubTypeCollateralCustody, assetID))
		if have < want {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("custody for %s holds %d, positions record %d", assetName, have, want)
		}
	}
	return nil
}

// ValidatePoolCash verifies the pool liquidity account holds at least the
// amount the pool reports as available.
func (v *InvariantValidator) ValidatePoolCash(assetID AssetID, available uint64) error {
	have := v.tracker.Available(NewSystemAccountKey(SubTypePoolLiquidity, assetID))
	if have < available {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("pool liquidity for %s holds %d, pool reports %d available", assetName, have, available)
	}
	return nil
}
