package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletDeposit JournalType = iota
	JournalTypeWalletWithdrawal
	JournalTypeCollateralLock
	JournalTypeCollateralReturn
	JournalTypeFinancingDraw
	JournalTypeAssetPurchase
	JournalTypeAssetDelivery
	JournalTypeEarlyCloseFee
	JournalTypeRepayment
	JournalTypeLiquidityDeposit
	JournalTypeLiquidityWithdrawal
	JournalTypeLiquidationRepay
	JournalTypeLiquidationSeize
	JournalTypeCollateralSale
	JournalTypeSaleProceeds
	JournalTypeLiquidationFee
	JournalTypeProceedsFee
	JournalTypeProceedsReturn
	JournalTypeEscrowAllocate
	JournalTypeEscrowRelease
)

var journalTypeNames = map[JournalType]string{
	JournalTypeWalletDeposit:       "wallet_deposit",
	JournalTypeWalletWithdrawal:    "wallet_withdrawal",
	JournalTypeCollateralLock:      "collateral_lock",
	JournalTypeCollateralReturn:    "collateral_return",
	JournalTypeFinancingDraw:       "financing_draw",
	JournalTypeAssetPurchase:       "asset_purchase",
	JournalTypeAssetDelivery:       "asset_delivery",
	JournalTypeEarlyCloseFee:       "early_close_fee",
	JournalTypeRepayment:           "repayment",
	JournalTypeLiquidityDeposit:    "liquidity_deposit",
	JournalTypeLiquidityWithdrawal: "liquidity_withdrawal",
	JournalTypeLiquidationRepay:    "liquidation_repay",
	JournalTypeLiquidationSeize:    "liquidation_seize",
	JournalTypeCollateralSale:      "collateral_sale",
	JournalTypeSaleProceeds:        "sale_proceeds",
	JournalTypeLiquidationFee:      "liquidation_fee",
	JournalTypeProceedsFee:         "proceeds_fee",
	JournalTypeProceedsReturn:      "proceeds_return",
	JournalTypeEscrowAllocate:      "escrow_allocate",
	JournalTypeEscrowRelease:       "escrow_release",
}

func (t JournalType) String() string {
	if name, ok := journalTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("journal_type_%d", int32(t))
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Request id of the source command
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        uint64      // Base units, always positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Command timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from the credit account to the debit
// account, so every entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.Amount > math.MaxInt64 {
			return fmt.Errorf("journal %s amount %d exceeds ledger range", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
