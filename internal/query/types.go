package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse is one projected account balance.
type BalanceResponse struct {
	Account      string          `json:"account"`
	Asset        string          `json:"asset"`
	Raw          string          `json:"raw"`
	Amount       decimal.Decimal `json:"amount"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PositionResponse is a position as of the projection watermark, or as of
// a requested sequence.
type PositionResponse struct {
	Owner                uuid.UUID       `json:"owner"`
	Index                uint64          `json:"index"`
	Status               string          `json:"status"`
	CollateralAsset      string          `json:"collateral_asset"`
	CollateralAmount     decimal.Decimal `json:"collateral_amount"`
	CollateralValue      decimal.Decimal `json:"collateral_value"`
	FinancedAsset        string          `json:"financed_asset"`
	FinancedAmount       decimal.Decimal `json:"financed_amount"`
	DeferredPayment      decimal.Decimal `json:"deferred_payment"`
	CurrentLtvBps        int64           `json:"current_ltv_bps"`
	CurrentLtv           decimal.Decimal `json:"current_ltv_pct"`
	MaxLtvBps            int64           `json:"max_ltv_bps"`
	LiquidationThreshold int64           `json:"liquidation_threshold_bps"`
	TermEnd              int64           `json:"term_end"`
	LiquidationDelegate  *uuid.UUID      `json:"liquidation_delegate,omitempty"`
	SettlementDelegate   *uuid.UUID      `json:"settlement_delegate,omitempty"`
	Reclaimed            bool            `json:"reclaimed"`
	Version              int64           `json:"version"`
	LastSequence         int64           `json:"last_sequence"`
	AsOfSequence         int64           `json:"as_of_sequence"`
}

// PoolResponse is the liquidity pool as of a sequence.
type PoolResponse struct {
	Sequence       int64           `json:"sequence"`
	Asset          string          `json:"asset"`
	Authority      uuid.UUID       `json:"authority"`
	Paused         bool            `json:"paused"`
	TotalShares    string          `json:"total_shares"`
	Balance        decimal.Decimal `json:"balance"`
	Locked         decimal.Decimal `json:"locked"`
	PendingBadDebt decimal.Decimal `json:"pending_bad_debt"`
	UtilizationBps int64           `json:"utilization_bps"`
	Utilization    decimal.Decimal `json:"utilization_pct"`
	SharePrice     decimal.Decimal `json:"share_price"`
	ApyBps         int64           `json:"apy_bps"`
	Apy            decimal.Decimal `json:"apy_pct"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

// LiquidationResponse is one liquidation history row. Amounts are raw units:
// debt and fee in the financed asset, seized and returned in collateral.
type LiquidationResponse struct {
	Sequence         int64     `json:"sequence"`
	Kind             string    `json:"kind"`
	Owner            uuid.UUID `json:"owner"`
	Index            uint64    `json:"index"`
	Liquidator       uuid.UUID `json:"liquidator"`
	DebtRepaid       string    `json:"debt_repaid"`
	CollateralSeized string    `json:"collateral_seized"`
	Bonus            string    `json:"bonus"`
	ProtocolFee      string    `json:"protocol_fee"`
	OwnerReturn      string    `json:"owner_return"`
	Shortfall        string    `json:"shortfall"`
	FullyLiquidated  bool      `json:"fully_liquidated"`
	Timestamp        time.Time `json:"timestamp"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal row touching an owner's accounts.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	Timestamp     int64           `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	CheckedEvents    int64             `json:"checked_events"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose balances do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
