package state

import "errors"

// Input validation
var (
	ErrZeroAmount           = errors.New("financing: amount must be greater than zero")
	ErrPositionTooSmall     = errors.New("financing: collateral value below minimum")
	ErrFinancingTooSmall    = errors.New("financing: financing amount below minimum")
	ErrInvalidTerm          = errors.New("financing: term end must be after term start")
	ErrNoPriceSources       = errors.New("financing: at least one price source is required")
	ErrTooManyPriceSources  = errors.New("financing: too many price sources")
	ErrInvalidPriceSource   = errors.New("financing: price source must not be the default identity")
	ErrInvalidLtvOrdering   = errors.New("financing: ltv parameters must satisfy initial <= max <= threshold")
	ErrMaxLtvTooHigh        = errors.New("financing: max ltv above ceiling")
	ErrThresholdTooHigh     = errors.New("financing: liquidation threshold above ceiling")
	ErrThresholdGapTooSmall = errors.New("financing: liquidation threshold too close to max ltv")
	ErrNegativeEquity       = errors.New("financing: collateral value does not exceed markup")
	ErrUnknownAsset         = errors.New("financing: unknown asset")
	ErrInvalidDelegate      = errors.New("financing: delegate must not be the default identity")
	ErrInvalidPercentage    = errors.New("liquidation: percentage out of range")
	ErrSlippageTooHigh      = errors.New("liquidation: slippage above ceiling")
	ErrInvalidSlot          = errors.New("liquidation: snapshot slot must be positive")
	ErrDepositTooSmall      = errors.New("pool: deposit too small to mint shares")
	ErrInvalidAuthority     = errors.New("protocol: authority must not be the default identity")
	ErrZeroCollateral       = errors.New("financing: collateral value must be positive")
)

// Authorization
var (
	ErrUnauthorized            = errors.New("unauthorized caller")
	ErrUnauthorizedPriceSource = errors.New("financing: caller is not an allow-listed price source")
	ErrInvalidLiquidator       = errors.New("liquidation: no delegated liquidator registered")
)

// Arithmetic
var (
	ErrMathOverflow = errors.New("math overflow")
)

// Lifecycle state
var (
	ErrProtocolPaused           = errors.New("protocol: paused")
	ErrPoolPaused               = errors.New("pool: paused")
	ErrAlreadyPaused            = errors.New("already paused")
	ErrNotPaused                = errors.New("not paused")
	ErrAlreadyInitialized       = errors.New("protocol: already initialized")
	ErrNotInitialized           = errors.New("protocol: not initialized")
	ErrPositionNotFound         = errors.New("financing: position not found")
	ErrInvalidStatus            = errors.New("financing: invalid position status")
	ErrNotMatured               = errors.New("financing: position has not matured")
	ErrAlreadyMatured           = errors.New("financing: position already past term end")
	ErrLtvBreach                = errors.New("financing: ltv above max ltv")
	ErrNotInPermissionlessBand  = errors.New("liquidation: ltv outside permissionless band")
	ErrNotInForcedBand          = errors.New("liquidation: ltv below protocol-forced threshold")
	ErrThresholdNotBreached     = errors.New("liquidation: threshold not breached")
	ErrDoubleLiquidation        = errors.New("liquidation: snapshot already frozen")
	ErrSnapshotMissing          = errors.New("liquidation: snapshot missing")
	ErrSnapshotExpired          = errors.New("liquidation: snapshot expired")
	ErrAlreadyExecuted          = errors.New("liquidation: already executed")
	ErrNotExecuted              = errors.New("liquidation: not executed")
	ErrSeizureExceedsCollateral = errors.New("liquidation: seizure exceeds remaining collateral")
	ErrFeeExceedsCollateral     = errors.New("financing: early close fee consumes collateral")
	ErrSharePriceRegression     = errors.New("pool: share price would regress")
	ErrSharePriceZero           = errors.New("pool: share price would reach zero")
	ErrPoolInsolvent            = errors.New("pool: shares outstanding against zero balance")
	ErrUnderCollateralized      = errors.New("pool: locked exceeds balance")
	ErrClockRegression          = errors.New("protocol: command stamped before the engine clock")
	ErrOraclePaused             = errors.New("oracle: price updates paused")
)

// Resources
var (
	ErrInsufficientLiquidity         = errors.New("pool: insufficient liquidity")
	ErrInsufficientShares            = errors.New("pool: insufficient shares")
	ErrInsufficientBalanceForClosure = errors.New("financing: insufficient balance for closure")
	ErrTooManyPositions              = errors.New("financing: too many open positions")
)
