package state

import (
	"errors"

	"github.com/x5th/x-leverage/internal/exchange"
	"github.com/x5th/x-leverage/internal/ledger"
	fpmath "github.com/x5th/x-leverage/internal/math"
	"github.com/x5th/x-leverage/internal/oracle"
)

// ErrorCategory groups rejection reasons by what the caller must change
// before retrying.
type ErrorCategory uint8

const (
	CategoryInternal ErrorCategory = iota
	CategoryValidation
	CategoryAuthorization
	CategoryArithmetic
	CategoryState
	CategoryResource
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAuthorization:
		return "authorization"
	case CategoryArithmetic:
		return "arithmetic"
	case CategoryState:
		return "state"
	case CategoryResource:
		return "resource"
	default:
		return "internal"
	}
}

var categories = []struct {
	category ErrorCategory
	errs     []error
}{
	{CategoryValidation, []error{
		ErrZeroAmount, ErrPositionTooSmall, ErrFinancingTooSmall, ErrInvalidTerm,
		ErrNoPriceSources, ErrTooManyPriceSources, ErrInvalidPriceSource,
		ErrInvalidLtvOrdering, ErrMaxLtvTooHigh, ErrThresholdTooHigh,
		ErrThresholdGapTooSmall, ErrNegativeEquity, ErrUnknownAsset,
		ErrInvalidDelegate, ErrInvalidPercentage, ErrSlippageTooHigh,
		ErrInvalidSlot, ErrDepositTooSmall, ErrInvalidAuthority, ErrZeroCollateral,
		oracle.ErrInvalidPrice, oracle.ErrInvalidPriceSource, oracle.ErrSourceAssetChanged,
		oracle.ErrSourceAssetMismatch,
		exchange.ErrEmptyFill, fpmath.ErrDecimals,
	}},
	{CategoryAuthorization, []error{
		ErrUnauthorized, ErrUnauthorizedPriceSource, ErrInvalidLiquidator,
	}},
	{CategoryArithmetic, []error{
		ErrMathOverflow, fpmath.ErrOverflow, fpmath.ErrUnderflow,
		fpmath.ErrDivisionByZero, ledger.ErrBalanceOverflow,
	}},
	{CategoryState, []error{
		ErrProtocolPaused, ErrPoolPaused, ErrAlreadyPaused, ErrNotPaused,
		ErrAlreadyInitialized, ErrNotInitialized, ErrPositionNotFound,
		ErrInvalidStatus, ErrNotMatured, ErrAlreadyMatured, ErrLtvBreach,
		ErrNotInPermissionlessBand, ErrNotInForcedBand, ErrThresholdNotBreached,
		ErrDoubleLiquidation, ErrSnapshotMissing, ErrSnapshotExpired,
		ErrAlreadyExecuted, ErrNotExecuted, ErrSeizureExceedsCollateral,
		ErrFeeExceedsCollateral, ErrSharePriceRegression, ErrSharePriceZero,
		ErrPoolInsolvent, ErrUnderCollateralized, ErrClockRegression, ErrOraclePaused,
		oracle.ErrPriceNotFound, oracle.ErrPriceStale, oracle.ErrStaleUpdate,
		oracle.ErrInconsistentFeeds,
	}},
	{CategoryResource, []error{
		ErrInsufficientLiquidity, ErrInsufficientShares,
		ErrInsufficientBalanceForClosure, ErrTooManyPositions,
		ledger.ErrInsufficientFunds,
	}},
}

// Classify returns the category of a rejection. Wrapped errors are matched
// with errors.Is; the arithmetic category wins over any other it wraps.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryInternal
	}
	if errors.Is(err, ErrMathOverflow) {
		return CategoryArithmetic
	}
	for _, group := range categories {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.category
			}
		}
	}
	return CategoryInternal
}

// Reason returns the sentinel message of a rejection, without the context
// added by wrapping. Unknown errors return their full text.
func Reason(err error) string {
	for _, group := range categories {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
