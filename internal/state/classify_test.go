package state

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/x5th/x-leverage/internal/ledger"
	fpmath "github.com/x5th/x-leverage/internal/math"
	"github.com/x5th/x-leverage/internal/oracle"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCategory
	}{
		{ErrZeroAmount, CategoryValidation},
		{fmt.Errorf("open position: %w", ErrInvalidLtvOrdering), CategoryValidation},
		{ErrInvalidLiquidator, CategoryAuthorization},
		{fmt.Errorf("%w: %v", ErrMathOverflow, fpmath.ErrOverflow), CategoryArithmetic},
		{fpmath.ErrDivisionByZero, CategoryArithmetic},
		{ErrProtocolPaused, CategoryState},
		{fmt.Errorf("%w: ltv 9000 > max 8000", ErrLtvBreach), CategoryState},
		{oracle.ErrPriceStale, CategoryState},
		{fmt.Errorf("%w: slot 3 before 4", ErrClockRegression), CategoryState},
		{ErrOraclePaused, CategoryState},
		{oracle.ErrInconsistentFeeds, CategoryState},
		{oracle.ErrSourceAssetMismatch, CategoryValidation},
		{ErrInsufficientLiquidity, CategoryResource},
		{fmt.Errorf("apply batch: %w", ledger.ErrInsufficientFunds), CategoryResource},
		{errors.New("disk on fire"), CategoryInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestReason_StripsContext(t *testing.T) {
	err := fmt.Errorf("%w: ltv 9000 > max 8000", ErrLtvBreach)
	assert.Equal(t, ErrLtvBreach.Error(), Reason(err))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
}
