package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv_WideIntermediate(t *testing.T) {
	// a*b overflows 64 bits but the quotient fits.
	got, err := MulDiv(1<<63, 10_000, 20_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<62), got)
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	_, err := MulDiv(^uint64(0), 10_000, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulDivRound_Modes(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		d    uint64
		mode RoundingMode
		want uint64
	}{
		{"down", 7, 1, 2, RoundDown, 3},
		{"up", 7, 1, 2, RoundUp, 4},
		{"up exact", 8, 1, 2, RoundUp, 4},
		{"half even rounds to even", 5, 1, 2, RoundHalfEven, 2},
		{"half even rounds up odd", 7, 1, 2, RoundHalfEven, 4},
		{"half even above half", 8, 1, 3, RoundHalfEven, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDivRound(tt.a, tt.b, tt.d, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := CheckedAdd(^uint64(0), 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = CheckedSub(1, 2)
	assert.ErrorIs(t, err, ErrUnderflow)

	_, err = CheckedMul(1<<32, 1<<32)
	assert.ErrorIs(t, err, ErrOverflow)

	v, err := CheckedMul(1<<31, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<62), v)

	assert.Equal(t, uint64(0), SaturatingSub(3, 5))
	assert.Equal(t, ^uint64(0), SaturatingAdd(^uint64(0), 5))
}

func TestApplyBpsAndRatio(t *testing.T) {
	markup, err := ApplyBps(100_000_000, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), markup)

	ltv, err := RatioBps(100_000_000, 200_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), ltv)
}

func TestRescale(t *testing.T) {
	up, err := Rescale(1_500_000, 6, 8, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), up)

	down, err := Rescale(150_000_099, 8, 6, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), down)

	ceil, err := Rescale(150_000_001, 8, 6, RoundUp)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_001), ceil)

	_, err = Rescale(^uint64(0), 0, 2, RoundDown)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Rescale(1, 0, 25, RoundDown)
	assert.ErrorIs(t, err, ErrDecimals)
}

func TestUnitsValueRoundTrip(t *testing.T) {
	// 2 SOL (9 decimals) at 150 USDC (6 decimals) per SOL.
	price := uint64(150_000_000)
	value, err := UnitsToValue(2_000_000_000, price, 9, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000_000), value)

	units, err := ValueToUnits(value, price, 9, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000_000), units)

	_, err = ValueToUnits(1, 0, 9, RoundDown)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}
