// internal/math/fixedpoint.go
package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator uint64 = 10_000

var (
	ErrOverflow       = errors.New("math: arithmetic overflow")
	ErrUnderflow      = errors.New("math: arithmetic underflow")
	ErrDivisionByZero = errors.New("math: division by zero")
	ErrDecimals       = errors.New("math: decimal count out of range")
)

// MaxDecimals bounds Rescale so that 10^decimals fits in a uint64.
const MaxDecimals = 19

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven // Banker's rounding
)

// MulDiv computes a * b / d with a 256-bit intermediate, rounding down.
func MulDiv(a, b, d uint64) (uint64, error) {
	return MulDivRound(a, b, d, RoundDown)
}

// MulDivCeil computes a * b / d with a 256-bit intermediate, rounding up.
func MulDivCeil(a, b, d uint64) (uint64, error) {
	return MulDivRound(a, b, d, RoundUp)
}

// MulDivRound computes a * b / d and fails if the quotient does not fit in 64 bits.
func MulDivRound(a, b, d uint64, mode RoundingMode) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}

	num := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	den := uint256.NewInt(d)

	quo, rem := new(uint256.Int), new(uint256.Int)
	quo.DivMod(num, den, rem)

	if !rem.IsZero() {
		switch mode {
		case RoundUp:
			quo.AddUint64(quo, 1)
		case RoundHalfEven:
			twice := new(uint256.Int).Lsh(rem, 1)
			cmp := twice.Cmp(den)
			if cmp > 0 || (cmp == 0 && quo.Uint64()%2 == 1) {
				quo.AddUint64(quo, 1)
			}
		}
	}

	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

// CheckedMul returns a * b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	z, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// SaturatingSub returns a - b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// SaturatingAdd returns a + b clamped at the uint64 maximum.
func SaturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// ApplyBps returns amount * bps / 10_000 rounded down.
func ApplyBps(amount, bps uint64) (uint64, error) {
	return MulDiv(amount, bps, BpsDenominator)
}

// RatioBps returns numerator * 10_000 / denominator rounded down.
func RatioBps(numerator, denominator uint64) (uint64, error) {
	return MulDiv(numerator, BpsDenominator, denominator)
}

// Pow10 returns 10^decimals for decimals in [0, MaxDecimals].
func Pow10(decimals uint8) (uint64, error) {
	if decimals > MaxDecimals {
		return 0, ErrDecimals
	}
	p := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		p *= 10
	}
	return p, nil
}

// Rescale converts an amount between two decimal precisions.
// Scaling down rounds according to mode; scaling up fails on overflow.
func Rescale(amount uint64, fromDecimals, toDecimals uint8, mode RoundingMode) (uint64, error) {
	switch {
	case fromDecimals == toDecimals:
		return amount, nil
	case fromDecimals < toDecimals:
		factor, err := Pow10(toDecimals - fromDecimals)
		if err != nil {
			return 0, err
		}
		return CheckedMul(amount, factor)
	default:
		factor, err := Pow10(fromDecimals - toDecimals)
		if err != nil {
			return 0, err
		}
		return MulDivRound(amount, 1, factor, mode)
	}
}

// UnitsToValue converts token units into value units at a price quoted in
// value units per whole token: units * price / 10^unitDecimals.
func UnitsToValue(units, price uint64, unitDecimals uint8, mode RoundingMode) (uint64, error) {
	scale, err := Pow10(unitDecimals)
	if err != nil {
		return 0, err
	}
	return MulDivRound(units, price, scale, mode)
}

// ValueToUnits is the inverse of UnitsToValue: value * 10^unitDecimals / price.
func ValueToUnits(value, price uint64, unitDecimals uint8, mode RoundingMode) (uint64, error) {
	if price == 0 {
		return 0, ErrDivisionByZero
	}
	scale, err := Pow10(unitDecimals)
	if err != nil {
		return 0, err
	}
	return MulDivRound(value, scale, price, mode)
}
