package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// All stock quantities, unit multipliers and currency amounts are stored as
// scaled int64 ("milli" units, scale 1000). Floating point only appears at
// the JSON boundary; accumulating raw float products across line items
// drifts, so every conversion rounds once and stays integer afterwards.
const FixedPointScale = 1000

// ToMilli converts a boundary value (e.g. client-sent quantity 2.5) to
// scaled integer form. Rounds half away from zero.
func ToMilli(v float64) int64 {
	return int64(math.Round(v * FixedPointScale))
}

// FromMilli converts a scaled integer back to a plain number for responses.
// Goes through decimal so 1/1000 denominators stay exact.
func FromMilli(v int64) float64 {
	f, _ := decimal.New(v, -3).Float64()
	return f
}

// MulMilli multiplies two milli-scaled values and rescales the result,
// rounding half away from zero. (a/1000 * b/1000) * 1000.
func MulMilli(a, b int64) int64 {
	return decimal.New(a, -3).Mul(decimal.New(b, -3)).Mul(decimal.NewFromInt(FixedPointScale)).Round(0).IntPart()
}

// MilliDecimal renders a milli-scaled value as a decimal for exports.
func MilliDecimal(v int64) decimal.Decimal {
	return decimal.New(v, -3)
}

// AbsInt64 is the integer absolute value; math.Abs would round-trip float64.
func AbsInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
