// Package fixedpoint implements the integer arithmetic used by the pool:
// every ratio is an int64 scaled by 1e3 (Ppt), 1e6 (Ppm), 1e9 (Ppb) or
// 1e15 (Ppq), and every scaled product is floored.
//
// Intermediate products go through shopspring/decimal so a*b never
// overflows int64 before the division.
package fixedpoint

import "github.com/shopspring/decimal"

const (
	Ppt int64 = 1_000
	Ppm int64 = 1_000_000
	Ppb int64 = 1_000_000_000
)

// MulDiv returns floor(a*b/c). It panics if c is zero.
func MulDiv(a, b, c int64) int64 {
	num := decimal.NewFromInt(a).Mul(decimal.NewFromInt(b))
	return FloorDiv(num, c)
}

// Div returns floor(a/c).
func Div(a, c int64) int64 {
	return FloorDiv(decimal.NewFromInt(a), c)
}

// FloorDiv returns floor(num/c) for an exact decimal numerator.
func FloorDiv(num decimal.Decimal, c int64) int64 {
	if c == 0 {
		panic("fixedpoint: division by zero")
	}
	den := decimal.NewFromInt(c)
	q, r := num.QuoRem(den, 0)
	if !r.IsZero() && (r.Sign() < 0) != (den.Sign() < 0) {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.IntPart()
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// SubFloor returns a-b clamped at zero.
func SubFloor(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}
