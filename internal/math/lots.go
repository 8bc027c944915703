package math

import gomath "math"

// CheckedMulLots returns a*b, or false if the product leaves int64.
func CheckedMulLots(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == gomath.MinInt64) || (b == -1 && a == gomath.MinInt64) {
		return 0, false
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}

// CheckedAddLots returns a+b, or false if the sum leaves int64.
func CheckedAddLots(a, b int64) (int64, bool) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, false
	}
	return c, true
}

// MulLots is CheckedMulLots raising an OverflowError panic.
func MulLots(a, b int64) int64 {
	c, ok := CheckedMulLots(a, b)
	if !ok {
		panic(&OverflowError{Op: "lot product"})
	}
	return c
}

// AddLots is CheckedAddLots raising an OverflowError panic.
func AddLots(a, b int64) int64 {
	c, ok := CheckedAddLots(a, b)
	if !ok {
		panic(&OverflowError{Op: "lot sum"})
	}
	return c
}
