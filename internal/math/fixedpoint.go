package math

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits of I80F48.
const FracBits = 48

var (
	// bounds of the signed 128-bit range, sign-extended to 256 bits
	maxRaw = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 127), uint256.NewInt(1))
	minRaw = new(uint256.Int).Neg(new(uint256.Int).Lsh(uint256.NewInt(1), 127))

	fracMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), FracBits), uint256.NewInt(1))

	// 5^48 turns an integer scaled by 2^48 into an exact decimal with exponent -48
	fivePow48 = new(big.Int).Exp(big.NewInt(5), big.NewInt(FracBits), nil)
)

var (
	Zero = I80F48{}
	One  = FromInt(1)
	Two  = FromInt(2)

	// Epsilon is the smallest positive value, 2^-48.
	Epsilon = I80F48{raw: *uint256.NewInt(1)}

	// MaxValue and MinValue are the extremes of the representable range.
	MaxValue = I80F48{raw: *maxRaw}
	MinValue = I80F48{raw: *minRaw}
)

// OverflowError is raised (as a panic value) when a fixed-point operation
// leaves the signed 128-bit range or divides by zero. The engine boundary
// recovers it and fails the operation with a math error.
type OverflowError struct {
	Op string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("fixed-point overflow in %s", e.Op)
}

// I80F48 is a signed 128-bit fixed-point number with 48 fractional bits.
// The raw value is held sign-extended in a 256-bit word so that products of
// two in-range values never wrap before the range check.
type I80F48 struct {
	raw uint256.Int
}

func checked(op string, v *uint256.Int) I80F48 {
	if v.Sgt(maxRaw) || v.Slt(minRaw) {
		panic(&OverflowError{Op: op})
	}
	return I80F48{raw: *v}
}

func inRange(v *uint256.Int) bool {
	return !v.Sgt(maxRaw) && !v.Slt(minRaw)
}

// FromInt returns n as a fixed-point value.
func FromInt(n int64) I80F48 {
	var v uint256.Int
	if n < 0 {
		v.SetUint64(uint64(-(n + 1)) + 1)
		v.Lsh(&v, FracBits)
		v.Neg(&v)
	} else {
		v.SetUint64(uint64(n))
		v.Lsh(&v, FracBits)
	}
	return I80F48{raw: v}
}

// FromUint returns n as a fixed-point value.
func FromUint(n uint64) I80F48 {
	var v uint256.Int
	v.SetUint64(n)
	v.Lsh(&v, FracBits)
	return I80F48{raw: v}
}

// FromRatio returns num/den.
func FromRatio(num, den int64) I80F48 {
	return FromInt(num).Div(FromInt(den))
}

// FromBits builds a value from its raw signed 128-bit representation.
func FromBits(b *big.Int) (I80F48, error) {
	v, overflow := uint256.FromBig(b)
	if overflow || !inRange(v) {
		return Zero, &OverflowError{Op: "from bits"}
	}
	return I80F48{raw: *v}, nil
}

// FromDecimal converts a decimal, truncating digits finer than 2^-48.
func FromDecimal(d decimal.Decimal) (I80F48, error) {
	n := new(big.Int).Lsh(d.Coefficient(), FracBits)
	exp := d.Exponent()
	if exp >= 0 {
		n.Mul(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		n.Quo(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil))
	}
	return FromBits(n)
}

// MustParse parses a decimal literal and panics on failure. Intended for
// constants and tests.
func MustParse(s string) I80F48 {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse parses a decimal string such as "0.025" or "-9400".
func Parse(s string) (I80F48, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	return FromDecimal(d)
}

// Bits returns the raw signed 128-bit representation.
func (a I80F48) Bits() *big.Int {
	if a.raw.Sign() < 0 {
		var m uint256.Int
		m.Neg(&a.raw)
		return new(big.Int).Neg(m.ToBig())
	}
	return a.raw.ToBig()
}

// ToDecimal returns the exact decimal value.
func (a I80F48) ToDecimal() decimal.Decimal {
	n := a.Bits()
	n.Mul(n, fivePow48)
	return decimal.NewFromBigInt(n, -FracBits)
}

func (a I80F48) String() string {
	return a.ToDecimal().String()
}

// Float64 is lossy and only meant for metrics and logs.
func (a I80F48) Float64() float64 {
	f, _ := a.ToDecimal().Float64()
	return f
}

func (a I80F48) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *I80F48) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Bytes returns the 16-byte big-endian two's complement encoding, used for
// state hashing.
func (a I80F48) Bytes() [16]byte {
	b := a.raw.Bytes32()
	var out [16]byte
	copy(out[:], b[16:])
	return out
}

// --- arithmetic ---

func (a I80F48) Add(b I80F48) I80F48 {
	var v uint256.Int
	v.Add(&a.raw, &b.raw)
	return checked("add", &v)
}

func (a I80F48) Sub(b I80F48) I80F48 {
	var v uint256.Int
	v.Sub(&a.raw, &b.raw)
	return checked("sub", &v)
}

// Mul rounds toward negative infinity.
func (a I80F48) Mul(b I80F48) I80F48 {
	var x, y, p uint256.Int
	x.Abs(&a.raw)
	y.Abs(&b.raw)
	p.Mul(&x, &y)
	if a.raw.Sign()*b.raw.Sign() < 0 {
		p.Neg(&p)
	}
	p.SRsh(&p, FracBits)
	return checked("mul", &p)
}

// Div truncates toward zero.
func (a I80F48) Div(b I80F48) I80F48 {
	if b.raw.IsZero() {
		panic(&OverflowError{Op: "div by zero"})
	}
	var x, y, q uint256.Int
	x.Abs(&a.raw)
	y.Abs(&b.raw)
	x.Lsh(&x, FracBits)
	q.Div(&x, &y)
	if a.raw.Sign()*b.raw.Sign() < 0 {
		q.Neg(&q)
	}
	return checked("div", &q)
}

func (a I80F48) MulInt(n int64) I80F48 { return a.Mul(FromInt(n)) }
func (a I80F48) DivInt(n int64) I80F48 { return a.Div(FromInt(n)) }

// Pow raises a to a small non-negative integer power.
func (a I80F48) Pow(exp uint32) I80F48 {
	result := One
	base := a
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base)
		}
		exp >>= 1
		if exp > 0 {
			base = base.Mul(base)
		}
	}
	return result
}

func (a I80F48) Neg() I80F48 {
	var v uint256.Int
	v.Neg(&a.raw)
	return checked("neg", &v)
}

func (a I80F48) Abs() I80F48 {
	if a.raw.Sign() < 0 {
		return a.Neg()
	}
	return a
}

// CheckedAdd, CheckedSub, CheckedMul and CheckedDiv report overflow instead
// of panicking.
func (a I80F48) CheckedAdd(b I80F48) (I80F48, bool) { return try(func() I80F48 { return a.Add(b) }) }
func (a I80F48) CheckedSub(b I80F48) (I80F48, bool) { return try(func() I80F48 { return a.Sub(b) }) }
func (a I80F48) CheckedMul(b I80F48) (I80F48, bool) { return try(func() I80F48 { return a.Mul(b) }) }
func (a I80F48) CheckedDiv(b I80F48) (I80F48, bool) { return try(func() I80F48 { return a.Div(b) }) }

func try(f func() I80F48) (v I80F48, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, isOverflow := r.(*OverflowError); !isOverflow {
				panic(r)
			}
			v, ok = Zero, false
		}
	}()
	return f(), true
}

// --- comparison ---

func (a I80F48) Cmp(b I80F48) int {
	switch {
	case a.raw.Slt(&b.raw):
		return -1
	case a.raw.Sgt(&b.raw):
		return 1
	default:
		return 0
	}
}

func (a I80F48) Eq(b I80F48) bool  { return a.raw.Eq(&b.raw) }
func (a I80F48) Lt(b I80F48) bool  { return a.raw.Slt(&b.raw) }
func (a I80F48) Lte(b I80F48) bool { return !a.raw.Sgt(&b.raw) }
func (a I80F48) Gt(b I80F48) bool  { return a.raw.Sgt(&b.raw) }
func (a I80F48) Gte(b I80F48) bool { return !a.raw.Slt(&b.raw) }

func (a I80F48) IsZero() bool     { return a.raw.IsZero() }
func (a I80F48) IsPositive() bool { return a.raw.Sign() > 0 }
func (a I80F48) IsNegative() bool { return a.raw.Sign() < 0 }
func (a I80F48) Sign() int        { return a.raw.Sign() }

func Min(a, b I80F48) I80F48 {
	if a.Lt(b) {
		return a
	}
	return b
}

func Max(a, b I80F48) I80F48 {
	if a.Gt(b) {
		return a
	}
	return b
}

// Clamp bounds a to [lo, hi].
func (a I80F48) Clamp(lo, hi I80F48) I80F48 {
	return Min(Max(a, lo), hi)
}

// --- rounding ---

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown                         // toward negative infinity
	RoundUp                           // toward positive infinity
)

// Floor rounds toward negative infinity.
func (a I80F48) Floor() I80F48 {
	var v uint256.Int
	v.SRsh(&a.raw, FracBits)
	v.Lsh(&v, FracBits)
	return I80F48{raw: v}
}

// Ceil rounds toward positive infinity.
func (a I80F48) Ceil() I80F48 {
	f := a.Floor()
	if f.Eq(a) {
		return f
	}
	return f.Add(One)
}

func (a I80F48) frac() *uint256.Int {
	var v uint256.Int
	v.And(&a.raw, fracMask)
	return &v
}

// Round rounds to the nearest integer with the given mode.
func (a I80F48) Round(mode RoundingMode) I80F48 {
	switch mode {
	case RoundDown:
		return a.Floor()
	case RoundUp:
		return a.Ceil()
	}
	f := a.Floor()
	half := new(uint256.Int).Lsh(uint256.NewInt(1), FracBits-1)
	rem := a.frac()
	switch rem.Cmp(half) {
	case 1:
		return f.Add(One)
	case -1:
		return f
	}
	// exactly half: round to even
	if f.ToInt64Trunc()%2 != 0 {
		return f.Add(One)
	}
	return f
}

// ToInt64 rounds with mode and converts to int64, panicking if out of range.
func (a I80F48) ToInt64(mode RoundingMode) int64 {
	return a.Round(mode).ToInt64Trunc()
}

// ToInt64Trunc drops the fractional bits (toward negative infinity) and
// converts to int64.
func (a I80F48) ToInt64Trunc() int64 {
	var v uint256.Int
	v.SRsh(&a.raw, FracBits)
	if v.Sign() < 0 {
		var m uint256.Int
		m.Neg(&v)
		if m.BitLen() > 63 && !(m.BitLen() == 64 && m.Uint64() == 1<<63) {
			panic(&OverflowError{Op: "to int64"})
		}
		return -int64(m.Uint64()-1) - 1
	}
	if v.BitLen() > 63 {
		panic(&OverflowError{Op: "to int64"})
	}
	return int64(v.Uint64())
}

// ToUint64 floors a non-negative value into a uint64.
func (a I80F48) ToUint64() uint64 {
	if a.IsNegative() {
		panic(&OverflowError{Op: "to uint64"})
	}
	var v uint256.Int
	v.Rsh(&a.raw, FracBits)
	if v.BitLen() > 64 {
		panic(&OverflowError{Op: "to uint64"})
	}
	return v.Uint64()
}
