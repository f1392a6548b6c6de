package decode

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrInvalidCurve is returned for calibration curves that cannot be evaluated.
var ErrInvalidCurve = errors.New("invalid calibration curve")

// Curve maps a raw register integer onto a physical value. Apply returns
// false when the raw value is outside the curve's domain.
type Curve interface {
	Apply(raw int64) (decimal.Decimal, bool)
}

// Linear maps [RawMin, RawMax] linearly onto [PhysMin, PhysMax] and rounds
// half-up to Places decimal places. Raw values outside the declared span are
// extrapolated.
type Linear struct {
	RawMin  int64
	RawMax  int64
	PhysMin decimal.Decimal
	PhysMax decimal.Decimal
	Places  int32
}

// NewLinear validates and returns a Linear curve.
func NewLinear(rawMin, rawMax int64, physMin, physMax decimal.Decimal, places int32) (Linear, error) {
	l := Linear{RawMin: rawMin, RawMax: rawMax, PhysMin: physMin, PhysMax: physMax, Places: places}
	return l, l.Validate()
}

// Validate rejects a zero-width raw span.
func (l Linear) Validate() error {
	if l.RawMin == l.RawMax {
		return fmt.Errorf("%w: linear raw span %d..%d is empty", ErrInvalidCurve, l.RawMin, l.RawMax)
	}
	if l.Places < 0 {
		return fmt.Errorf("%w: negative decimal places %d", ErrInvalidCurve, l.Places)
	}
	return nil
}

// Apply implements Curve.
func (l Linear) Apply(raw int64) (decimal.Decimal, bool) {
	return LinearRange(raw, l.RawMin, l.RawMax, l.PhysMin, l.PhysMax, l.Places)
}

// LinearRange computes
//
//	physMin + (raw - rawMin) * (physMax - physMin) / (rawMax - rawMin)
//
// in decimal arithmetic and rounds half-up to places. It returns false when
// rawMin equals rawMax.
func LinearRange(raw, rawMin, rawMax int64, physMin, physMax decimal.Decimal, places int32) (decimal.Decimal, bool) {
	if rawMax == rawMin {
		return decimal.Zero, false
	}
	den := decimal.NewFromInt(rawMax - rawMin)
	num := physMin.Mul(den).Add(decimal.NewFromInt(raw - rawMin).Mul(physMax.Sub(physMin)))
	return quoHalfUp(num, den, places), true
}

// quoHalfUp returns num/den rounded half away from zero to places, with a
// single rounding step on the exact quotient. den must not be zero.
func quoHalfUp(num, den decimal.Decimal, places int32) decimal.Decimal {
	num = num.Shift(places)
	k := -min(num.Exponent(), den.Exponent(), 0)
	n := num.Shift(k).BigInt()
	d := den.Shift(k).BigInt()

	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	r.Abs(r).Lsh(r, 1)
	if r.Cmp(new(big.Int).Abs(d)) >= 0 {
		if n.Sign()*d.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return decimal.NewFromBigInt(q, -places)
}

// ScaleOffset computes raw*Scale + Offset, rounded half-up to Places.
type ScaleOffset struct {
	Scale  decimal.Decimal
	Offset decimal.Decimal
	Places int32
}

// Apply implements Curve.
func (s ScaleOffset) Apply(raw int64) (decimal.Decimal, bool) {
	return decimal.NewFromInt(raw).Mul(s.Scale).Add(s.Offset).Round(s.Places), true
}

// Polynomial evaluates Coefficients[0] + Coefficients[1]*raw + ... with
// Horner's scheme and rounds half-up to Places.
type Polynomial struct {
	Coefficients []decimal.Decimal
	Places       int32
}

// Validate rejects an empty coefficient list.
func (p Polynomial) Validate() error {
	if len(p.Coefficients) == 0 {
		return fmt.Errorf("%w: polynomial has no coefficients", ErrInvalidCurve)
	}
	return nil
}

// Apply implements Curve.
func (p Polynomial) Apply(raw int64) (decimal.Decimal, bool) {
	if len(p.Coefficients) == 0 {
		return decimal.Zero, false
	}
	x := decimal.NewFromInt(raw)
	acc := decimal.Zero
	for i := len(p.Coefficients) - 1; i >= 0; i-- {
		acc = acc.Mul(x).Add(p.Coefficients[i])
	}
	return acc.Round(p.Places), true
}

// Calibrate decodes the integer at addr and maps it through curve. Missing
// words and sentinel values are both reported as unavailable, as are unsigned
// raws above math.MaxInt64 when a curve is set.
func Calibrate(src WordSource, addr int, dt DataType, curve Curve) (decimal.Decimal, bool) {
	n, ok := Read(src, addr, dt)
	if !ok || n.IsSentinel() {
		return decimal.Zero, false
	}
	if curve == nil {
		return n.Decimal(), true
	}
	if !n.Type.Signed && n.Raw > math.MaxInt64 {
		return decimal.Zero, false
	}
	return curve.Apply(n.Int64())
}
