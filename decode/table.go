package decode

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Point is one documented reference pair of a nonlinear curve.
type Point struct {
	Raw   int64
	Value decimal.Decimal
}

// Table is a piecewise-linear curve through documented reference points.
// Results are exact at the reference points and interpolated between them.
// Raw values outside the first and last point are unavailable.
type Table struct {
	Name   string
	Unit   string
	Points []Point
	Places int32
}

// NewTable sorts points by raw value and validates the table.
func NewTable(name, unit string, places int32, points ...Point) (Table, error) {
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })
	t := Table{Name: name, Unit: unit, Points: sorted, Places: places}
	return t, t.Validate()
}

// Validate requires at least two points with strictly ascending raw values.
func (t Table) Validate() error {
	if len(t.Points) < 2 {
		return fmt.Errorf("%w: table %s needs at least two points", ErrInvalidCurve, t.Name)
	}
	for i := 1; i < len(t.Points); i++ {
		if t.Points[i].Raw <= t.Points[i-1].Raw {
			return fmt.Errorf("%w: table %s raw values must be strictly ascending", ErrInvalidCurve, t.Name)
		}
	}
	return nil
}

// Apply implements Curve.
func (t Table) Apply(raw int64) (decimal.Decimal, bool) {
	n := len(t.Points)
	if n < 2 || raw < t.Points[0].Raw || raw > t.Points[n-1].Raw {
		return decimal.Zero, false
	}
	i := sort.Search(n, func(i int) bool { return t.Points[i].Raw >= raw })
	if t.Points[i].Raw == raw {
		return t.Points[i].Value.Round(t.Places), true
	}
	lo, hi := t.Points[i-1], t.Points[i]
	return LinearRange(raw, lo.Raw, hi.Raw, lo.Value, hi.Value, t.Places)
}

// Thermocouple curves of analog input modules reporting full scale as 0x7FFF.
var (
	ThermocoupleJ = Table{Name: "type_j", Unit: "°C", Places: 2, Points: []Point{
		{Raw: 0x0000, Value: decimal.Zero},
		{Raw: 0x7FFF, Value: decimal.NewFromInt(760)},
	}}
	ThermocoupleK = Table{Name: "type_k", Unit: "°C", Places: 2, Points: []Point{
		{Raw: 0x0000, Value: decimal.Zero},
		{Raw: 0x7FFF, Value: decimal.NewFromInt(1370)},
	}}
	ThermocoupleE = Table{Name: "type_e", Unit: "°C", Places: 2, Points: []Point{
		{Raw: 0x0000, Value: decimal.Zero},
		{Raw: 0x7FFF, Value: decimal.NewFromInt(1000)},
	}}
)

// Thermocouple maps a raw thermocouple reading through curve.
func Thermocouple(raw int64, curve Table) (decimal.Decimal, bool) {
	return curve.Apply(raw)
}
