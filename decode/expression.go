package decode

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"
)

// Expression is a calibration formula over the variable raw, for example
// "raw * 0.1 - 40" or "raw > 0 ? raw / 8 : 0.0".
type Expression struct {
	source  string
	program *vm.Program
	places  int32
}

// NewExpression compiles source. The formula must evaluate to a number.
func NewExpression(source string, places int32) (*Expression, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCurve)
	}
	program, err := expr.Compile(trimmed, expr.Env(map[string]interface{}{"raw": float64(0)}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %w", ErrInvalidCurve, trimmed, err)
	}
	return &Expression{source: trimmed, program: program, places: places}, nil
}

// Source returns the formula text.
func (e *Expression) Source() string {
	return e.source
}

// Apply implements Curve. Evaluation errors and non-finite results are
// unavailable.
func (e *Expression) Apply(raw int64) (decimal.Decimal, bool) {
	if e == nil || e.program == nil {
		return decimal.Zero, false
	}
	out, err := expr.Run(e.program, map[string]interface{}{"raw": float64(raw)})
	if err != nil {
		return decimal.Zero, false
	}
	v, ok := out.(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v).Round(e.places), true
}
