package pricing

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
)

// Variables binds price-function variable names to values. Values that are not
// numbers make the operand invalid.
type Variables map[string]any

// UnitUse marks pay-per-use components charged once as a flat fee on purchase.
const UnitUse = "use"

// Resolver evaluates price components into costs.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the literal value of a plain component, or evaluates its
// price function against vars.
func (r *Resolver) Resolve(component purchasedomain.Component, vars Variables) (decimal.Decimal, error) {
	if component.PriceFunction == nil {
		return component.Value, nil
	}
	return r.Evaluate(*component.PriceFunction, vars)
}

// Evaluate computes arg1 operation arg2. The operation is validated before
// the operands.
func (r *Resolver) Evaluate(fn purchasedomain.PriceFunction, vars Variables) (decimal.Decimal, error) {
	op := strings.TrimSpace(fn.Operation)
	switch op {
	case "+", "-", "*", "/":
	default:
		return decimal.Zero, ErrUnsupportedOperation
	}

	arg1, ok := operandValue(fn.Arg1, vars)
	if !ok {
		return decimal.Zero, ErrInvalidArgument1
	}
	arg2, ok := operandValue(fn.Arg2, vars)
	if !ok {
		return decimal.Zero, ErrInvalidArgument2
	}

	switch op {
	case "+":
		return arg1.Add(arg2), nil
	case "-":
		return arg1.Sub(arg2), nil
	case "*":
		return arg1.Mul(arg2), nil
	default:
		if arg2.IsZero() {
			return decimal.Zero, ErrInvalidArgument2
		}
		return arg1.Div(arg2), nil
	}
}

func operandValue(o purchasedomain.Operand, vars Variables) (decimal.Decimal, bool) {
	if o.Literal != nil {
		return *o.Literal, true
	}
	name := strings.TrimSpace(o.Variable)
	if name == "" {
		return decimal.Zero, false
	}
	if bound, ok := vars[name]; ok {
		return numeric(bound)
	}
	if v, err := decimal.NewFromString(name); err == nil {
		return v, true
	}
	return decimal.Zero, false
}

func numeric(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
