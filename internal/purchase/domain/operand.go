package domain

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// Operand is a price-function argument: a literal number or the name of a
// variable bound at evaluation time.
type Operand struct {
	Literal  *decimal.Decimal
	Variable string
}

func Literal(v decimal.Decimal) Operand {
	return Operand{Literal: &v}
}

func Variable(name string) Operand {
	return Operand{Variable: name}
}

func (o Operand) MarshalJSON() ([]byte, error) {
	if o.Literal != nil {
		return []byte(o.Literal.String()), nil
	}
	return json.Marshal(o.Variable)
}

func (o *Operand) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return errors.New("operand cannot be null")
	}
	if b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*o = Operand{Variable: name}
		return nil
	}
	v, err := decimal.NewFromString(string(b))
	if err != nil {
		return err
	}
	*o = Operand{Literal: &v}
	return nil
}
