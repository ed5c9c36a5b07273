package types

import (
	"github.com/shopspring/decimal"

	"github.com/Kent0008/breakers-nurik/errors"
)

// Reading values are stored as NUMERIC(10,3).
const (
	ValueScale  = 3
	ValueDigits = 10
)

var maxValue = decimal.New(1, ValueDigits-ValueScale)

// NormalizeValue rounds v to the stored scale and rejects values that do not
// fit the column.
func NormalizeValue(v decimal.Decimal) (decimal.Decimal, error) {
	rounded := v.Round(ValueScale)
	if rounded.Abs().GreaterThanOrEqual(maxValue) {
		return decimal.Decimal{}, errors.WrapInvalid(errors.ErrInvalidPayload, "types", "NormalizeValue",
			"value "+v.String()+" out of range")
	}
	return rounded, nil
}
