// Package threshold decides whether a reading violates its tag's operating
// limit.
package threshold

import (
	"github.com/shopspring/decimal"

	"github.com/Kent0008/breakers-nurik/types"
)

// Evaluate applies limit to value. A nil limit never violates. The lower
// bound is checked first; equality with either bound is within range.
func Evaluate(limit *types.ThresholdLimit, value decimal.Decimal) *types.Violation {
	if limit == nil {
		return nil
	}
	if limit.Min.Valid && value.LessThan(limit.Min.Decimal) {
		return &types.Violation{Kind: types.BelowMin, Limit: *limit}
	}
	if limit.Max.Valid && value.GreaterThan(limit.Max.Decimal) {
		return &types.Violation{Kind: types.AboveMax, Limit: *limit}
	}
	return nil
}
