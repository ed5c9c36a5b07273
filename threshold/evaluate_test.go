package threshold

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kent0008/breakers-nurik/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limit(lo, hi string) *types.ThresholdLimit {
	var pl, ph *decimal.Decimal
	if lo != "" {
		v := d(lo)
		pl = &v
	}
	if hi != "" {
		v := d(hi)
		ph = &v
	}
	l := types.NewLimit("WOB", pl, ph)
	return &l
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		limit *types.ThresholdLimit
		value string
		want  types.ViolationKind
	}{
		{"no limit", nil, "1000", ""},
		{"inside", limit("10", "25"), "15", ""},
		{"above max", limit("10", "25"), "30.0", types.AboveMax},
		{"below min", limit("10", "25"), "5", types.BelowMin},
		{"equal max", limit("10", "25"), "25.000", ""},
		{"equal min", limit("10", "25"), "10.0", ""},
		{"max only above", limit("", "25"), "25.001", types.AboveMax},
		{"max only low value", limit("", "25"), "-100", ""},
		{"min only below", limit("10", ""), "9.999", types.BelowMin},
		{"min only high value", limit("10", ""), "1e6", ""},
		{"no bounds", limit("", ""), "42", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.limit, d(tt.value))
			if tt.want == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.want, v.Kind)
			assert.Equal(t, *tt.limit, v.Limit)
		})
	}
}

// An inverted limit can only exist if a writer skipped validation; the lower
// bound is checked first so such a limit reports below_min.
func TestEvaluate_MinCheckedFirst(t *testing.T) {
	l := &types.ThresholdLimit{
		Tag: "WOB",
		Min: decimal.NewNullDecimal(d("30")),
		Max: decimal.NewNullDecimal(d("10")),
	}
	v := Evaluate(l, d("20"))
	require.NotNil(t, v)
	assert.Equal(t, types.BelowMin, v.Kind)
}
