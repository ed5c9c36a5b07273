package testutil

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Kent0008/breakers-nurik/types"
)

// Sample payloads as producers send them.
var (
	PayloadWithTimestamp    = []byte(`{"value": 1523.4, "timestamp": "2024-03-01T10:15:30Z"}`)
	PayloadWithoutTimestamp = []byte(`{"value": 12.5}`)
	PayloadStringValue      = []byte(`{"value": "87.125", "timestamp": "2024-03-01T10:15:30+03:00"}`)
	PayloadBadTimestamp     = []byte(`{"value": 3.5, "timestamp": "yesterday"}`)
	PayloadMissingValue     = []byte(`{"timestamp": "2024-03-01T10:15:30Z"}`)
	PayloadNotJSON          = []byte(`value=3.5`)
)

// Dec parses a decimal literal or fails the test.
func Dec(t testing.TB, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// Reading builds a reading for tag with the given value and timestamp.
func Reading(t testing.TB, tag, value string, ts time.Time) types.Reading {
	t.Helper()
	return types.Reading{Tag: tag, Value: Dec(t, value), Timestamp: ts, ReceivedAt: ts}
}

// Limit builds a threshold limit. An empty bound string means unbounded.
func Limit(t testing.TB, tag, lo, hi string) types.ThresholdLimit {
	t.Helper()
	var lower, upper *decimal.Decimal
	if lo != "" {
		d := Dec(t, lo)
		lower = &d
	}
	if hi != "" {
		d := Dec(t, hi)
		upper = &d
	}
	return types.NewLimit(tag, lower, upper)
}
