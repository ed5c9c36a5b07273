// Package types contains the telemetry records shared across drillstream:
// readings, threshold limits and incidents.
package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kent0008/breakers-nurik/errors"
)

// Reading is one measurement of one sensor. Readings are never mutated.
type Reading struct {
	ID         int64           `json:"id,omitempty"`
	Tag        string          `json:"tag"`
	Value      decimal.Decimal `json:"value"`
	Timestamp  time.Time       `json:"timestamp"`   // producer supplied, may be out of order
	ReceivedAt time.Time       `json:"received_at"` // non-decreasing within a process
}

// ViolationKind names the side of a limit a value fell on.
type ViolationKind string

// Violation kinds
const (
	BelowMin ViolationKind = "below_min"
	AboveMax ViolationKind = "above_max"
)

// Valid reports whether k is a known kind.
func (k ViolationKind) Valid() bool {
	return k == BelowMin || k == AboveMax
}

// ThresholdLimit is the configured operating range of one tag. Either bound
// may be absent.
type ThresholdLimit struct {
	Tag       string              `json:"tag"`
	Min       decimal.NullDecimal `json:"min_value"`
	Max       decimal.NullDecimal `json:"max_value"`
	UpdatedAt time.Time           `json:"updated_at,omitempty"`
}

// NewLimit builds a limit from optional bounds.
func NewLimit(tag string, lo, hi *decimal.Decimal) ThresholdLimit {
	l := ThresholdLimit{Tag: tag}
	if lo != nil {
		l.Min = decimal.NewNullDecimal(*lo)
	}
	if hi != nil {
		l.Max = decimal.NewNullDecimal(*hi)
	}
	return l
}

// Validate enforces a non-empty tag and min < max when both bounds are set.
// Every write path calls it; the evaluator does not.
func (l ThresholdLimit) Validate() error {
	if l.Tag == "" {
		return errors.WrapInvalid(errors.ErrInvalidLimit, "ThresholdLimit", "Validate", "tag cannot be empty")
	}
	if l.Min.Valid && l.Max.Valid && !l.Min.Decimal.LessThan(l.Max.Decimal) {
		return errors.WrapInvalid(errors.ErrInvalidLimit, "ThresholdLimit", "Validate",
			"min "+l.Min.Decimal.String()+" must be below max "+l.Max.Decimal.String())
	}
	return nil
}

// Violation is the result of evaluating a value against a limit.
type Violation struct {
	Kind  ViolationKind
	Limit ThresholdLimit
}

// Incident records one limit violation. Incidents are never mutated and never
// deduplicated.
type Incident struct {
	ID           int64               `json:"id"`
	Tag          string              `json:"tag"`
	Value        decimal.Decimal     `json:"value"`
	ThresholdMin decimal.NullDecimal `json:"threshold_min"`
	ThresholdMax decimal.NullDecimal `json:"threshold_max"`
	Kind         ViolationKind       `json:"violation_kind"`
	Timestamp    time.Time           `json:"timestamp"`
	CreatedAt    time.Time           `json:"created_at"`
}

// NewIncident snapshots the limit bounds of v for reading r.
func NewIncident(r Reading, v Violation) Incident {
	return Incident{
		Tag:          r.Tag,
		Value:        r.Value,
		ThresholdMin: v.Limit.Min,
		ThresholdMax: v.Limit.Max,
		Kind:         v.Kind,
		Timestamp:    r.Timestamp,
		CreatedAt:    r.ReceivedAt,
	}
}
