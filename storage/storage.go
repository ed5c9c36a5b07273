// Package storage defines the persistence contracts of the telemetry core.
package storage

import (
	"context"

	"github.com/Kent0008/breakers-nurik/types"
)

// ReadingStore is the append-only log of sensor readings.
//
// InsertReading assigns r.ID on success. LatestReading returns the reading
// with the greatest producer timestamp for tag, or nil when the tag has none.
type ReadingStore interface {
	InsertReading(ctx context.Context, r *types.Reading) error
	LatestReading(ctx context.Context, tag string) (*types.Reading, error)
}

// ThresholdStore holds at most one limit per tag.
//
// GetThreshold returns nil without error when no limit is configured.
// UpsertThreshold validates the limit before writing it.
type ThresholdStore interface {
	GetThreshold(ctx context.Context, tag string) (*types.ThresholdLimit, error)
	ListThresholds(ctx context.Context) ([]types.ThresholdLimit, error)
	UpsertThreshold(ctx context.Context, l types.ThresholdLimit) error
}

// IncidentStore is the append-only log of limit violations.
// InsertIncident assigns inc.ID on success.
type IncidentStore interface {
	InsertIncident(ctx context.Context, inc *types.Incident) error
}

// Store combines every contract. Implementations must be safe for concurrent use.
type Store interface {
	ReadingStore
	ThresholdStore
	IncidentStore
	Close() error
}
