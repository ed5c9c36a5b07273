package testutil

import (
	"context"
	"sync"

	"github.com/Kent0008/breakers-nurik/types"
)

// RecordingPublisher captures published events instead of delivering them.
type RecordingPublisher struct {
	mu        sync.Mutex
	readings  []types.Reading
	incidents []types.Incident
}

// NewRecordingPublisher creates an empty publisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// PublishReading records r and reports one delivery.
func (p *RecordingPublisher) PublishReading(_ context.Context, r types.Reading) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
	return 1
}

// PublishIncident records inc and reports one delivery.
func (p *RecordingPublisher) PublishIncident(_ context.Context, inc types.Incident) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incidents = append(p.incidents, inc)
	return 1
}

// Readings returns the published readings in order.
func (p *RecordingPublisher) Readings() []types.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Reading(nil), p.readings...)
}

// Incidents returns the published incidents in order.
func (p *RecordingPublisher) Incidents() []types.Incident {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Incident(nil), p.incidents...)
}
