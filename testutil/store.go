package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/types"
)

// Store operation names accepted by MemoryStore.FailOn.
const (
	OpInsertReading   = "insert_reading"
	OpLatestReading   = "latest_reading"
	OpGetThreshold    = "get_threshold"
	OpListThresholds  = "list_thresholds"
	OpUpsertThreshold = "upsert_threshold"
	OpInsertIncident  = "insert_incident"
)

// MemoryStore is an in-memory storage.Store. Failures can be injected per
// operation and call counts are recorded for verification.
// Thread-safe for concurrent use from multiple goroutines.
type MemoryStore struct {
	mu         sync.Mutex
	readings   []types.Reading
	thresholds map[string]types.ThresholdLimit
	incidents  []types.Incident
	nextID     int64

	failures map[string]error
	calls    map[string]int
	closed   bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		thresholds: make(map[string]types.ThresholdLimit),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// FailOn makes op return err until cleared with a nil err.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked, failed calls included.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return errors.ErrStorageUnavailable
	}
	return s.failures[op]
}

// InsertReading implements storage.ReadingStore.
func (s *MemoryStore) InsertReading(ctx context.Context, r *types.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpInsertReading); err != nil {
		return err
	}
	s.nextID++
	r.ID = s.nextID
	s.readings = append(s.readings, *r)
	return nil
}

// LatestReading implements storage.ReadingStore.
func (s *MemoryStore) LatestReading(ctx context.Context, tag string) (*types.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpLatestReading); err != nil {
		return nil, err
	}
	var latest *types.Reading
	for i := range s.readings {
		r := &s.readings[i]
		if r.Tag != tag {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) ||
			(r.Timestamp.Equal(latest.Timestamp) && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// GetThreshold implements storage.ThresholdStore.
func (s *MemoryStore) GetThreshold(ctx context.Context, tag string) (*types.ThresholdLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpGetThreshold); err != nil {
		return nil, err
	}
	l, ok := s.thresholds[tag]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// ListThresholds implements storage.ThresholdStore.
func (s *MemoryStore) ListThresholds(ctx context.Context) ([]types.ThresholdLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpListThresholds); err != nil {
		return nil, err
	}
	out := make([]types.ThresholdLimit, 0, len(s.thresholds))
	for _, l := range s.thresholds {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// UpsertThreshold implements storage.ThresholdStore.
func (s *MemoryStore) UpsertThreshold(ctx context.Context, l types.ThresholdLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpUpsertThreshold); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now()
	}
	s.thresholds[l.Tag] = l
	return nil
}

// InsertIncident implements storage.IncidentStore.
func (s *MemoryStore) InsertIncident(ctx context.Context, inc *types.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(ctx, OpInsertIncident); err != nil {
		return err
	}
	s.nextID++
	inc.ID = s.nextID
	s.incidents = append(s.incidents, *inc)
	return nil
}

// Close implements storage.Store. Later calls fail with ErrStorageUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Readings returns a copy of the stored readings in insertion order.
func (s *MemoryStore) Readings() []types.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Reading(nil), s.readings...)
}

// Incidents returns a copy of the stored incidents in insertion order.
func (s *MemoryStore) Incidents() []types.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Incident(nil), s.incidents...)
}
