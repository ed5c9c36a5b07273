package health

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("drillstream", tt.subs)
			assert.Equal(t, tt.expected, got.Status)
			assert.Equal(t, tt.expected == StateHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in      string
		absent  string
		present string
	}{
		{"dial postgres://app:pw@db:5432/drill failed", "app:pw", "[URL]"},
		{"password=hunter2 rejected", "hunter2", "[REDACTED]"},
		{"connect 10.0.0.5:1883 refused", "10.0.0.5", "[IP]"},
		{"open /var/lib/drill.db: no such file", "/var/lib", "[PATH]"},
	}

	for _, tt := range tests {
		got := Sanitize(tt.in)
		assert.NotContains(t, got, tt.absent)
		assert.Contains(t, got, tt.present)
	}
	assert.Equal(t, "", Sanitize(""))
}

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("storage", "ok")
	m.UpdateDegraded("bus", "reconnecting")

	s, ok := m.Get("bus")
	require.True(t, ok)
	assert.Equal(t, "bus", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	agg := m.AggregateHealth("drillstream")
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "bus", agg.SubStatuses[0].Component)
}

func TestTracker(t *testing.T) {
	m := NewMonitor()
	tr := NewTracker(m, "storage", 3)

	s, _ := m.Get("storage")
	assert.True(t, s.IsHealthy())

	tr.Failure(errors.New("connection refused"))
	s, _ = m.Get("storage")
	assert.True(t, s.IsDegraded())

	tr.Failure(nil)
	tr.Failure(errors.New("connection refused"))
	s, _ = m.Get("storage")
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, 3, tr.ConsecutiveFailures())

	tr.Success()
	s, _ = m.Get("storage")
	assert.True(t, s.IsHealthy())
	assert.Zero(t, tr.ConsecutiveFailures())
}

func TestTracker_Concurrent(t *testing.T) {
	m := NewMonitor()
	tr := NewTracker(m, "storage", 5)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); tr.Failure(errors.New("x")) }()
		go func() { defer wg.Done(); tr.Success() }()
	}
	wg.Wait()

	_, ok := m.Get("storage")
	assert.True(t, ok)
}
