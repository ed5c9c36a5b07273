package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// AggregateHealth returns the system status with components sorted by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(systemName, subStatuses)
}

// Tracker derives a component's health from consecutive operation outcomes.
// The first failure degrades the component; unhealthyAfter consecutive
// failures make it unhealthy; one success restores it.
type Tracker struct {
	monitor        *Monitor
	name           string
	unhealthyAfter int

	mu          sync.Mutex
	consecutive int
	state       string
}

// NewTracker registers name as healthy and returns its tracker.
func NewTracker(m *Monitor, name string, unhealthyAfter int) *Tracker {
	if unhealthyAfter < 1 {
		unhealthyAfter = 1
	}
	m.UpdateHealthy(name, "No failures recorded")
	return &Tracker{monitor: m, name: name, unhealthyAfter: unhealthyAfter, state: StateHealthy}
}

// Success records a successful operation.
func (t *Tracker) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive = 0
	if t.state != StateHealthy {
		t.state = StateHealthy
		t.monitor.UpdateHealthy(t.name, "Recovered")
	}
}

// Failure records a failed operation.
func (t *Tracker) Failure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive++
	msg := "operation failed"
	if err != nil {
		msg = Sanitize(err.Error())
	}

	if t.consecutive >= t.unhealthyAfter {
		t.state = StateUnhealthy
		t.monitor.UpdateUnhealthy(t.name, msg)
		return
	}
	t.state = StateDegraded
	t.monitor.UpdateDegraded(t.name, msg)
}

// ConsecutiveFailures returns the current failure streak.
func (t *Tracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutive
}
