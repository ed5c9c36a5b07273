// Package fanout keeps the subscription groups of live connections and
// delivers published events to every member of a group.
package fanout

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/types"
)

// IncidentsGroup receives every incident_alert.
const IncidentsGroup = "incidents"

// SensorGroup returns the group receiving sensor_update events for tag.
func SensorGroup(tag string) string {
	return "sensor_" + tag
}

// EventKind names the kind of a published event.
type EventKind string

// Event kinds
const (
	SensorUpdate  EventKind = "sensor_update"
	IncidentAlert EventKind = "incident_alert"
)

// Event is delivered to group members. Exactly one of Reading or Incident is set.
type Event struct {
	Kind     EventKind
	Reading  *types.Reading
	Incident *types.Incident
}

// Subscriber is a group member, typically a live connection.
//
// Deliver must return once ctx is done. Close may be called more than once
// and from any goroutine.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, ev Event) error
	Close(reason error)
}

// DefaultDeliveryTimeout bounds one delivery attempt.
const DefaultDeliveryTimeout = 5 * time.Second

// DefaultDeliveryConcurrency caps the deliveries in flight for one Publish.
const DefaultDeliveryConcurrency = 64

// Hub is the process-wide subscription registry and dispatcher.
type Hub struct {
	mu          sync.RWMutex
	groups      map[string]map[string]Subscriber
	memberships map[string]map[string]struct{}

	deliveryTimeout     time.Duration
	deliveryConcurrency int
	logger              *slog.Logger
	metrics             *metric.Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithDeliveryTimeout sets the per-delivery bound. Non-positive values are ignored.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.deliveryTimeout = d
		}
	}
}

// WithDeliveryConcurrency caps concurrent deliveries per Publish.
// Non-positive values are ignored.
func WithDeliveryConcurrency(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.deliveryConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records publish and eviction counts.
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		groups:              make(map[string]map[string]Subscriber),
		memberships:         make(map[string]map[string]struct{}),
		deliveryTimeout:     DefaultDeliveryTimeout,
		deliveryConcurrency: DefaultDeliveryConcurrency,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "fanout")
	return h
}

// Subscribe adds sub to group. It reports whether sub was not already a member.
func (h *Hub) Subscribe(sub Subscriber, group string) bool {
	id := sub.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]Subscriber)
		h.groups[group] = members
	}
	if _, exists := members[id]; exists {
		return false
	}
	members[id] = sub

	joined, ok := h.memberships[id]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[id] = joined
	}
	joined[group] = struct{}{}
	return true
}

// Unsubscribe removes id from group. It reports whether id was a member.
func (h *Hub) Unsubscribe(id, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(id, group)
}

func (h *Hub) removeLocked(id, group string) bool {
	members, ok := h.groups[group]
	if !ok {
		return false
	}
	if _, exists := members[id]; !exists {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	if joined, ok := h.memberships[id]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(h.memberships, id)
		}
	}
	return true
}

// RemoveAll drops id from every group and returns the groups it left.
func (h *Hub) RemoveAll(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined := h.memberships[id]
	left := make([]string, 0, len(joined))
	for group := range joined {
		left = append(left, group)
	}
	for _, group := range left {
		h.removeLocked(id, group)
	}
	sort.Strings(left)
	return left
}

// Groups returns the groups id belongs to, sorted.
func (h *Hub) Groups(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]string, 0, len(h.memberships[id]))
	for g := range h.memberships[id] {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Members returns the subscriber IDs of group, sorted.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GroupCount returns the number of non-empty groups.
func (h *Hub) GroupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

func (h *Hub) snapshot(group string) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.groups[group]
	subs := make([]Subscriber, 0, len(members))
	for _, s := range members {
		subs = append(subs, s)
	}
	return subs
}

// Publish delivers ev to the members of group at the time of the call and
// returns the number of successful deliveries. Members joining during the
// call are not included. Deliveries run concurrently, each bounded by the
// delivery timeout; Publish returns when all have finished, so events
// published in sequence to one group arrive in that order at each member.
// A member whose delivery fails is evicted from every group and closed.
func (h *Hub) Publish(ctx context.Context, group string, ev Event) int {
	subs := h.snapshot(group)
	h.metrics.RecordEventPublished(string(ev.Kind))
	if len(subs) == 0 {
		return 0
	}

	if len(subs) == 1 {
		if h.deliver(ctx, subs[0], group, ev) {
			return 1
		}
		return 0
	}

	var (
		g         errgroup.Group
		delivered atomic.Int64
	)
	g.SetLimit(h.deliveryConcurrency)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			if h.deliver(ctx, sub, group, ev) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

// PublishReading sends a sensor_update for r to its sensor group.
func (h *Hub) PublishReading(ctx context.Context, r types.Reading) int {
	return h.Publish(ctx, SensorGroup(r.Tag), Event{Kind: SensorUpdate, Reading: &r})
}

// PublishIncident sends an incident_alert to the incidents group.
func (h *Hub) PublishIncident(ctx context.Context, inc types.Incident) int {
	return h.Publish(ctx, IncidentsGroup, Event{Kind: IncidentAlert, Incident: &inc})
}

func (h *Hub) deliver(ctx context.Context, sub Subscriber, group string, ev Event) bool {
	dctx, cancel := context.WithTimeout(ctx, h.deliveryTimeout)
	defer cancel()

	err := sub.Deliver(dctx, ev)
	if err == nil {
		return true
	}

	// The publisher is going away; the subscriber did nothing wrong.
	if ctx.Err() != nil {
		return false
	}

	reason := "error"
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrDeliveryTimeout):
		reason = "timeout"
		err = errors.WrapTransient(errors.ErrDeliveryTimeout, "Hub", "Publish", "deliver "+string(ev.Kind))
	case errors.Is(err, errors.ErrConnectionClosed):
		reason = "closed"
	}

	left := h.RemoveAll(sub.ID())
	h.metrics.RecordDeliveryFailure(reason)
	h.logger.Warn("Evicting subscriber after failed delivery",
		"subscriber", sub.ID(), "group", group, "reason", reason, "groups_left", len(left), "error", err)

	go sub.Close(err)
	return false
}
