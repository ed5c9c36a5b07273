// Package cache provides a generic, thread-safe TTL cache with hit/miss
// statistics and optional Prometheus export.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/metric"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a cache whose entries expire a fixed duration after they are set.
// Expired entries are dropped lazily on access; there is no background sweeper.
type TTL[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]entry[V]
	now   func() time.Time

	hits, misses, evictions atomic.Int64
	metrics                 *cacheMetrics
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V]) error

// WithClock replaces the time source. Used by tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) error {
		c.now = now
		return nil
	}
}

// WithMetrics exports hits, misses and size as drillstream_cache_* with a
// component label. A nil registry is ignored.
func WithMetrics[V any](registry metric.MetricsRegistrar, component string) Option[V] {
	return func(c *TTL[V]) error {
		if registry == nil || component == "" {
			return nil
		}
		m, err := newCacheMetrics(registry, component)
		if err != nil {
			return errors.WrapTransient(err, "cache", "WithMetrics", "metrics registration")
		}
		c.metrics = m
		return nil
	}
}

// NewTTL creates a cache. ttl must be positive.
func NewTTL[V any](ttl time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL", "ttl must be positive")
	}
	c := &TTL[V]{
		ttl:   ttl,
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the live value for key.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		c.hits.Add(1)
		c.metrics.hit()
		return e.value, true
	}

	if ok {
		c.mu.Lock()
		if cur, still := c.items[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
			c.evictions.Add(1)
			c.metrics.size(len(c.items))
		}
		c.mu.Unlock()
	}

	c.misses.Add(1)
	c.metrics.miss()
	var zero V
	return zero, false
}

// Set stores value under key for the cache's TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	n := len(c.items)
	c.mu.Unlock()
	c.metrics.size(n)
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	n := len(c.items)
	c.mu.Unlock()
	c.metrics.size(n)
}

// Clear removes every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
	c.metrics.size(0)
}

// Len returns the number of stored entries, including expired ones not yet dropped.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (c *TTL[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Evictions: c.evictions.Load()}
}

type cacheMetrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
	sizeG  prometheus.Gauge
}

func newCacheMetrics(registry metric.MetricsRegistrar, component string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": component}
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drillstream", Subsystem: "cache", Name: "hits_total",
			ConstLabels: labels, Help: "Cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drillstream", Subsystem: "cache", Name: "misses_total",
			ConstLabels: labels, Help: "Cache misses",
		}),
		sizeG: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "drillstream", Subsystem: "cache", Name: "size",
			ConstLabels: labels, Help: "Entries held by the cache",
		}),
	}
	if err := registry.Register(component, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.Register(component, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.Register(component, "cache_size", m.sizeG); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *cacheMetrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *cacheMetrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) size(n int) {
	if m != nil {
		m.sizeG.Set(float64(n))
	}
}
