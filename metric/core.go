package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "drillstream"

// Drop reasons reported on MessagesDropped.
const (
	ReasonUnknownTopic   = "unknown_topic"
	ReasonInvalidPayload = "invalid_payload"
	ReasonStorage        = "storage_error"
	ReasonQueueFull      = "queue_full"
)

// Metrics contains the pipeline metrics.
type Metrics struct {
	MessagesReceived   prometheus.Counter
	MessagesDropped    *prometheus.CounterVec
	ReadingsPersisted  prometheus.Counter
	TimestampFallbacks prometheus.Counter
	Incidents          *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	StorageErrors      *prometheus.CounterVec

	LiveConnections  prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec

	BusConnected  prometheus.Gauge
	BusReconnects prometheus.Counter
}

// NewMetrics creates the pipeline metrics; they are registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "messages_received_total",
			Help: "Bus messages handed to the ingest pipeline",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "messages_dropped_total",
			Help: "Bus messages dropped before a reading was persisted",
		}, []string{"reason"}),
		ReadingsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "readings_persisted_total",
			Help: "Readings written to storage",
		}),
		TimestampFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "timestamp_fallbacks_total",
			Help: "Readings whose producer timestamp was unparseable and replaced by the receive time",
		}),
		Incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "incidents_total",
			Help: "Threshold violations recorded",
		}, []string{"kind"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "processing_duration_seconds",
			Help:    "Time from message receipt to fan-out completion",
			Buckets: prometheus.DefBuckets,
		}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "errors_total",
			Help: "Failed storage operations",
		}, []string{"operation"}),

		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live", Name: "connections",
			Help: "Open live subscriber connections",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "events_total",
			Help: "Events published to subscription groups",
		}, []string{"kind"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fanout", Name: "delivery_failures_total",
			Help: "Deliveries that failed and evicted the subscriber",
		}, []string{"reason"}),

		BusConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "connected",
			Help: "Bus connection status (0=disconnected, 1=connected)",
		}),
		BusReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "reconnects_total",
			Help: "Bus reconnections",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived, m.MessagesDropped, m.ReadingsPersisted, m.TimestampFallbacks,
		m.Incidents, m.ProcessingDuration, m.StorageErrors,
		m.LiveConnections, m.EventsPublished, m.DeliveryFailures,
		m.BusConnected, m.BusReconnects,
	}
}

// RecordReceived counts a message entering the pipeline.
func (m *Metrics) RecordReceived() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

// RecordDropped counts a dropped message.
func (m *Metrics) RecordDropped(reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

// RecordPersisted counts a stored reading.
func (m *Metrics) RecordPersisted() {
	if m != nil {
		m.ReadingsPersisted.Inc()
	}
}

// RecordTimestampFallback counts a reading that fell back to the receive time.
func (m *Metrics) RecordTimestampFallback() {
	if m != nil {
		m.TimestampFallbacks.Inc()
	}
}

// RecordIncident counts a violation by kind.
func (m *Metrics) RecordIncident(kind string) {
	if m != nil {
		m.Incidents.WithLabelValues(kind).Inc()
	}
}

// RecordProcessingDuration observes one message's processing time.
func (m *Metrics) RecordProcessingDuration(d time.Duration) {
	if m != nil {
		m.ProcessingDuration.Observe(d.Seconds())
	}
}

// RecordStorageError counts a failed storage operation.
func (m *Metrics) RecordStorageError(operation string) {
	if m != nil {
		m.StorageErrors.WithLabelValues(operation).Inc()
	}
}

// RecordConnectionOpened increments the live connection gauge.
func (m *Metrics) RecordConnectionOpened() {
	if m != nil {
		m.LiveConnections.Inc()
	}
}

// RecordConnectionClosed decrements the live connection gauge.
func (m *Metrics) RecordConnectionClosed() {
	if m != nil {
		m.LiveConnections.Dec()
	}
}

// RecordEventPublished counts an event handed to a group.
func (m *Metrics) RecordEventPublished(kind string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(kind).Inc()
	}
}

// RecordDeliveryFailure counts an eviction.
func (m *Metrics) RecordDeliveryFailure(reason string) {
	if m != nil {
		m.DeliveryFailures.WithLabelValues(reason).Inc()
	}
}

// RecordBusStatus updates the bus connection gauge.
func (m *Metrics) RecordBusStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.BusConnected.Set(value)
}

// RecordBusReconnect counts a reconnection.
func (m *Metrics) RecordBusReconnect() {
	if m != nil {
		m.BusReconnects.Inc()
	}
}
