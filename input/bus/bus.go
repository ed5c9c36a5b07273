package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/health"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/pkg/retry"
)

// Handler receives one message. It must not block for long; sources call it
// from their network goroutines.
type Handler func(ctx context.Context, topic string, payload []byte)

// Source is a bus subscription.
type Source interface {
	// Start connects, subscribes to the telemetry topics and returns. The
	// subscription is re-established after every reconnect.
	Start(ctx context.Context, handler Handler) error
	Stop(timeout time.Duration) error
	Connected() bool
}

// Kinds of bus.
const (
	KindMQTT = "mqtt"
	KindNATS = "nats"
)

// HealthComponent is the name sources report under.
const HealthComponent = "bus"

// Config selects and configures the bus.
type Config struct {
	Kind string     `json:"kind" yaml:"kind"`
	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`
	NATS NATSConfig `json:"nats" yaml:"nats"`
}

// DefaultConfig returns an MQTT configuration for a local broker.
func DefaultConfig() Config {
	return Config{
		Kind: KindMQTT,
		MQTT: DefaultMQTTConfig(),
		NATS: DefaultNATSConfig(),
	}
}

// Validate checks the selected transport.
func (c Config) Validate() error {
	switch c.Kind {
	case KindMQTT:
		return c.MQTT.Validate()
	case KindNATS:
		return c.NATS.Validate()
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown bus kind %q", errors.ErrInvalidConfig, c.Kind),
			"bus", "Validate", "check kind")
	}
}

type options struct {
	base    *slog.Logger
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor
	connect retry.Config
}

// Option configures a Source.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHealth reports connection state to m under HealthComponent.
func WithHealth(m *health.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithConnectRetry sets the retry policy for the initial connection.
func WithConnectRetry(cfg retry.Config) Option {
	return func(o *options) { o.connect = cfg }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		connect: retry.Persistent(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.base = o.logger
	o.logger = o.logger.With("component", "bus")
	return o
}

func (o options) reportConnected(transport string) {
	o.metrics.RecordBusStatus(true)
	if o.monitor != nil {
		o.monitor.UpdateHealthy(HealthComponent, "Connected to "+transport)
	}
}

func (o options) reportDisconnected(transport string, err error) {
	o.metrics.RecordBusStatus(false)
	if o.monitor != nil {
		msg := "Disconnected from " + transport
		if err != nil {
			msg += ": " + health.Sanitize(err.Error())
		}
		o.monitor.UpdateDegraded(HealthComponent, msg)
	}
}

// New creates the source selected by cfg.Kind.
func New(cfg Config, opts ...Option) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindNATS:
		return NewNATSSource(cfg.NATS, opts...)
	default:
		return NewMQTTSource(cfg.MQTT, opts...)
	}
}
