package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/natsclient"
	"github.com/Kent0008/breakers-nurik/pkg/retry"
	"github.com/Kent0008/breakers-nurik/topic"
)

// NATSConfig configures the NATS source.
type NATSConfig struct {
	URL           string        `json:"url" yaml:"url"`
	Name          string        `json:"name" yaml:"name"`
	Username      string        `json:"username" yaml:"username"`
	Password      string        `json:"password" yaml:"password"`
	Token         string        `json:"token" yaml:"token"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	PingInterval  time.Duration `json:"ping_interval" yaml:"ping_interval"`

	TLS *tls.Config `json:"-" yaml:"-"`
}

// DefaultNATSConfig returns settings for a server on localhost.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "drillstream",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		PingInterval:  30 * time.Second,
	}
}

// Validate checks the NATS settings.
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "bus", "Validate", "nats url is required")
	}
	return nil
}

// NATSSource subscribes to the telemetry subjects on a NATS server. Subjects
// are mapped back to slash-separated topics before reaching the handler.
type NATSSource struct {
	cfg    NATSConfig
	opts   options
	client *natsclient.Client

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	connected atomic.Bool
}

// NewNATSSource creates a NATS source.
func NewNATSSource(cfg NATSConfig, opts ...Option) (*NATSSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &NATSSource{cfg: cfg, opts: buildOptions(opts)}

	clientOpts := []natsclient.ClientOption{
		natsclient.WithLogger(s.opts.base),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithHealthChangeCallback(s.onHealthChange),
		natsclient.WithReconnectCallback(s.opts.metrics.RecordBusReconnect),
		natsclient.WithConnectionLostCallback(s.onConnectionLost),
	}
	if cfg.Name != "" {
		clientOpts = append(clientOpts, natsclient.WithName(cfg.Name))
	}
	if cfg.ReconnectWait > 0 {
		clientOpts = append(clientOpts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, natsclient.WithTimeout(cfg.Timeout))
	}
	if cfg.PingInterval > 0 {
		clientOpts = append(clientOpts, natsclient.WithPingInterval(cfg.PingInterval))
	}
	if cfg.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS != nil {
		clientOpts = append(clientOpts, natsclient.WithTLS(cfg.TLS))
	}

	client, err := natsclient.NewClient(cfg.URL, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "NATSSource", "NewNATSSource", "create client")
	}
	s.client = client
	return s, nil
}

func (s *NATSSource) onHealthChange(healthy bool) {
	s.connected.Store(healthy)
	st := s.client.GetStatus()
	if healthy {
		s.opts.logger.Debug("NATS connection healthy", "rtt", st.RTT, "subscriptions", st.Subscriptions)
		s.opts.reportConnected("NATS")
		return
	}
	s.opts.logger.Warn("NATS connection unhealthy",
		"status", st.Status.String(), "failures", st.FailureCount, "subscriptions", st.Subscriptions)
	s.opts.reportDisconnected("NATS", fmt.Errorf("client %s after %d failed connects", st.Status, st.FailureCount))
}

// onConnectionLost runs once the client gives up reconnecting.
func (s *NATSSource) onConnectionLost(err error) {
	s.connected.Store(false)
	s.opts.logger.Error("NATS reconnect attempts exhausted", "url", s.cfg.URL, "error", err)
	s.opts.reportDisconnected("NATS", err)
}

// Start connects and subscribes to the telemetry subjects. Core NATS
// subscriptions are restored by the client library after a reconnect.
func (s *NATSSource) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "NATSSource", "Start", "require handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.ErrAlreadyStarted
	}

	connect := s.opts.connect
	connect.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.opts.logger.Warn("NATS server not reachable, retrying",
			"url", s.cfg.URL, "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, connect, func() error { return s.client.Connect(ctx) }); err != nil {
		return errors.WrapTransient(err, "NATSSource", "Start", "connect to "+s.cfg.URL)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for _, subject := range topic.NATSSubjects() {
		err := s.client.Subscribe(runCtx, subject, func(msgCtx context.Context, subj string, data []byte) {
			handler(msgCtx, topic.FromNATSSubject(subj), data)
		})
		if err != nil {
			cancel()
			_ = s.client.Close(ctx)
			return errors.Wrap(err, "NATSSource", "Start", "subscribe")
		}
	}

	s.started = true
	s.cancel = cancel
	s.connected.Store(true)
	s.opts.logger.Info("Subscribed to telemetry subjects", "url", s.cfg.URL, "subjects", topic.NATSSubjects())
	return nil
}

// Stop drains and closes the connection.
func (s *NATSSource) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.client.Close(ctx)
	s.connected.Store(false)
	if err != nil {
		return errors.Wrap(err, "NATSSource", "Stop", "close client")
	}
	return nil
}

// Connected reports whether the connection is currently up.
func (s *NATSSource) Connected() bool {
	return s.connected.Load()
}
