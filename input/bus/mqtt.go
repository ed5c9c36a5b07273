package bus

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/pkg/retry"
	"github.com/Kent0008/breakers-nurik/topic"
)

// MQTTConfig configures the MQTT source.
type MQTTConfig struct {
	Broker               string        `json:"broker" yaml:"broker"`
	ClientID             string        `json:"client_id" yaml:"client_id"`
	Username             string        `json:"username" yaml:"username"`
	Password             string        `json:"password" yaml:"password"`
	QoS                  byte          `json:"qos" yaml:"qos"`
	KeepAlive            time.Duration `json:"keep_alive" yaml:"keep_alive"`
	ConnectTimeout       time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval" yaml:"max_reconnect_interval"`
	CleanSession         bool          `json:"clean_session" yaml:"clean_session"`

	// TLS secures ssl:// and tls:// brokers. Nil uses the client defaults.
	TLS *tls.Config `json:"-" yaml:"-"`
}

// DefaultMQTTConfig returns settings for a broker on localhost.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:               "tcp://localhost:1883",
		QoS:                  1,
		KeepAlive:            30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectInterval: time.Minute,
		CleanSession:         true,
	}
}

// Validate checks the MQTT settings.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "bus", "Validate", "mqtt broker is required")
	}
	if c.QoS > 2 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, c.QoS), "bus", "Validate", "check mqtt qos")
	}
	return nil
}

// MQTTSource subscribes to the telemetry filters on an MQTT broker.
type MQTTSource struct {
	cfg       MQTTConfig
	opts      options
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	client  mqtt.Client
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc

	connected atomic.Bool
	connects  atomic.Int64
}

// NewMQTTSource creates an MQTT source.
func NewMQTTSource(cfg MQTTConfig, opts ...Option) (*MQTTSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		host, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("drillstream-%s-%d", host, os.Getpid())
	}
	return &MQTTSource{
		cfg:       cfg,
		opts:      buildOptions(opts),
		newClient: mqtt.NewClient,
	}, nil
}

func (s *MQTTSource) clientOptions() *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(s.cfg.CleanSession).
		SetAutoReconnect(true).
		// messages are independent; no need to serialize handler calls
		SetOrderMatters(false).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			s.opts.logger.Info("Reconnecting to MQTT broker", "broker", s.cfg.Broker)
		})

	if s.cfg.KeepAlive > 0 {
		o.SetKeepAlive(s.cfg.KeepAlive)
	}
	if s.cfg.ConnectTimeout > 0 {
		o.SetConnectTimeout(s.cfg.ConnectTimeout)
	}
	if s.cfg.MaxReconnectInterval > 0 {
		o.SetMaxReconnectInterval(s.cfg.MaxReconnectInterval)
	}
	if s.cfg.Username != "" {
		o.SetUsername(s.cfg.Username)
		o.SetPassword(s.cfg.Password)
	}
	if s.cfg.TLS != nil {
		o.SetTLSConfig(s.cfg.TLS)
	}
	return o
}

// Start connects to the broker, retrying per the connect policy. The filters
// are subscribed from the connect handler so they survive reconnects.
func (s *MQTTSource) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "MQTTSource", "Start", "require handler")
	}

	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	s.handler = handler
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	client := s.newClient(s.clientOptions())
	s.client = client
	s.mu.Unlock()

	connect := s.opts.connect
	connect.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.opts.logger.Warn("MQTT broker not reachable, retrying",
			"broker", s.cfg.Broker, "attempt", attempt, "delay", delay, "error", err)
	}
	err := retry.Do(ctx, connect, func() error {
		token := client.Connect()
		if !token.WaitTimeout(s.cfg.ConnectTimeout + time.Second) {
			return errors.ErrConnectionTimeout
		}
		return token.Error()
	})
	if err != nil {
		s.mu.Lock()
		s.client = nil
		s.cancel()
		s.mu.Unlock()
		return errors.WrapTransient(err, "MQTTSource", "Start", "connect to "+s.cfg.Broker)
	}
	return nil
}

func (s *MQTTSource) onConnect(client mqtt.Client) {
	filters := make(map[string]byte)
	for _, f := range topic.Filters() {
		filters[f] = s.cfg.QoS
	}

	token := client.SubscribeMultiple(filters, s.onMessage)
	if !token.WaitTimeout(s.cfg.ConnectTimeout+time.Second) || token.Error() != nil {
		err := token.Error()
		if err == nil {
			err = errors.ErrConnectionTimeout
		}
		s.opts.logger.Error("MQTT subscribe failed", "filters", topic.Filters(), "error", err)
		s.opts.reportDisconnected("MQTT", errors.Wrap(err, "MQTTSource", "onConnect", "subscribe"))
		return
	}

	s.connected.Store(true)
	if s.connects.Add(1) > 1 {
		s.opts.metrics.RecordBusReconnect()
	}
	s.opts.reportConnected("MQTT")
	s.opts.logger.Info("Subscribed to telemetry topics",
		"broker", s.cfg.Broker, "filters", topic.Filters(), "qos", s.cfg.QoS)
}

func (s *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.opts.logger.Warn("MQTT connection lost", "broker", s.cfg.Broker, "error", err)
	s.opts.reportDisconnected("MQTT", err)
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	handler, ctx := s.handler, s.ctx
	s.mu.Unlock()

	if handler == nil || ctx.Err() != nil {
		return
	}
	handler(ctx, msg.Topic(), msg.Payload())
}

// Stop disconnects, waiting up to timeout for in-flight work.
func (s *MQTTSource) Stop(timeout time.Duration) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Disconnect(uint(timeout.Milliseconds()))
	s.connected.Store(false)
	s.opts.reportDisconnected("MQTT", nil)
	return nil
}

// Connected reports whether the subscription is currently active.
func (s *MQTTSource) Connected() bool {
	return s.connected.Load()
}
