package bus

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/health"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/pkg/retry"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeClient behaves like a paho client that connects synchronously.
type fakeClient struct {
	opts *mqtt.ClientOptions

	mu           sync.Mutex
	connectErrs  []error
	subscribeErr error
	connects     int
	filters      map[string]byte
	callback     mqtt.MessageHandler
	connected    bool
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		c.mu.Unlock()
		return &fakeToken{err: err}
	}
	c.connected = true
	c.mu.Unlock()

	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Publish(string, byte, bool, interface{}) mqtt.Token { return &fakeToken{} }

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, cb)
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return &fakeToken{err: c.subscribeErr}
	}
	c.filters = filters
	c.callback = cb
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.NewOptionsReader(c.opts) }

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	cb(c, &fakeMessage{topic: topic, payload: payload})
}

type received struct {
	topic   string
	payload string
}

type collector struct {
	mu   sync.Mutex
	msgs []received
}

func (c *collector) handle(_ context.Context, topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, received{topic: topic, payload: string(payload)})
}

func (c *collector) all() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.msgs...)
}

type mqttFixture struct {
	source  *MQTTSource
	client  *fakeClient
	metrics *metric.Metrics
	monitor *health.Monitor
}

func newMQTTFixture(t *testing.T, fake *fakeClient) *mqttFixture {
	t.Helper()

	f := &mqttFixture{client: fake, metrics: metric.NewMetrics(), monitor: health.NewMonitor()}
	src, err := NewMQTTSource(DefaultMQTTConfig(),
		WithMetrics(f.metrics),
		WithHealth(f.monitor),
		WithConnectRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	require.NoError(t, err)
	src.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fake.opts = o
		return fake
	}
	f.source = src
	t.Cleanup(func() { _ = src.Stop(time.Second) })
	return f
}

func TestMQTTConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultMQTTConfig().Validate())

	cfg := DefaultMQTTConfig()
	cfg.Broker = ""
	assert.ErrorIs(t, cfg.Validate(), errors.ErrMissingConfig)

	cfg = DefaultMQTTConfig()
	cfg.QoS = 3
	err := cfg.Validate()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewMQTTSource_GeneratesClientID(t *testing.T) {
	src, err := NewMQTTSource(DefaultMQTTConfig())
	require.NoError(t, err)
	assert.Contains(t, src.cfg.ClientID, "drillstream-")

	cfg := DefaultMQTTConfig()
	cfg.ClientID = "rig-7"
	src, err = NewMQTTSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "rig-7", src.cfg.ClientID)
}

func TestMQTTSource_ClientOptions(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.Username = "rig"
	cfg.Password = "secret"
	src, err := NewMQTTSource(cfg)
	require.NoError(t, err)

	o := src.clientOptions()
	r := mqtt.NewOptionsReader(o)
	require.Len(t, r.Servers(), 1)
	assert.Equal(t, "localhost:1883", r.Servers()[0].Host)
	assert.True(t, r.AutoReconnect())
	assert.False(t, r.Order())
	assert.Equal(t, "rig", r.Username())
	assert.Equal(t, cfg.KeepAlive, r.KeepAlive())
	assert.NotNil(t, o.OnConnect)
	assert.NotNil(t, o.OnConnectionLost)
	assert.Nil(t, r.TLSConfig())
}

func TestMQTTSource_ClientOptionsTLS(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.Broker = "ssl://broker.rig:8883"
	cfg.TLS = &tls.Config{ServerName: "broker.rig", MinVersion: tls.VersionTLS12}
	src, err := NewMQTTSource(cfg)
	require.NoError(t, err)

	r := mqtt.NewOptionsReader(src.clientOptions())
	require.NotNil(t, r.TLSConfig())
	assert.Equal(t, "broker.rig", r.TLSConfig().ServerName)
	assert.Equal(t, "ssl", r.Servers()[0].Scheme)
}

func TestMQTTSource_SubscribesAndDelivers(t *testing.T) {
	f := newMQTTFixture(t, &fakeClient{})
	var c collector

	require.NoError(t, f.source.Start(context.Background(), c.handle))
	assert.True(t, f.source.Connected())
	assert.Equal(t, map[string]byte{"telemetry/#": 1, "drill/+/sensor/+": 1}, f.client.filters)

	f.client.deliver("telemetry/pressure", []byte(`{"value": 1}`))
	f.client.deliver("drill/rig1/sensor/torque", []byte(`{"value": 2}`))

	assert.Equal(t, []received{
		{topic: "telemetry/pressure", payload: `{"value": 1}`},
		{topic: "drill/rig1/sensor/torque", payload: `{"value": 2}`},
	}, c.all())

	st, ok := f.monitor.Get(HealthComponent)
	require.True(t, ok)
	assert.True(t, st.IsHealthy())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BusConnected))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.BusReconnects))
}

func TestMQTTSource_StartRequiresHandler(t *testing.T) {
	f := newMQTTFixture(t, &fakeClient{})
	err := f.source.Start(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestMQTTSource_StartTwice(t *testing.T) {
	f := newMQTTFixture(t, &fakeClient{})
	var c collector
	require.NoError(t, f.source.Start(context.Background(), c.handle))
	assert.ErrorIs(t, f.source.Start(context.Background(), c.handle), errors.ErrAlreadyStarted)
}

func TestMQTTSource_RetriesInitialConnect(t *testing.T) {
	fake := &fakeClient{connectErrs: []error{errors.New("connection refused"), errors.New("connection refused")}}
	f := newMQTTFixture(t, fake)
	var c collector

	require.NoError(t, f.source.Start(context.Background(), c.handle))
	assert.Equal(t, 3, fake.connects)
	assert.True(t, f.source.Connected())
}

func TestMQTTSource_GivesUpAfterRetries(t *testing.T) {
	refused := errors.New("connection refused")
	fake := &fakeClient{connectErrs: []error{refused, refused, refused}}
	f := newMQTTFixture(t, fake)
	var c collector

	err := f.source.Start(context.Background(), c.handle)
	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, f.source.Connected())

	// a failed start can be retried
	require.NoError(t, f.source.Start(context.Background(), c.handle))
}

func TestMQTTSource_ReconnectResubscribes(t *testing.T) {
	f := newMQTTFixture(t, &fakeClient{})
	var c collector
	require.NoError(t, f.source.Start(context.Background(), c.handle))

	f.client.opts.OnConnectionLost(f.client, errors.ErrConnectionLost)
	assert.False(t, f.source.Connected())
	st, _ := f.monitor.Get(HealthComponent)
	assert.True(t, st.IsDegraded())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.BusConnected))

	f.client.filters = nil
	f.client.opts.OnConnect(f.client)
	assert.True(t, f.source.Connected())
	assert.Len(t, f.client.filters, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BusReconnects))

	f.client.deliver("telemetry/rpm", []byte(`{"value": 90}`))
	assert.Len(t, c.all(), 1)
}

func TestMQTTSource_SubscribeFailureDegrades(t *testing.T) {
	fake := &fakeClient{subscribeErr: errors.New("not authorized")}
	f := newMQTTFixture(t, fake)
	var c collector

	require.NoError(t, f.source.Start(context.Background(), c.handle))
	assert.False(t, f.source.Connected())
	st, _ := f.monitor.Get(HealthComponent)
	assert.True(t, st.IsDegraded())
}

func TestMQTTSource_StopDisconnects(t *testing.T) {
	f := newMQTTFixture(t, &fakeClient{})
	var c collector
	require.NoError(t, f.source.Start(context.Background(), c.handle))

	require.NoError(t, f.source.Stop(time.Second))
	assert.True(t, f.client.disconnected)
	assert.False(t, f.source.Connected())

	// late messages after Stop are dropped
	f.client.deliver("telemetry/rpm", []byte(`{"value": 90}`))
	assert.Empty(t, c.all())

	require.NoError(t, f.source.Stop(time.Second))
}

func TestNew_SelectsTransport(t *testing.T) {
	src, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &MQTTSource{}, src)

	cfg := DefaultConfig()
	cfg.Kind = KindNATS
	src, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &NATSSource{}, src)

	cfg.Kind = "kafka"
	_, err = New(cfg)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
