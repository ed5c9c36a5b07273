package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/fanout"
	"github.com/Kent0008/breakers-nurik/input/bus"
	"github.com/Kent0008/breakers-nurik/output/websocket"
	"github.com/Kent0008/breakers-nurik/pkg/retry"
	"github.com/Kent0008/breakers-nurik/pkg/tlsutil"
	"github.com/Kent0008/breakers-nurik/storage/sqlstore"
	"github.com/Kent0008/breakers-nurik/types"
)

// Config is the complete service configuration.
type Config struct {
	Bus        BusConfig        `json:"bus" yaml:"bus"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Thresholds ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	Live       LiveConfig       `json:"live" yaml:"live"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	Kind        string     `json:"kind" yaml:"kind"`
	MQTT        MQTTConfig `json:"mqtt" yaml:"mqtt"`
	NATS        NATSConfig `json:"nats" yaml:"nats"`
	ConnectWait Duration   `json:"connect_wait" yaml:"connect_wait"`
}

// MQTTConfig configures the MQTT broker connection.
type MQTTConfig struct {
	Broker               string   `json:"broker" yaml:"broker"`
	ClientID             string   `json:"client_id" yaml:"client_id"`
	Username             string   `json:"username" yaml:"username"`
	Password             string   `json:"password" yaml:"password"`
	QoS                  byte     `json:"qos" yaml:"qos"`
	KeepAlive            Duration `json:"keep_alive" yaml:"keep_alive"`
	ConnectTimeout       Duration `json:"connect_timeout" yaml:"connect_timeout"`
	MaxReconnectInterval Duration `json:"max_reconnect_interval" yaml:"max_reconnect_interval"`
	CleanSession         bool     `json:"clean_session" yaml:"clean_session"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string   `json:"url" yaml:"url"`
	Name          string   `json:"name" yaml:"name"`
	Username      string   `json:"username" yaml:"username"`
	Password      string   `json:"password" yaml:"password"`
	Token         string   `json:"token" yaml:"token"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
	PingInterval  Duration `json:"ping_interval" yaml:"ping_interval"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// DatabaseConfig configures the reading store.
type DatabaseConfig struct {
	Driver          string   `json:"driver" yaml:"driver"`
	DSN             string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `json:"auto_migrate" yaml:"auto_migrate"`
	ConnectAttempts int      `json:"connect_attempts" yaml:"connect_attempts"`
}

// IngestConfig configures the ingest pipeline and its worker pool.
type IngestConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// Timezone is the IANA zone applied to readings without a UTC offset.
	Timezone       string   `json:"timezone" yaml:"timezone"`
	StoreTimeout   Duration `json:"store_timeout" yaml:"store_timeout"`
	UnhealthyAfter int      `json:"unhealthy_after" yaml:"unhealthy_after"`
}

// ThresholdsConfig configures limit lookups and start-up seeding.
type ThresholdsConfig struct {
	CacheTTL Duration    `json:"cache_ttl" yaml:"cache_ttl"`
	Seed     []LimitSeed `json:"seed" yaml:"seed"`
}

// LimitSeed is a threshold limit written at start-up. Omitted bounds are
// unbounded.
type LimitSeed struct {
	Tag string `json:"tag" yaml:"tag"`
	Min *Bound `json:"min,omitempty" yaml:"min,omitempty"`
	Max *Bound `json:"max,omitempty" yaml:"max,omitempty"`
}

// Limit converts the seed to a threshold limit.
func (s LimitSeed) Limit() types.ThresholdLimit {
	var l types.ThresholdLimit
	switch {
	case s.Min != nil && s.Max != nil:
		l = types.NewLimit(s.Tag, &s.Min.Decimal, &s.Max.Decimal)
	case s.Min != nil:
		l = types.NewLimit(s.Tag, &s.Min.Decimal, nil)
	case s.Max != nil:
		l = types.NewLimit(s.Tag, nil, &s.Max.Decimal)
	default:
		l = types.NewLimit(s.Tag, nil, nil)
	}
	return l
}

// LiveConfig configures the websocket endpoint and fan-out.
type LiveConfig struct {
	Addr                   string   `json:"addr" yaml:"addr"`
	Path                   string   `json:"path" yaml:"path"`
	SendQueue              int      `json:"send_queue" yaml:"send_queue"`
	WriteTimeout           Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval           Duration `json:"ping_interval" yaml:"ping_interval"`
	PongTimeout            Duration `json:"pong_timeout" yaml:"pong_timeout"`
	QueryTimeout           Duration `json:"query_timeout" yaml:"query_timeout"`
	DeliveryTimeout        Duration `json:"delivery_timeout" yaml:"delivery_timeout"`
	DeliveryConcurrency    int      `json:"delivery_concurrency" yaml:"delivery_concurrency"`
	QueryRate              float64  `json:"query_rate" yaml:"query_rate"`
	QueryBurst             int      `json:"query_burst" yaml:"query_burst"`
	MaxMessageSize         int64    `json:"max_message_size" yaml:"max_message_size"`
	AutoSubscribeIncidents bool     `json:"auto_subscribe_incidents" yaml:"auto_subscribe_incidents"`
	AllowedOrigins         []string `json:"allowed_origins" yaml:"allowed_origins"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	mqttDefaults := bus.DefaultMQTTConfig()
	natsDefaults := bus.DefaultNATSConfig()
	live := websocket.DefaultConfig()

	return &Config{
		Bus: BusConfig{
			Kind: bus.KindMQTT,
			MQTT: MQTTConfig{
				Broker:               mqttDefaults.Broker,
				QoS:                  mqttDefaults.QoS,
				KeepAlive:            Duration(mqttDefaults.KeepAlive),
				ConnectTimeout:       Duration(mqttDefaults.ConnectTimeout),
				MaxReconnectInterval: Duration(mqttDefaults.MaxReconnectInterval),
				CleanSession:         mqttDefaults.CleanSession,
			},
			NATS: NATSConfig{
				URL:           natsDefaults.URL,
				Name:          natsDefaults.Name,
				MaxReconnects: natsDefaults.MaxReconnects,
				ReconnectWait: Duration(natsDefaults.ReconnectWait),
				Timeout:       Duration(natsDefaults.Timeout),
				PingInterval:  Duration(natsDefaults.PingInterval),
			},
			ConnectWait: Duration(2 * time.Minute),
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:drillstream.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			MaxIdleConns:    2,
			ConnMaxLifetime: Duration(30 * time.Minute),
			AutoMigrate:     true,
			ConnectAttempts: 30,
		},
		Ingest: IngestConfig{
			Workers:        8,
			QueueSize:      1024,
			Timezone:       "UTC",
			StoreTimeout:   Duration(5 * time.Second),
			UnhealthyAfter: 3,
		},
		Thresholds: ThresholdsConfig{
			CacheTTL: Duration(5 * time.Second),
		},
		Live: LiveConfig{
			Addr:                   live.Addr,
			Path:                   live.Path,
			SendQueue:              live.SendQueue,
			WriteTimeout:           Duration(live.WriteTimeout),
			PingInterval:           Duration(live.PingInterval),
			PongTimeout:            Duration(live.PongTimeout),
			QueryTimeout:           Duration(live.QueryTimeout),
			DeliveryTimeout:        Duration(2 * time.Second),
			DeliveryConcurrency:    fanout.DefaultDeliveryConcurrency,
			QueryRate:              live.QueryRate,
			QueryBurst:             live.QueryBurst,
			MaxMessageSize:         live.MaxMessageSize,
			AutoSubscribeIncidents: live.AutoSubscribeIncidents,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...))
	}

	if err := c.Bus.Source().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Bus.MQTT.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bus.mqtt.tls: %w", err))
	}
	if err := c.Bus.NATS.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bus.nats.tls: %w", err))
	}

	if _, err := sqlstore.DialectFor(c.Database.Driver); err != nil {
		invalid("database.driver: %v", err)
	}
	if c.Database.DSN == "" {
		invalid("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		invalid("database connection limits cannot be negative")
	}

	if c.Ingest.Workers <= 0 {
		invalid("ingest.workers must be positive")
	}
	if c.Ingest.QueueSize <= 0 {
		invalid("ingest.queue_size must be positive")
	}
	if _, err := c.Ingest.Location(); err != nil {
		invalid("ingest.timezone: %v", err)
	}
	if c.Ingest.StoreTimeout < 0 {
		invalid("ingest.store_timeout cannot be negative")
	}

	if c.Thresholds.CacheTTL < 0 {
		invalid("thresholds.cache_ttl cannot be negative")
	}
	seen := make(map[string]bool, len(c.Thresholds.Seed))
	for i, s := range c.Thresholds.Seed {
		if err := s.Limit().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("thresholds.seed[%d]: %w", i, err))
		}
		if seen[s.Tag] {
			invalid("thresholds.seed[%d]: duplicate tag %q", i, s.Tag)
		}
		seen[s.Tag] = true
	}

	if c.Live.Addr == "" {
		invalid("live.addr is required")
	}
	if !strings.HasPrefix(c.Live.Path, "/") {
		invalid("live.path must start with /")
	}
	if c.Live.PingInterval > 0 && c.Live.PongTimeout > 0 && c.Live.PingInterval >= c.Live.PongTimeout {
		invalid("live.ping_interval must be shorter than live.pong_timeout")
	}
	if c.Live.QueryRate < 0 || c.Live.QueryBurst < 0 || c.Live.DeliveryConcurrency < 0 {
		invalid("live.query_rate, live.query_burst and live.delivery_concurrency cannot be negative")
	}
	if err := c.Live.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("live.tls: %w", err))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		invalid("metrics.addr is required when metrics are enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid("log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		invalid("log.format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// Source returns the bus source configuration.
func (b BusConfig) Source() bus.Config {
	return bus.Config{
		Kind: b.Kind,
		MQTT: bus.MQTTConfig{
			Broker:               b.MQTT.Broker,
			ClientID:             b.MQTT.ClientID,
			Username:             b.MQTT.Username,
			Password:             b.MQTT.Password,
			QoS:                  b.MQTT.QoS,
			KeepAlive:            b.MQTT.KeepAlive.Std(),
			ConnectTimeout:       b.MQTT.ConnectTimeout.Std(),
			MaxReconnectInterval: b.MQTT.MaxReconnectInterval.Std(),
			CleanSession:         b.MQTT.CleanSession,
		},
		NATS: bus.NATSConfig{
			URL:           b.NATS.URL,
			Name:          b.NATS.Name,
			Username:      b.NATS.Username,
			Password:      b.NATS.Password,
			Token:         b.NATS.Token,
			MaxReconnects: b.NATS.MaxReconnects,
			ReconnectWait: b.NATS.ReconnectWait.Std(),
			Timeout:       b.NATS.Timeout.Std(),
			PingInterval:  b.NATS.PingInterval.Std(),
		},
	}
}

// ConnectRetry returns a retry policy that keeps trying for about ConnectWait.
func (b BusConfig) ConnectRetry() retry.Config {
	return budgetRetry(b.ConnectWait.Std())
}

// Store returns the sqlstore configuration.
func (d DatabaseConfig) Store() sqlstore.Config {
	connect := retry.Persistent()
	if d.ConnectAttempts > 0 {
		connect.MaxAttempts = d.ConnectAttempts
	}
	return sqlstore.Config{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime.Std(),
		AutoMigrate:     d.AutoMigrate,
		Connect:         connect,
	}
}

// Location loads the configured timezone.
func (i IngestConfig) Location() (*time.Location, error) {
	if i.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(i.Timezone)
}

// Server returns the websocket server configuration.
func (l LiveConfig) Server() websocket.Config {
	return websocket.Config{
		Addr:                   l.Addr,
		Path:                   l.Path,
		SendQueue:              l.SendQueue,
		WriteTimeout:           l.WriteTimeout.Std(),
		PingInterval:           l.PingInterval.Std(),
		PongTimeout:            l.PongTimeout.Std(),
		QueryTimeout:           l.QueryTimeout.Std(),
		QueryRate:              l.QueryRate,
		QueryBurst:             l.QueryBurst,
		MaxMessageSize:         l.MaxMessageSize,
		AutoSubscribeIncidents: l.AutoSubscribeIncidents,
		AllowedOrigins:         l.AllowedOrigins,
	}
}

// LoadSource returns the bus source configuration with certificates loaded
// for the selected transport.
func (b BusConfig) LoadSource() (bus.Config, error) {
	cfg := b.Source()
	var err error
	switch cfg.Kind {
	case bus.KindMQTT:
		cfg.MQTT.TLS, err = tlsutil.LoadClientConfig(b.MQTT.TLS)
	case bus.KindNATS:
		cfg.NATS.TLS, err = tlsutil.LoadClientConfig(b.NATS.TLS)
	}
	return cfg, err
}

// LoadTLS returns the live endpoint's tls.Config, or nil when TLS is off.
func (l LiveConfig) LoadTLS() (*tls.Config, error) {
	return tlsutil.LoadServerConfig(l.TLS)
}

// budgetRetry spreads attempts with capped backoff over roughly total.
func budgetRetry(total time.Duration) retry.Config {
	cfg := retry.Persistent()
	if total <= 0 {
		cfg.MaxAttempts = 1
		return cfg
	}
	attempts := int(total / cfg.MaxDelay)
	if attempts < 3 {
		attempts = 3
	}
	cfg.MaxAttempts = attempts
	return cfg
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

const redacted = "***"

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{
		&masked.Bus.MQTT.Password,
		&masked.Bus.NATS.Password,
		&masked.Bus.NATS.Token,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	if masked.Database.DSN != "" && strings.Contains(masked.Database.DSN, "@") {
		masked.Database.DSN = redactDSN(masked.Database.DSN)
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// redactDSN masks the password in a URL style DSN.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":" + redacted + "@" + host
}
