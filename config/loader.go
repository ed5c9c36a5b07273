package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Kent0008/breakers-nurik/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRILLSTREAM"

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Loader builds a Config from defaults, file layers and environment overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a file. Later layers override earlier ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation of the result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file over the defaults. An empty path loads
// defaults and environment overrides only.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = nil
	if path != "" {
		l.layers = []string{path}
	}
	return l.Load()
}

// Load applies defaults, each layer in order, then environment overrides,
// and validates the result when validation is enabled.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.decodeFile(path, cfg); err != nil {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "load "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "validate")
		}
	}
	return cfg, nil
}

// decodeFile decodes path onto cfg. Fields absent from the file keep their
// current values.
func (l *Loader) decodeFile(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}
	format, err := configFormat(path)
	if err != nil {
		return err
	}

	switch format {
	case formatJSON:
		if err := validateJSONDepth(data); err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
	case formatYAML:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
	}
	return nil
}

// env returns the value of <prefix>_<key> when set and non-empty.
func (l *Loader) env(key string) (string, bool, error) {
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false, err
	}
	return val, true, nil
}

// applyEnvOverrides applies DRILLSTREAM_* variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BUS_KIND":        &cfg.Bus.Kind,
		"MQTT_BROKER":     &cfg.Bus.MQTT.Broker,
		"MQTT_CLIENT_ID":  &cfg.Bus.MQTT.ClientID,
		"MQTT_USERNAME":   &cfg.Bus.MQTT.Username,
		"MQTT_PASSWORD":   &cfg.Bus.MQTT.Password,
		"NATS_URL":        &cfg.Bus.NATS.URL,
		"NATS_USERNAME":   &cfg.Bus.NATS.Username,
		"NATS_PASSWORD":   &cfg.Bus.NATS.Password,
		"NATS_TOKEN":      &cfg.Bus.NATS.Token,
		"DATABASE_DRIVER": &cfg.Database.Driver,
		"DATABASE_DSN":    &cfg.Database.DSN,
		"INGEST_TIMEZONE": &cfg.Ingest.Timezone,
		"LIVE_ADDR":       &cfg.Live.Addr,
		"LIVE_PATH":       &cfg.Live.Path,
		"METRICS_ADDR":    &cfg.Metrics.Addr,
		"LOG_LEVEL":       &cfg.Log.Level,
		"LOG_FORMAT":      &cfg.Log.Format,
	}
	for key, dst := range strs {
		val, ok, err := l.env(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	ints := map[string]*int{
		"INGEST_WORKERS":    &cfg.Ingest.Workers,
		"INGEST_QUEUE_SIZE": &cfg.Ingest.QueueSize,
	}
	for key, dst := range ints {
		val, ok, err := l.env(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %q is not an integer", l.envPrefix, key, val)
		}
		*dst = n
	}

	durations := map[string]*Duration{
		"THRESHOLDS_CACHE_TTL": &cfg.Thresholds.CacheTTL,
		"INGEST_STORE_TIMEOUT": &cfg.Ingest.StoreTimeout,
	}
	for key, dst := range durations {
		val, ok, err := l.env(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := dst.parse(val); err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, key, err)
		}
	}

	if val, ok, err := l.env("METRICS_ENABLED"); err != nil {
		return err
	} else if ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_ENABLED: %q is not a boolean", l.envPrefix, val)
		}
		cfg.Metrics.Enabled = b
	}

	if val, ok, err := l.env("LIVE_ALLOWED_ORIGINS"); err != nil {
		return err
	} else if ok {
		var origins []string
		for _, o := range strings.Split(val, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Live.AllowedOrigins = origins
	}
	return nil
}
