package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/health"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/pkg/timestamp"
	"github.com/Kent0008/breakers-nurik/topic"
	"github.com/Kent0008/breakers-nurik/types"
)

// ReadingStore persists readings.
type ReadingStore interface {
	InsertReading(ctx context.Context, r *types.Reading) error
}

// IncidentStore persists incidents.
type IncidentStore interface {
	InsertIncident(ctx context.Context, inc *types.Incident) error
}

// Evaluator checks a value against the tag's limit.
type Evaluator interface {
	Evaluate(ctx context.Context, tag string, value decimal.Decimal) (*types.Violation, error)
}

// Publisher fans events out to live subscribers and returns the number of
// successful deliveries.
type Publisher interface {
	PublishReading(ctx context.Context, r types.Reading) int
	PublishIncident(ctx context.Context, inc types.Incident) int
}

// Outcome is what became of one message.
type Outcome string

// Outcomes
const (
	OutcomeDropped        Outcome = "dropped"
	OutcomeStored         Outcome = "stored"
	OutcomeIncident       Outcome = "incident"
	OutcomeIncidentFailed Outcome = "incident_failed"
)

// DefaultStoreTimeout bounds each storage call, including limit lookups.
const DefaultStoreTimeout = 5 * time.Second

// Pipeline turns bus messages into persisted readings, incidents and live
// events. It is safe for concurrent use; messages are independent of each
// other and may be handled in any order.
type Pipeline struct {
	readings  ReadingStore
	incidents IncidentStore
	evaluator Evaluator
	publisher Publisher

	clock        *timestamp.Clock
	location     *time.Location
	storeTimeout time.Duration

	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Tracker
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLocation sets the zone applied to timestamps without an offset.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithClock sets the receive-time clock.
func WithClock(c *timestamp.Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithStoreTimeout sets the bound on each storage call.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.storeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHealth reports storage outcomes to t.
func WithHealth(t *health.Tracker) Option {
	return func(p *Pipeline) { p.health = t }
}

// NewPipeline wires a pipeline.
func NewPipeline(readings ReadingStore, incidents IncidentStore, evaluator Evaluator, publisher Publisher, opts ...Option) (*Pipeline, error) {
	if readings == nil || incidents == nil || evaluator == nil || publisher == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "check dependencies")
	}

	p := &Pipeline{
		readings:     readings,
		incidents:    incidents,
		evaluator:    evaluator,
		publisher:    publisher,
		location:     time.UTC,
		storeTimeout: DefaultStoreTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = timestamp.NewClock(p.location)
	}
	p.logger = p.logger.With("component", "ingest")
	return p, nil
}

// HandleMessage processes one bus message. Failures are logged and counted,
// never returned; a message that cannot be stored is dropped, not retried.
func (p *Pipeline) HandleMessage(ctx context.Context, topicName string, payload []byte) (outcome Outcome) {
	start := time.Now()
	p.metrics.RecordReceived()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Message handling panicked", "topic", topicName, "panic", r)
			outcome = OutcomeDropped
		}
		p.metrics.RecordProcessingDuration(time.Since(start))
	}()

	tag, ok := topic.Decode(topicName)
	if !ok {
		p.logger.Warn("Unrecognized topic", "topic", topicName)
		p.metrics.RecordDropped(metric.ReasonUnknownTopic)
		return OutcomeDropped
	}

	reading, sent, err := p.decode(tag, payload)
	if err != nil {
		p.logger.Warn("Dropping invalid payload", "topic", topicName, "tag", tag, "error", err)
		p.metrics.RecordDropped(metric.ReasonInvalidPayload)
		return OutcomeDropped
	}

	if err := p.storeReading(ctx, &reading); err != nil {
		p.logger.Error("Failed to store reading", "tag", tag, "error", err)
		p.metrics.RecordDropped(metric.ReasonStorage)
		return OutcomeDropped
	}

	p.publisher.PublishReading(ctx, reading)

	violation, err := p.evaluate(ctx, tag, sent)
	if err != nil {
		p.logger.Warn("Threshold evaluation skipped", "tag", tag, "error", err)
		p.metrics.RecordStorageError("get_threshold")
		return OutcomeStored
	}
	if violation == nil {
		return OutcomeStored
	}

	incident := types.NewIncident(reading, *violation)
	if err := p.storeIncident(ctx, &incident); err != nil {
		p.logger.Error("Failed to store incident",
			"tag", tag, "value", reading.Value.String(), "kind", string(incident.Kind), "error", err)
		return OutcomeIncidentFailed
	}

	p.metrics.RecordIncident(string(incident.Kind))
	p.logger.Info("Threshold violation",
		"tag", tag, "value", reading.Value.String(), "kind", string(incident.Kind), "incident_id", incident.ID)
	p.publisher.PublishIncident(ctx, incident)
	return OutcomeIncident
}

// decode builds a reading from a JSON object payload. The reading carries the
// stored NUMERIC(10,3) value; the value as sent is returned alongside it so
// that limits are checked against the unrounded figure.
func (p *Pipeline) decode(tag string, payload []byte) (types.Reading, decimal.Decimal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return types.Reading{}, decimal.Decimal{}, errors.WrapInvalid(errors.ErrInvalidPayload, "Pipeline", "decode", "parse JSON object")
	}

	sent, err := parseValue(fields["value"])
	if err != nil {
		return types.Reading{}, decimal.Decimal{}, err
	}
	value, err := types.NormalizeValue(sent)
	if err != nil {
		return types.Reading{}, decimal.Decimal{}, err
	}

	receivedAt := p.clock.Now()
	ts, err := p.parseTimestamp(fields["timestamp"])
	if err != nil {
		p.logger.Warn("Invalid timestamp, using receive time", "tag", tag, "error", err)
		p.metrics.RecordTimestampFallback()
	}
	if ts.IsZero() {
		ts = receivedAt
	}

	return types.Reading{Tag: tag, Value: value, Timestamp: ts, ReceivedAt: receivedAt}, sent, nil
}

// parseValue accepts a JSON number or a numeric string.
func parseValue(raw json.RawMessage) (decimal.Decimal, error) {
	if isNull(raw) {
		return decimal.Decimal{}, errors.WrapInvalid(errors.ErrMissingValue, "Pipeline", "parseValue", "read value")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, errors.WrapInvalid(errors.ErrInvalidPayload, "Pipeline", "parseValue", "read value")
		}
		text = strings.TrimSpace(text)
	}

	v, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, errors.WrapInvalid(errors.ErrInvalidPayload, "Pipeline", "parseValue", "parse value "+text)
	}
	return v, nil
}

// parseTimestamp returns the zero time when the field is absent or empty.
// A present but unusable field returns the zero time and an error.
func (p *Pipeline) parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, errors.WrapInvalid(errors.ErrInvalidTimestamp, "Pipeline", "parseTimestamp", "read non-string timestamp")
	}
	if s == "" {
		return time.Time{}, nil
	}

	t, err := timestamp.Parse(s, p.location)
	if err != nil {
		return time.Time{}, errors.WrapInvalid(errors.ErrInvalidTimestamp, "Pipeline", "parseTimestamp", "parse "+s)
	}
	return t, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (p *Pipeline) evaluate(ctx context.Context, tag string, value decimal.Decimal) (*types.Violation, error) {
	lctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	violation, err := p.evaluator.Evaluate(lctx, tag, value)
	if err != nil {
		return nil, errors.WrapTransient(err, "Pipeline", "evaluate", "look up limit")
	}
	return violation, nil
}

func (p *Pipeline) storeReading(ctx context.Context, r *types.Reading) error {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	if err := p.readings.InsertReading(sctx, r); err != nil {
		p.metrics.RecordStorageError("insert_reading")
		p.storageFailed(err)
		return errors.WrapTransient(err, "Pipeline", "storeReading", "insert reading")
	}
	p.metrics.RecordPersisted()
	p.storageSucceeded()
	return nil
}

func (p *Pipeline) storeIncident(ctx context.Context, inc *types.Incident) error {
	sctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	if err := p.incidents.InsertIncident(sctx, inc); err != nil {
		p.metrics.RecordStorageError("insert_incident")
		p.storageFailed(err)
		return errors.WrapTransient(err, "Pipeline", "storeIncident", "insert incident")
	}
	p.storageSucceeded()
	return nil
}

func (p *Pipeline) storageFailed(err error) {
	if p.health != nil {
		p.health.Failure(err)
	}
}

func (p *Pipeline) storageSucceeded() {
	if p.health != nil {
		p.health.Success()
	}
}
