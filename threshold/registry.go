package threshold

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/pkg/cache"
	"github.com/Kent0008/breakers-nurik/types"
)

// Registry looks up the limit configured for a tag. A nil limit with a nil
// error means the tag is unconfigured.
type Registry interface {
	GetThreshold(ctx context.Context, tag string) (*types.ThresholdLimit, error)
}

// CachedRegistry serves lookups from a TTL cache in front of a Registry.
// Misses are cached as well, so a limit added or changed becomes effective
// within one TTL.
type CachedRegistry struct {
	source Registry
	cache  *cache.TTL[*types.ThresholdLimit]
}

// NewCachedRegistry wraps source. A non-positive ttl disables caching and
// returns source unchanged.
func NewCachedRegistry(source Registry, ttl time.Duration, registry metric.MetricsRegistrar) (Registry, error) {
	if ttl <= 0 {
		return source, nil
	}
	c, err := cache.NewTTL(ttl, cache.WithMetrics[*types.ThresholdLimit](registry, "thresholds"))
	if err != nil {
		return nil, err
	}
	return &CachedRegistry{source: source, cache: c}, nil
}

// GetThreshold implements Registry.
func (r *CachedRegistry) GetThreshold(ctx context.Context, tag string) (*types.ThresholdLimit, error) {
	if l, ok := r.cache.Get(tag); ok {
		return l, nil
	}
	l, err := r.source.GetThreshold(ctx, tag)
	if err != nil {
		return nil, err
	}
	r.cache.Set(tag, l)
	return l, nil
}

// Invalidate forgets the cached limit for tag.
func (r *CachedRegistry) Invalidate(tag string) {
	r.cache.Delete(tag)
}

// Evaluator resolves limits through a Registry and applies Evaluate.
type Evaluator struct {
	registry Registry
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(registry Registry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{registry: registry, logger: logger.With("component", "threshold")}
}

// Evaluate returns the violation of value against tag's limit, or nil.
func (e *Evaluator) Evaluate(ctx context.Context, tag string, value decimal.Decimal) (*types.Violation, error) {
	limit, err := e.registry.GetThreshold(ctx, tag)
	if err != nil {
		return nil, errors.WrapTransient(err, "Evaluator", "Evaluate", "look up threshold")
	}
	v := Evaluate(limit, value)
	if v != nil {
		e.logger.Debug("Threshold violated", "tag", tag, "value", value.String(), "kind", string(v.Kind))
	}
	return v, nil
}
