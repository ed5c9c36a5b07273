package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Kent0008/breakers-nurik/config"
	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/fanout"
	"github.com/Kent0008/breakers-nurik/health"
	"github.com/Kent0008/breakers-nurik/input/bus"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/output/websocket"
	"github.com/Kent0008/breakers-nurik/pkg/timestamp"
	"github.com/Kent0008/breakers-nurik/processor/ingest"
	"github.com/Kent0008/breakers-nurik/storage"
	"github.com/Kent0008/breakers-nurik/storage/sqlstore"
	"github.com/Kent0008/breakers-nurik/threshold"
)

// SystemName labels the aggregate health status.
const SystemName = "drillstream"

// StorageHealthComponent is the health component fed by ingest writes.
const StorageHealthComponent = "storage"

// Dependencies overrides parts of the runtime that New would otherwise build
// from configuration.
type Dependencies struct {
	// Store replaces the database opened from cfg.Database. The runtime
	// closes it on Stop.
	Store storage.Store
	// Source replaces the bus created from cfg.Bus.
	Source bus.Source
	// Clock replaces the system clock used for received_at.
	Clock *timestamp.Clock
}

// Runtime is the assembled process.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	store    storage.Store
	hub      *fanout.Hub
	pipeline *ingest.Pipeline
	ingest   *ingest.Service
	source   bus.Source
	live     *websocket.Server
	ops      *metric.Server
	manager  *Manager
}

// New builds every component from cfg. The store is opened and threshold
// seeds are written here; nothing listens or subscribes until Start.
func New(ctx context.Context, cfg *config.Config, deps Dependencies, logger *slog.Logger) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Runtime", "New", "require config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		cfg:      cfg,
		logger:   logger.With("component", "runtime"),
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
		manager:  NewManager(logger),
	}
	metrics := r.registry.CoreMetrics()

	r.store = deps.Store
	if r.store == nil {
		store, err := sqlstore.Open(ctx, cfg.Database.Store(), logger)
		if err != nil {
			return nil, err
		}
		r.store = store
	}
	defer func() {
		if err != nil {
			_ = r.store.Close()
		}
	}()

	if err := SeedThresholds(ctx, r.store, cfg.Thresholds.Seed, r.logger); err != nil {
		return nil, err
	}

	limits, err := threshold.NewCachedRegistry(r.store, cfg.Thresholds.CacheTTL.Std(), r.registry)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "New", "create threshold cache")
	}
	evaluator := threshold.NewEvaluator(limits, logger)

	r.hub = fanout.NewHub(
		fanout.WithDeliveryTimeout(cfg.Live.DeliveryTimeout.Std()),
		fanout.WithDeliveryConcurrency(cfg.Live.DeliveryConcurrency),
		fanout.WithLogger(logger),
		fanout.WithMetrics(metrics),
	)

	loc, err := cfg.Ingest.Location()
	if err != nil {
		return nil, errors.WrapFatal(err, "Runtime", "New", "load timezone")
	}
	pipelineOpts := []ingest.Option{
		ingest.WithLocation(loc),
		ingest.WithStoreTimeout(cfg.Ingest.StoreTimeout.Std()),
		ingest.WithLogger(logger),
		ingest.WithMetrics(metrics),
		ingest.WithHealth(health.NewTracker(r.monitor, StorageHealthComponent, cfg.Ingest.UnhealthyAfter)),
	}
	if deps.Clock != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithClock(deps.Clock))
	}
	r.pipeline, err = ingest.NewPipeline(r.store, r.store, evaluator, r.hub, pipelineOpts...)
	if err != nil {
		return nil, err
	}
	r.ingest = ingest.NewService(r.pipeline, ingest.ServiceConfig{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	}, r.registry, logger)

	r.source = deps.Source
	if r.source == nil {
		busCfg, err := cfg.Bus.LoadSource()
		if err != nil {
			return nil, err
		}
		r.source, err = bus.New(busCfg,
			bus.WithLogger(logger),
			bus.WithMetrics(metrics),
			bus.WithHealth(r.monitor),
			bus.WithConnectRetry(cfg.Bus.ConnectRetry()),
		)
		if err != nil {
			return nil, err
		}
	}

	liveTLS, err := cfg.Live.LoadTLS()
	if err != nil {
		return nil, err
	}
	r.live, err = websocket.NewServer(cfg.Live.Server(), r.hub, r.store,
		websocket.WithLogger(logger),
		websocket.WithMetrics(metrics),
		websocket.WithTLS(liveTLS),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		r.ops = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, r.registry, r.monitor, logger)
	}

	if err := r.register(); err != nil {
		return nil, err
	}
	return r, nil
}

// register lays out the start order. Stop runs it backwards.
func (r *Runtime) register() error {
	services := []Service{
		NewFunc("store", nil, func(time.Duration) error { return r.store.Close() }),
		NewFunc("ingest", r.ingest.Start, r.ingest.Stop),
		NewFunc("live", r.live.Start, r.live.Stop),
	}
	if r.ops != nil {
		services = append(services, NewFunc("ops",
			func(context.Context) error { return r.ops.Start() }, r.ops.Stop))
	}
	services = append(services, NewFunc("bus",
		func(ctx context.Context) error { return r.source.Start(ctx, r.ingest.Handle) },
		r.source.Stop))

	for _, svc := range services {
		if err := r.manager.Register(svc); err != nil {
			return err
		}
	}
	return nil
}

// Start starts every component. On failure the components already started
// are stopped and the store is closed.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.manager.StartAll(ctx, 5*time.Second); err != nil {
		return errors.Wrap(err, "Runtime", "Start", "start services")
	}
	r.logger.Info("Drillstream running",
		"bus", r.cfg.Bus.Kind,
		"live_addr", r.live.Addr(),
		"ops_addr", r.OpsAddr())
	return nil
}

// Stop stops every component, giving each up to timeout.
func (r *Runtime) Stop(timeout time.Duration) error {
	return r.manager.StopAll(timeout)
}

// Run starts the runtime and blocks until ctx is done, then stops it.
func (r *Runtime) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.logger.Info("Shutting down", "timeout", shutdownTimeout)
	return r.Stop(shutdownTimeout)
}

// Status returns the lifecycle status.
func (r *Runtime) Status() Status {
	return r.manager.Status()
}

// Health aggregates component health.
func (r *Runtime) Health() health.Status {
	return r.monitor.AggregateHealth(SystemName)
}

// LiveAddr returns the websocket listener address.
func (r *Runtime) LiveAddr() string {
	return r.live.Addr()
}

// OpsAddr returns the ops listener address, or "" when metrics are disabled.
func (r *Runtime) OpsAddr() string {
	if r.ops == nil {
		return ""
	}
	return r.ops.Addr()
}

// Metrics returns the metrics registry.
func (r *Runtime) Metrics() *metric.MetricsRegistry {
	return r.registry
}

// SeedThresholds writes each seed through the store's validating upsert.
func SeedThresholds(ctx context.Context, store storage.ThresholdStore, seeds []config.LimitSeed, logger *slog.Logger) error {
	for _, seed := range seeds {
		limit := seed.Limit()
		if err := store.UpsertThreshold(ctx, limit); err != nil {
			return errors.Wrap(err, "Runtime", "SeedThresholds", "upsert limit for "+seed.Tag)
		}
	}
	if len(seeds) > 0 && logger != nil {
		logger.Info("Threshold limits seeded", "count", len(seeds))
	}
	return nil
}
