package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/pkg/worker"
)

// Message is one bus delivery awaiting processing.
type Message struct {
	Topic   string
	Payload []byte
}

var errDropped = errors.New("message dropped")

// ServiceConfig sizes the worker pool.
type ServiceConfig struct {
	Workers   int
	QueueSize int
}

// Service runs a Pipeline on a bounded worker pool so a slow store never
// stalls the bus callback.
type Service struct {
	pipeline *Pipeline
	pool     *worker.Pool[Message]
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewService creates a service around p. registry may be nil.
func NewService(p *Pipeline, cfg ServiceConfig, registry metric.MetricsRegistrar, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		pipeline: p,
		logger:   logger.With("component", "ingest"),
		metrics:  p.metrics,
	}

	var opts []worker.Option[Message]
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[Message](registry, "ingest"))
	}
	s.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, s.process, opts...)
	return s
}

func (s *Service) process(ctx context.Context, m Message) error {
	if s.pipeline.HandleMessage(ctx, m.Topic, m.Payload) == OutcomeDropped {
		return errDropped
	}
	return nil
}

// Start launches the workers. Processing outlives ctx until Stop so queued
// messages are not abandoned mid-write.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.pool.Start(runCtx); err != nil {
		cancel()
		return errors.Wrap(err, "Service", "Start", "start worker pool")
	}
	s.cancel = cancel
	return nil
}

// Handle enqueues a bus message. It never blocks; when the queue is full the
// message is dropped with a warning.
func (s *Service) Handle(_ context.Context, topicName string, payload []byte) {
	err := s.pool.Submit(Message{Topic: topicName, Payload: payload})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrQueueFull):
		s.logger.Warn("Ingest queue full, dropping message", "topic", topicName)
		s.metrics.RecordDropped(metric.ReasonQueueFull)
	default:
		s.logger.Debug("Message rejected", "topic", topicName, "error", err)
	}
}

// Stop drains queued messages for up to timeout, then cancels in-flight work.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	err := s.pool.Stop(timeout)
	s.cancel()
	if err != nil {
		s.logger.Warn("Ingest workers did not drain in time", "error", err)
		return errors.Wrap(err, "Service", "Stop", "drain worker pool")
	}
	return nil
}

// Stats returns worker pool counters.
func (s *Service) Stats() worker.PoolStats {
	return s.pool.Stats()
}
