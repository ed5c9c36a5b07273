package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/metric"
	"github.com/Kent0008/breakers-nurik/types"
)

type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) PublishReading(ctx context.Context, _ types.Reading) int {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return 0
}

func (b *blockingPublisher) PublishIncident(context.Context, types.Incident) int { return 0 }

func TestService_ProcessesAndDrains(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.pipeline, ServiceConfig{Workers: 4, QueueSize: 100}, metric.NewMetricsRegistry(), nil)

	require.NoError(t, svc.Start(context.Background()))
	assert.ErrorIs(t, svc.Start(context.Background()), errors.ErrAlreadyStarted)

	for i := 0; i < 20; i++ {
		svc.Handle(context.Background(), fmt.Sprintf("telemetry/T%d", i%3), []byte(`{"value": 1}`))
	}
	svc.Handle(context.Background(), "unknown/topic", []byte(`{"value": 1}`))

	require.NoError(t, svc.Stop(2*time.Second))
	assert.Len(t, f.store.Readings(), 20)

	stats := svc.Stats()
	assert.Equal(t, int64(21), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.NoError(t, svc.Stop(time.Second))
}

func TestService_StartContextDoesNotAbortWork(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.pipeline, ServiceConfig{Workers: 1, QueueSize: 10}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()

	svc.Handle(context.Background(), "telemetry/DEPTH", []byte(`{"value": 1}`))
	require.NoError(t, svc.Stop(2*time.Second))
	assert.Len(t, f.store.Readings(), 1)
}

func TestService_QueueFullDrops(t *testing.T) {
	f := newFixture(t)
	pub := &blockingPublisher{release: make(chan struct{})}
	p, err := NewPipeline(f.store, f.store, f.pipeline.evaluator, pub, WithMetrics(f.metrics))
	require.NoError(t, err)

	svc := NewService(p, ServiceConfig{Workers: 1, QueueSize: 1}, nil, nil)
	require.NoError(t, svc.Start(context.Background()))

	// first message occupies the worker, second fills the queue
	svc.Handle(context.Background(), "telemetry/A", []byte(`{"value": 1}`))
	require.Eventually(t, func() bool { return len(f.store.Readings()) == 1 }, time.Second, 5*time.Millisecond)
	svc.Handle(context.Background(), "telemetry/B", []byte(`{"value": 2}`))
	svc.Handle(context.Background(), "telemetry/C", []byte(`{"value": 3}`))

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.MessagesDropped.WithLabelValues(metric.ReasonQueueFull)))

	close(pub.release)
	require.NoError(t, svc.Stop(2*time.Second))
	assert.Len(t, f.store.Readings(), 2)
}
