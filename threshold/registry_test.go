package threshold

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/types"
)

type countingRegistry struct {
	mu     sync.Mutex
	limits map[string]*types.ThresholdLimit
	calls  int
	err    error
}

func (r *countingRegistry) GetThreshold(_ context.Context, tag string) (*types.ThresholdLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.limits[tag], nil
}

func TestCachedRegistry(t *testing.T) {
	src := &countingRegistry{limits: map[string]*types.ThresholdLimit{"WOB": limit("10", "25")}}
	reg, err := NewCachedRegistry(src, time.Minute, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		l, err := reg.GetThreshold(context.Background(), "WOB")
		require.NoError(t, err)
		require.NotNil(t, l)
	}
	assert.Equal(t, 1, src.calls)

	// absence is cached too
	for i := 0; i < 3; i++ {
		l, err := reg.GetThreshold(context.Background(), "RPM")
		require.NoError(t, err)
		assert.Nil(t, l)
	}
	assert.Equal(t, 2, src.calls)

	reg.(*CachedRegistry).Invalidate("WOB")
	_, _ = reg.GetThreshold(context.Background(), "WOB")
	assert.Equal(t, 3, src.calls)
}

func TestCachedRegistry_ErrorsAreNotCached(t *testing.T) {
	src := &countingRegistry{err: errors.New("connection refused")}
	reg, err := NewCachedRegistry(src, time.Minute, nil)
	require.NoError(t, err)

	_, err = reg.GetThreshold(context.Background(), "WOB")
	assert.Error(t, err)
	_, err = reg.GetThreshold(context.Background(), "WOB")
	assert.Error(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestNewCachedRegistry_Disabled(t *testing.T) {
	src := &countingRegistry{}
	reg, err := NewCachedRegistry(src, 0, nil)
	require.NoError(t, err)
	assert.Same(t, src, reg)
}

func TestEvaluator(t *testing.T) {
	src := &countingRegistry{limits: map[string]*types.ThresholdLimit{"WOB": limit("10", "25")}}
	e := NewEvaluator(src, nil)

	v, err := e.Evaluate(context.Background(), "WOB", decimal.RequireFromString("30.0"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, types.AboveMax, v.Kind)

	v, err = e.Evaluate(context.Background(), "unconfigured", decimal.RequireFromString("1e9"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvaluator_LookupFailure(t *testing.T) {
	e := NewEvaluator(&countingRegistry{err: errors.New("timeout")}, nil)

	_, err := e.Evaluate(context.Background(), "WOB", decimal.Zero)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
}
