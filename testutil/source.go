package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/input/bus"
)

// MockSource is a bus.Source driven by the test through Emit.
type MockSource struct {
	mu       sync.Mutex
	handler  bus.Handler
	ctx      context.Context
	cancel   context.CancelFunc
	startErr error
	stopped  bool
}

var _ bus.Source = (*MockSource)(nil)

// NewMockSource creates a source that starts successfully.
func NewMockSource() *MockSource {
	return &MockSource{}
}

// FailStart makes the next Start return err.
func (s *MockSource) FailStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// Start records handler.
func (s *MockSource) Start(ctx context.Context, handler bus.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startErr != nil {
		err := s.startErr
		s.startErr = nil
		return err
	}
	if s.handler != nil {
		return errors.ErrAlreadyStarted
	}
	s.handler = handler
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.stopped = false
	return nil
}

// Emit delivers one message synchronously. It reports false when the source
// is not running.
func (s *MockSource) Emit(ctx context.Context, topic string, payload []byte) bool {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(ctx, topic, payload)
	return true
}

// Stop detaches the handler.
func (s *MockSource) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.handler = nil
	s.stopped = true
	return nil
}

// Connected reports whether a handler is attached.
func (s *MockSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Stopped reports whether Stop has been called since the last Start.
func (s *MockSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
