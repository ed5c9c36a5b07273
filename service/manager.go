package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kent0008/breakers-nurik/errors"
)

// Status represents the current status of a service
type Status int

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Service is one lifecycle unit of the process.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// funcService adapts a pair of functions to Service.
type funcService struct {
	name  string
	start func(ctx context.Context) error
	stop  func(timeout time.Duration) error
}

func (f *funcService) Name() string { return f.name }

func (f *funcService) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *funcService) Stop(timeout time.Duration) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(timeout)
}

// NewFunc creates a Service from start and stop functions. Either may be nil.
func NewFunc(name string, start func(context.Context) error, stop func(time.Duration) error) Service {
	return &funcService{name: name, start: start, stop: stop}
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	services []Service
	started  int
	status   Status
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "service-manager")}
}

// Register appends svc. Services cannot be added once started.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusStopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Register", "register "+svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate service %q", errors.ErrInvalidConfig, svc.Name()),
				"Manager", "Register", "register service")
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Names returns the registered service names in start order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.services))
	for i, s := range m.services {
		names[i] = s.Name()
	}
	return names
}

// Status returns the manager status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StartAll starts every service in order. If one fails, the services already
// started are stopped again, in reverse, within rollbackTimeout.
func (m *Manager) StartAll(ctx context.Context, rollbackTimeout time.Duration) error {
	m.mu.Lock()
	if m.status != StatusStopped {
		m.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	m.status = StatusStarting
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for i, svc := range services {
		start := time.Now()
		m.logger.Debug("Starting service", "service", svc.Name())

		if err := svc.Start(ctx); err != nil {
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.mu.Lock()
			m.started = i
			m.mu.Unlock()
			if stopErr := m.stopStarted(rollbackTimeout); stopErr != nil {
				m.logger.Warn("Rollback after failed start was incomplete", "error", stopErr)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.logger.Debug("Service started",
			"service", svc.Name(),
			"duration_ms", time.Since(start).Milliseconds())
	}

	m.mu.Lock()
	m.started = len(services)
	m.status = StatusRunning
	m.mu.Unlock()

	m.logger.Info("All services started", "count", len(services))
	return nil
}

// StopAll stops started services in reverse order, giving each up to timeout.
// Every service is asked to stop even when an earlier one fails.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	if m.status == StatusStopped {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.stopStarted(timeout)
}

func (m *Manager) stopStarted(timeout time.Duration) error {
	m.mu.Lock()
	m.status = StatusStopping
	services := append([]Service(nil), m.services[:m.started]...)
	m.mu.Unlock()

	overall := time.Now()
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		start := time.Now()
		if err := svc.Stop(timeout); err != nil {
			m.logger.Error("Service stop failed",
				"service", svc.Name(),
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		m.logger.Debug("Service stopped",
			"service", svc.Name(),
			"duration_ms", time.Since(start).Milliseconds())
	}

	m.mu.Lock()
	m.started = 0
	m.status = StatusStopped
	m.mu.Unlock()

	m.logger.Debug("Service shutdown sequence completed",
		"duration_ms", time.Since(overall).Milliseconds(),
		"error_count", len(errs))
	return errors.Join(errs...)
}
