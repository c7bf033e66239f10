package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// Manager starts services in registration order and stops them in
// reverse. A service that fails to start aborts Start and unwinds the
// ones already running.
type Manager struct {
	logger      *logger.Logger
	services    []Service
	statuses    map[string]*ServiceStatus
	started     []Service
	stopTimeout time.Duration

	// mu serializes Start and Shutdown; regMu guards services and statuses.
	mu    sync.Mutex
	regMu sync.RWMutex
}

func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:      log,
		statuses:    make(map[string]*ServiceStatus),
		stopTimeout: 10 * time.Second,
	}
}

// Register adds svc. Registering after Start has no effect on the running set.
func (m *Manager) Register(svc Service) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())
}

// Start starts every registered service.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.regMu.RLock()
	services := append([]Service(nil), m.services...)
	m.regMu.RUnlock()

	m.logger.Info("Starting services", "count", len(services))
	for _, svc := range services {
		status := m.Status(svc.Name())
		status.Set(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.Fail(err)
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.stopStarted(context.WithoutCancel(ctx))
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		status.Set(StatusRunning)
		m.started = append(m.started, svc)
		m.logger.Info("Service started", "service", svc.Name())
	}
	return nil
}

// Shutdown stops started services in reverse order. Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Shutting down services", "count", len(m.started))
	return m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		status := m.Status(svc.Name())
		status.Set(StatusStopping)

		stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
		err := svc.Stop(stopCtx)
		cancel()
		if err != nil {
			status.Fail(err)
			m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		status.Set(StatusStopped)
		m.logger.Info("Service stopped", "service", svc.Name())
	}
	m.started = nil
	return errors.Join(errs...)
}

// Statuses returns a snapshot of every registered service, in registration order.
func (m *Manager) Statuses() []Snapshot {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	out := make([]Snapshot, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, m.statuses[svc.Name()].Snapshot())
	}
	return out
}

func (m *Manager) Status(name string) *ServiceStatus {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	return m.statuses[name]
}
