package system

import (
	"context"
	"fmt"

	"github.com/playforge-studio/modelplane/pkg/logger"
)

// Manager registers and drives the lifecycle of every Service the
// application wires together. It replaces the ad-hoc per-service
// goroutine bookkeeping a smaller app could get away with: Start runs
// services in registration order and stops whatever already started if one
// fails; Stop always runs in reverse registration order so dependents shut
// down before what they depend on.
type Manager struct {
	log      *logger.Logger
	services []Service
}

// NewManager returns an empty Manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a service to the managed set. Order matters: Start runs
// services in registration order, Stop in the reverse.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Services returns the registered services, for descriptor collection.
func (m *Manager) Services() []Service {
	return m.services
}

// Start starts every registered service in order. If one fails, every
// service already started is stopped (in reverse order) before Start
// returns the error.
func (m *Manager) Start(ctx context.Context) error {
	started := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		m.log.WithField("service", svc.Name()).Info("starting service")
		if err := svc.Start(ctx); err != nil {
			m.log.WithField("service", svc.Name()).WithField("error", err).Error("service failed to start")
			m.stopAll(ctx, started)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}
	return nil
}

// Stop stops every registered service in reverse registration order,
// collecting and returning the first error encountered while still
// attempting to stop the rest.
func (m *Manager) Stop(ctx context.Context) error {
	return m.stopAll(ctx, m.services)
}

func (m *Manager) stopAll(ctx context.Context, services []Service) error {
	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		m.log.WithField("service", svc.Name()).Info("stopping service")
		if err := svc.Stop(ctx); err != nil {
			m.log.WithField("service", svc.Name()).WithField("error", err).Error("service failed to stop")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	return firstErr
}

// NoopService is a Service implementation that does nothing; useful for
// wiring optional components behind a single interface without nil checks
// scattered through application.go.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string                    { return n.ServiceName }
func (n NoopService) Start(_ context.Context) error    { return nil }
func (n NoopService) Stop(_ context.Context) error     { return nil }
