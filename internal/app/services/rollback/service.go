// Package rollback implements the Rollback Manager (C7): capturing model
// snapshots and restoring a model to a previously-known-good state.
package rollback

import (
	"context"
	"strings"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/domain/snapshot"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// Service captures and restores model snapshots.
type Service struct {
	snapshots   storage.SnapshotStore
	deployments storage.DeploymentStore
	registry    storage.RegistryStore
	hooks       core.ObservationHooks
	log         *logger.Logger
}

// New constructs a rollback Service.
func New(snapshots storage.SnapshotStore, deployments storage.DeploymentStore, registry storage.RegistryStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rollback")
	}
	return &Service{snapshots: snapshots, deployments: deployments, registry: registry, log: log}
}

// WithObservationHooks attaches optional metrics hooks fired around every
// Rollback call, keyed by model ID.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// Snapshot captures modelID's current configuration, metrics, observed
// traffic allocation, and artifact pointer, per spec.md §4.7.
func (s *Service) Snapshot(ctx context.Context, modelID string) (string, error) {
	if strings.TrimSpace(modelID) == "" {
		return "", errors.InvalidArgument("model_id", "required")
	}

	m, err := s.registry.Get(ctx, modelID)
	if err != nil {
		return "", err
	}

	trafficPercent := s.observedTraffic(ctx, modelID)

	created, err := s.snapshots.CreateSnapshot(ctx, snapshot.Snapshot{
		ModelID:          m.ID,
		Config:           m.Config,
		Metrics:          m.Metrics,
		TrafficPercent:   trafficPercent,
		ArtifactLocation: m.ModelPath,
	})
	if err != nil {
		return "", errors.Internal("create snapshot", err)
	}
	s.log.WithField("model_id", m.ID).WithField("snapshot_id", created.ID).Info("snapshot captured")
	return created.ID, nil
}

// observedTraffic reads the traffic percentage from the latest in-progress
// deployment for modelID. It returns 0 when modelID has no in-progress
// deployment; completed deployments are not consulted.
func (s *Service) observedTraffic(ctx context.Context, modelID string) int {
	if d, found, err := s.deployments.InProgress(ctx, modelID); err == nil && found {
		return d.TrafficPercent
	}
	return 0
}

// Rollback restores modelID to snapshotID (or its most recent snapshot
// when snapshotID is empty), re-marks the model current, and writes a
// synthetic rollback Deployment record. Per spec.md §4.7, rollback never
// triggers a further rollback on failure.
func (s *Service) Rollback(ctx context.Context, modelID, snapshotID string) (ok bool, err error) {
	done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": modelID})
	defer func() { done(err) }()

	return s.rollback(ctx, modelID, snapshotID)
}

func (s *Service) rollback(ctx context.Context, modelID, snapshotID string) (bool, error) {
	if strings.TrimSpace(modelID) == "" {
		return false, errors.InvalidArgument("model_id", "required")
	}

	snap, err := s.resolveSnapshot(ctx, modelID, snapshotID)
	if err != nil {
		return false, err
	}

	if _, err := s.registry.UpdateConfig(ctx, modelID, model.Config(snap.Config)); err != nil {
		return false, errors.Unavailable("restore model config", err)
	}
	if err := s.registry.UpdatePerformance(ctx, modelID, model.Metrics(snap.Metrics)); err != nil {
		s.log.WithField("error", err).Warn("failed to restore snapshot metrics; continuing")
	}

	restored, err := s.registry.UpdateStatus(ctx, modelID, model.StatusCurrent)
	if err != nil {
		return false, errors.Unavailable("restore current status", err)
	}

	if _, err := s.deployments.CreateDeployment(ctx, deployment.Deployment{
		ModelID:        modelID,
		Strategy:       deployment.StrategyRollback,
		Status:         deployment.StatusCompleted,
		TrafficPercent: snap.TrafficPercent,
		RollbackReason: "rollback manager restore from snapshot " + snap.ID,
	}); err != nil {
		s.log.WithField("error", err).Warn("failed to write rollback deployment record")
	}

	success := restored.Status == model.StatusCurrent
	if !success {
		return false, errors.Unavailable("rollback verification", context.DeadlineExceeded)
	}
	s.log.WithField("model_id", modelID).WithField("snapshot_id", snap.ID).Info("model rolled back")
	return true, nil
}

func (s *Service) resolveSnapshot(ctx context.Context, modelID, snapshotID string) (snapshot.Snapshot, error) {
	if strings.TrimSpace(snapshotID) != "" {
		snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
		if err != nil {
			return snapshot.Snapshot{}, errors.NotFound("snapshot", snapshotID)
		}
		return snap, nil
	}
	snap, err := s.snapshots.MostRecent(ctx, modelID)
	if err != nil {
		return snapshot.Snapshot{}, errors.NotFound("snapshot", "most-recent-for-"+modelID)
	}
	return snap, nil
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "rollback",
		Domain:       "model_management",
		Layer:        core.LayerEngine,
		Capabilities: []string{"snapshot", "rollback"},
	}
}
