// Package registry implements the Registry Store (C1): the authoritative
// catalog of models, their lifecycle status, and promotion to current.
package registry

import (
	"context"
	"strings"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// Service manages the model catalog.
type Service struct {
	store storage.RegistryStore
	log   *logger.Logger
}

// New constructs a registry Service.
func New(store storage.RegistryStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{store: store, log: log}
}

// Register validates and persists a new candidate model.
func (s *Service) Register(ctx context.Context, m model.Model) (model.Model, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.Provider = strings.TrimSpace(m.Provider)
	m.UseCase = strings.TrimSpace(m.UseCase)
	m.Version = strings.TrimSpace(m.Version)

	if m.Name == "" {
		return model.Model{}, errors.InvalidArgument("name", "required")
	}
	if m.UseCase == "" {
		return model.Model{}, errors.InvalidArgument("use_case", "required")
	}
	if m.Kind != model.KindHosted && m.Kind != model.KindSelfServed {
		return model.Model{}, errors.InvalidArgument("kind", "must be hosted or self_served")
	}
	if m.Kind == model.KindSelfServed && strings.TrimSpace(m.ModelPath) == "" {
		return model.Model{}, errors.InvalidArgument("model_path", "required for self_served models")
	}
	m.Status = model.StatusCandidate

	registered, err := s.store.Register(ctx, m)
	if err != nil {
		return model.Model{}, errors.Internal("register model", err)
	}
	s.log.WithField("model_id", registered.ID).WithField("use_case", registered.UseCase).Info("model registered")
	return registered, nil
}

// Get returns a model by id.
func (s *Service) Get(ctx context.Context, modelID string) (model.Model, error) {
	if strings.TrimSpace(modelID) == "" {
		return model.Model{}, errors.InvalidArgument("model_id", "required")
	}
	return s.store.Get(ctx, modelID)
}

// GetCurrent returns the current production model for a use case.
func (s *Service) GetCurrent(ctx context.Context, useCase string) (model.Model, error) {
	if strings.TrimSpace(useCase) == "" {
		return model.Model{}, errors.InvalidArgument("use_case", "required")
	}
	return s.store.GetCurrent(ctx, useCase)
}

// ListCandidates returns every candidate model for a use case.
func (s *Service) ListCandidates(ctx context.Context, useCase string) ([]model.Model, error) {
	if strings.TrimSpace(useCase) == "" {
		return nil, errors.InvalidArgument("use_case", "required")
	}
	return s.store.ListCandidates(ctx, useCase)
}

// Promote transitions modelID to current, atomically demoting whatever
// model was previously current for the same use_case. It is shorthand for
// UpdateStatus with StatusCurrent; callers outside the Deployment Manager
// should not call it directly mid-rollout.
func (s *Service) Promote(ctx context.Context, modelID string) (model.Model, error) {
	return s.UpdateStatus(ctx, modelID, model.StatusCurrent)
}

// UpdateStatus transitions modelID to newStatus.
func (s *Service) UpdateStatus(ctx context.Context, modelID string, newStatus model.Status) (model.Model, error) {
	if !model.ValidStatus(newStatus) {
		return model.Model{}, errors.InvalidArgument("status", "unrecognized lifecycle status")
	}
	updated, err := s.store.UpdateStatus(ctx, modelID, newStatus)
	if err != nil {
		return model.Model{}, err
	}
	s.log.WithField("model_id", modelID).WithField("status", string(newStatus)).Info("model status updated")
	return updated, nil
}

// UpdatePerformance overwrites a model's advisory performance metrics
// document, used by the Historical Log Store's periodic rollups.
func (s *Service) UpdatePerformance(ctx context.Context, modelID string, metrics model.Metrics) error {
	return s.store.UpdatePerformance(ctx, modelID, metrics)
}

// UpdateConfig shallow-merges patch over a model's existing configuration.
func (s *Service) UpdateConfig(ctx context.Context, modelID string, patch model.Config) (model.Model, error) {
	if len(patch) == 0 {
		return s.store.Get(ctx, modelID)
	}
	return s.store.UpdateConfig(ctx, modelID, patch)
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "registry",
		Domain:       "model_management",
		Layer:        core.LayerData,
		Capabilities: []string{"register", "promote", "lifecycle"},
	}
}
