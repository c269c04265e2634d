// Package storage defines the persistence contracts each component in the
// control plane depends on. Concrete implementations live in the memory
// and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	"github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/domain/inferencelog"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/domain/snapshot"
)

// RegistryStore is the Registry Store (C1) persistence contract.
type RegistryStore interface {
	Register(ctx context.Context, m model.Model) (model.Model, error)
	Get(ctx context.Context, modelID string) (model.Model, error)
	GetCurrent(ctx context.Context, useCase string) (model.Model, error)
	ListCandidates(ctx context.Context, useCase string) ([]model.Model, error)
	// UpdateStatus enforces the uniqueness-of-current invariant atomically:
	// promoting newStatus to current must demote any other current model
	// for the same use_case in the same write.
	UpdateStatus(ctx context.Context, modelID string, newStatus model.Status) (model.Model, error)
	UpdatePerformance(ctx context.Context, modelID string, metrics model.Metrics) error
	// UpdateConfig shallow-merges patch over the existing configuration.
	UpdateConfig(ctx context.Context, modelID string, patch model.Config) (model.Model, error)
}

// LogStore is the Historical Log Store (C2) persistence contract.
type LogStore interface {
	Log(ctx context.Context, entry inferencelog.Log) (string, error)
	Query(ctx context.Context, q LogQuery) ([]inferencelog.Log, error)
	Aggregate(ctx context.Context, modelID string, window time.Duration) (Aggregate, error)
}

// LogQuery filters Query calls; zero values mean "unfiltered".
type LogQuery struct {
	ModelID   string
	UseCase   string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Aggregate is the thin rollup spec §4.2 names.
type Aggregate struct {
	Total      int
	Errors     int
	P50Latency time.Duration
	P95Latency time.Duration
	AvgQuality float64
}

// DeploymentStore is the Deployment Manager's (C8) persistence contract.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d deployment.Deployment) (deployment.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID string) (deployment.Deployment, error)
	// InProgress returns the in-progress deployment for modelID, if any.
	InProgress(ctx context.Context, modelID string) (deployment.Deployment, bool, error)
	UpdateDeploymentStatus(ctx context.Context, deploymentID string, status deployment.Status, reason string) (deployment.Deployment, error)
	UpdateTraffic(ctx context.Context, deploymentID string, percent int) (deployment.Deployment, error)
}

// SnapshotStore is the Rollback Manager's (C7) persistence contract.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, s snapshot.Snapshot) (snapshot.Snapshot, error)
	GetSnapshot(ctx context.Context, snapshotID string) (snapshot.Snapshot, error)
	MostRecent(ctx context.Context, modelID string) (snapshot.Snapshot, error)
}

// ViolationStore is the Guardrails Monitor's (C3) persistence contract.
type ViolationStore interface {
	CreateViolation(ctx context.Context, v guardrails.Violation) (guardrails.Violation, error)
	ListByModel(ctx context.Context, modelID string, limit int) ([]guardrails.Violation, error)
}

// FineTuneStore is the Fine-Tuning Orchestrator's (C9) persistence contract.
type FineTuneStore interface {
	CreateJob(ctx context.Context, j finetune.Job) (finetune.Job, error)
	GetJob(ctx context.Context, jobID string) (finetune.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status finetune.Status) (finetune.Job, error)
	SetValidationMetrics(ctx context.Context, jobID string, metrics map[string]interface{}) (finetune.Job, error)
}
