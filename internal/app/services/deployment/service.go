// Package deployment implements the Deployment Manager (C8): rolling a
// candidate model into production traffic under a named strategy,
// observing health between steps, and rolling back on the first sign of
// trouble.
package deployment

import (
	"context"
	"strconv"
	"strings"
	"time"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/services/historicallog"
	"github.com/playforge-studio/modelplane/internal/app/services/rollback"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	errorRateThreshold  = 0.10
	avgLatencyThreshold = 5000 * time.Millisecond
	detectIssuesWindow  = 30 * time.Minute
)

// Issue describes one detected health problem that aborts a rollout.
type Issue struct {
	Kind    string
	Details string
}

// Result is the outcome of one Deploy call.
type Result struct {
	Success      bool
	DeploymentID string
	Strategy     deployment.Strategy
	Issues       []Issue
	Reason       string
}

// Service rolls candidate models into production traffic.
type Service struct {
	deployments storage.DeploymentStore
	registry    storage.RegistryStore
	logs        *historicallog.Service
	rollback    *rollback.Service
	suite       *PrePromotionSuite
	hooks       core.ObservationHooks
	log         *logger.Logger

	// sleep is swapped out in tests; defaults to a context-aware sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithObservationHooks attaches optional metrics hooks fired around every
// Deploy call, keyed by the model being rolled out.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// New constructs a deployment Service. suite may be nil, in which case
// Deploy skips the pre-promotion test gate and goes straight to the
// traffic schedule.
func New(deployments storage.DeploymentStore, registry storage.RegistryStore, logs *historicallog.Service, rb *rollback.Service, suite *PrePromotionSuite, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("deployment")
	}
	return &Service{
		deployments: deployments,
		registry:    registry,
		logs:        logs,
		rollback:    rb,
		suite:       suite,
		log:         log,
		sleep:       ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deploy rolls newModelID into production in place of currentModelID
// under strategy, per spec.md §4.8's skeleton: snapshot current, move new
// to testing, walk the strategy's traffic schedule shifting traffic and
// observing health between steps (the final step marks new current),
// rolling back and reporting failure at the first detected issue, or
// decommissioning the old model on full completion.
func (s *Service) Deploy(ctx context.Context, newModelID, currentModelID string, strategy deployment.Strategy) (result Result, err error) {
	done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": newModelID})
	defer func() { done(err) }()

	return s.deploy(ctx, newModelID, currentModelID, strategy)
}

func (s *Service) deploy(ctx context.Context, newModelID, currentModelID string, strategy deployment.Strategy) (Result, error) {
	if strings.TrimSpace(newModelID) == "" {
		return Result{}, errors.InvalidArgument("new_model_id", "required")
	}

	schedule := deployment.Schedule(strategy)
	if len(schedule) == 0 {
		return Result{}, errors.InvalidArgument("strategy", "unrecognized rollout strategy "+string(strategy))
	}

	if s.suite != nil && currentModelID != "" {
		report, err := s.suite.Evaluate(ctx, newModelID, currentModelID, "")
		if err != nil {
			s.log.WithField("error", err).Warn("pre-promotion suite failed to run; proceeding without its gate")
		} else if !report.MeetsThreshold {
			return Result{Success: false, Reason: "pre-promotion suite rejected candidate"}, nil
		}
	}

	d, err := s.deployments.CreateDeployment(ctx, deployment.Deployment{
		ModelID:   newModelID,
		Strategy:  strategy,
		Status:    deployment.StatusInProgress,
		StartTime: time.Now(),
	})
	if err != nil {
		return Result{}, errors.Internal("create deployment record", err)
	}

	var snapshotID string
	if currentModelID != "" {
		snapshotID, err = s.rollback.Snapshot(ctx, currentModelID)
		if err != nil {
			s.fail(ctx, d.ID, "snapshot current model: "+err.Error())
			return Result{DeploymentID: d.ID, Strategy: strategy, Success: false, Reason: "snapshot current model: " + err.Error()}, nil
		}
	}

	if _, err := s.registry.UpdateStatus(ctx, newModelID, model.StatusTesting); err != nil {
		s.fail(ctx, d.ID, "promote new model to testing: "+err.Error())
		return s.abort(ctx, d.ID, strategy, currentModelID, snapshotID, "promote new model to testing: "+err.Error())
	}

	for i, step := range schedule {
		final := i == len(schedule)-1

		if err := s.shiftTraffic(ctx, newModelID, step.Percent, final); err != nil {
			return s.abort(ctx, d.ID, strategy, currentModelID, snapshotID, "shift traffic: "+err.Error())
		}
		if _, err := s.deployments.UpdateTraffic(ctx, d.ID, step.Percent); err != nil {
			s.log.WithField("error", err).Warn("failed to record traffic step; continuing")
		}

		if err := s.sleep(ctx, time.Duration(step.ObserveSeconds)*time.Second); err != nil {
			// A cancelled observation window rolls back and is recorded as
			// rolled_back; the cleanup runs on a context detached from ctx.
			const reason = "deployment cancelled"
			cleanupCtx := context.WithoutCancel(ctx)
			if currentModelID != "" && snapshotID != "" {
				if _, rbErr := s.rollback.Rollback(cleanupCtx, currentModelID, snapshotID); rbErr != nil {
					s.log.WithField("error", rbErr).Warn("rollback after cancelled deployment also failed")
				}
			}
			if _, uErr := s.deployments.UpdateDeploymentStatus(cleanupCtx, d.ID, deployment.StatusRolledBack, reason); uErr != nil {
				s.log.WithField("error", uErr).Warn("failed to mark deployment rolled_back; continuing")
			}
			return Result{DeploymentID: d.ID, Strategy: strategy, Success: false, Reason: reason}, nil
		}

		issues, err := s.detectIssues(ctx, newModelID)
		if err != nil {
			s.log.WithField("error", err).Warn("issue detection failed; treating as no issues observed")
			issues = nil
		}
		if len(issues) > 0 {
			return s.rollbackAndReport(ctx, d.ID, strategy, currentModelID, snapshotID, issues)
		}
	}

	if currentModelID != "" {
		if _, err := s.registry.UpdateStatus(ctx, currentModelID, model.StatusDeprecated); err != nil {
			s.log.WithField("error", err).Warn("failed to decommission previous current model; continuing")
		}
	}
	if _, err := s.registry.UpdateStatus(ctx, newModelID, model.StatusCurrent); err != nil {
		return s.abort(ctx, d.ID, strategy, currentModelID, snapshotID, "promote new model to current: "+err.Error())
	}
	if _, err := s.deployments.UpdateDeploymentStatus(ctx, d.ID, deployment.StatusCompleted, ""); err != nil {
		s.log.WithField("error", err).Warn("failed to mark deployment completed; continuing")
	}

	s.log.WithField("model_id", newModelID).WithField("deployment_id", d.ID).Info("deployment completed")
	return Result{Success: true, DeploymentID: d.ID, Strategy: strategy}, nil
}

// shiftTraffic mutates the Registry's view of newModelID's traffic
// allocation. At 100% the model is marked current directly rather than
// testing, matching spec.md §4.8's final-step semantics.
func (s *Service) shiftTraffic(ctx context.Context, modelID string, percent int, final bool) error {
	_, err := s.registry.UpdateConfig(ctx, modelID, model.Config{
		"traffic_percentage":  percent,
		"traffic_shifted_at":  strconv.FormatInt(time.Now().UnixNano(), 10),
	})
	if err != nil {
		return err
	}
	status := model.StatusTesting
	if final {
		status = model.StatusCurrent
	}
	_, err = s.registry.UpdateStatus(ctx, modelID, status)
	return err
}

// detectIssues inspects the Historical Log Store's 30-minute rollup for
// modelID. A window with zero events is never an issue — it means the
// model hasn't served real traffic yet, not that it is unhealthy.
func (s *Service) detectIssues(ctx context.Context, modelID string) ([]Issue, error) {
	agg, err := s.logs.Aggregate(ctx, modelID, detectIssuesWindow)
	if err != nil {
		return nil, err
	}
	if agg.Total == 0 {
		return nil, nil
	}

	var issues []Issue
	if errorRate := float64(agg.Errors) / float64(agg.Total); errorRate > errorRateThreshold {
		issues = append(issues, Issue{Kind: "high_error_rate", Details: "error rate exceeds threshold"})
	}
	// P50Latency stands in for "average latency" — the rollup tracks
	// percentiles, not a mean, and p50 is the closer analogue.
	if avgLatency := agg.P50Latency; avgLatency > avgLatencyThreshold {
		issues = append(issues, Issue{Kind: "high_latency", Details: "average latency exceeds threshold"})
	}
	return issues, nil
}

// rollbackAndReport restores currentModelID from snapshotID and marks the
// deployment rolled_back, per spec.md §4.8's failure path.
func (s *Service) rollbackAndReport(ctx context.Context, deploymentID string, strategy deployment.Strategy, currentModelID, snapshotID string, issues []Issue) (Result, error) {
	reason := issuesReason(issues)
	if currentModelID != "" && snapshotID != "" {
		if _, err := s.rollback.Rollback(ctx, currentModelID, snapshotID); err != nil {
			s.log.WithField("error", err).Warn("rollback after detected issues also failed")
		}
	}
	if _, err := s.deployments.UpdateDeploymentStatus(ctx, deploymentID, deployment.StatusRolledBack, reason); err != nil {
		s.log.WithField("error", err).Warn("failed to mark deployment rolled_back; continuing")
	}
	s.log.WithField("deployment_id", deploymentID).WithField("reason", reason).Warn("deployment rolled back")
	return Result{DeploymentID: deploymentID, Strategy: strategy, Success: false, Issues: issues, Reason: reason}, nil
}

// abort handles any failure (as opposed to a detected health issue) after
// the snapshot has been taken: it attempts the same rollback path but
// records the deployment as failed rather than rolled_back, per spec.md
// §4.8's "any exception after snapshot triggers rollback with status
// failed" rule.
func (s *Service) abort(ctx context.Context, deploymentID string, strategy deployment.Strategy, currentModelID, snapshotID, reason string) (Result, error) {
	if currentModelID != "" && snapshotID != "" {
		if _, err := s.rollback.Rollback(ctx, currentModelID, snapshotID); err != nil {
			s.log.WithField("error", err).Warn("rollback during deployment abort also failed")
		}
	}
	s.fail(ctx, deploymentID, reason)
	return Result{DeploymentID: deploymentID, Strategy: strategy, Success: false, Reason: reason}, nil
}

func (s *Service) fail(ctx context.Context, deploymentID, reason string) {
	if _, err := s.deployments.UpdateDeploymentStatus(ctx, deploymentID, deployment.StatusFailed, reason); err != nil {
		s.log.WithField("error", err).Warn("failed to mark deployment failed; continuing")
	}
	s.log.WithField("deployment_id", deploymentID).WithField("reason", reason).Error("deployment failed")
}

func issuesReason(issues []Issue) string {
	if len(issues) == 0 {
		return "issues detected"
	}
	parts := make([]string, 0, len(issues))
	for _, iss := range issues {
		parts = append(parts, iss.Kind)
	}
	return strings.Join(parts, ", ")
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "deployment",
		Domain:       "model_management",
		Layer:        core.LayerEngine,
		Capabilities: []string{"deploy", "rollout_schedule", "issue_detection"},
	}
}
