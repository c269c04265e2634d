// Package guardrails implements the Guardrails Monitor (C3): four-axis
// safety/engagement scoring over model outputs, with a pluggable
// intervention hook for side effects (rollback, status changes).
package guardrails

import (
	"context"
	"strings"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// ModerationResult is one category's verdict from a ContentModerator pass.
// Severity is set when the moderator can attest a fixed severity directly
// (the keyword fallback's per-keyword table); it is empty when only a
// continuous Score is available (an external moderation API), in which
// case the caller buckets Score through guardrails.SeverityFromScore.
type ModerationResult struct {
	Category string
	Score    float64
	Flagged  bool
	Severity guardrails.Severity
}

// ContentModerator scores a batch of outputs against a moderation backend
// (external HTTP service or keyword fallback). Implementations live in
// internal/app/services/guardrails/moderator.go.
type ContentModerator interface {
	Moderate(ctx context.Context, outputs []string) ([]ModerationResult, error)
}

// CategoryScore is one axis's pass/fail verdict, returned in
// MonitoringResult.PerCategoryScores.
type CategoryScore struct {
	Score float64
	Pass  bool
}

// MonitoringResult is the outcome of one Monitor call.
type MonitoringResult struct {
	Compliant         bool
	Violations        []guardrails.Violation
	PerCategoryScores map[string]CategoryScore
}

// InterventionFunc is invoked once per persisted violation, after scoring
// and storage, so the caller controls side effects (rollback manager
// calls, deployment config changes) rather than this package reaching into
// those services directly — avoids a guardrails → deployment → registry
// import cycle.
type InterventionFunc func(ctx context.Context, v guardrails.Violation) error

// Service scores model outputs across the safety/engagement/harmful-content
// axes described in spec.md §4.3.
type Service struct {
	store      storage.ViolationStore
	safety     ContentModerator
	harmful    ContentModerator
	intervene  InterventionFunc
	hooks      core.ObservationHooks
	log        *logger.Logger
}

// WithObservationHooks attaches optional metrics hooks fired around every
// Monitor call, keyed by model ID.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// New constructs a guardrails Service. safety and harmful may be the same
// ContentModerator instance when a single backend covers both categories.
// intervene may be nil; Monitor then persists violations without invoking
// any side effect.
func New(store storage.ViolationStore, safety, harmful ContentModerator, intervene InterventionFunc, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("guardrails")
	}
	return &Service{store: store, safety: safety, harmful: harmful, intervene: intervene, log: log}
}

var (
	healthyMarkers   = []string{"take a break", "in real life", "your call", "no pressure", "up to you"}
	unhealthyMarkers = []string{"don't stop", "you need this", "everyone else is", "you'll miss out", "keep playing"}
)

// Monitor scores outputs across all four axes and persists any violation.
// Per spec.md §4.3, a failure in one axis's moderation call is swallowed
// and treated as "cannot attest compliant" rather than aborting the call.
func (s *Service) Monitor(ctx context.Context, modelID string, outputs []string) (MonitoringResult, error) {
	if strings.TrimSpace(modelID) == "" {
		return MonitoringResult{}, errors.InvalidArgument("model_id", "required")
	}
	if len(outputs) == 0 {
		return MonitoringResult{}, errors.InvalidArgument("outputs", "at least one output required")
	}

	done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": modelID})
	result, err := s.monitor(ctx, modelID, outputs)
	done(err)
	return result, err
}

func (s *Service) monitor(ctx context.Context, modelID string, outputs []string) (MonitoringResult, error) {
	result := MonitoringResult{PerCategoryScores: make(map[string]CategoryScore, 3)}

	safetyScore, safetyPass, safetySeverity, safetyDetails := s.scoreModeration(ctx, s.safety, outputs)
	result.PerCategoryScores["safety"] = CategoryScore{Score: safetyScore, Pass: safetyPass}

	healthyScore, unhealthyScore := scoreEngagement(outputs)
	healthyEngagement := healthyScore >= 0.7
	unhealthyPatterns := unhealthyScore > 0.3
	result.PerCategoryScores["engagement"] = CategoryScore{Score: healthyScore, Pass: healthyEngagement && !unhealthyPatterns}

	harmfulScore, harmfulPass, harmfulSeverity, harmfulDetails := s.scoreModeration(ctx, s.harmful, outputs)
	result.PerCategoryScores["harmful_content"] = CategoryScore{Score: harmfulScore, Pass: harmfulPass}

	result.Compliant = safetyPass && healthyEngagement && !unhealthyPatterns && harmfulPass

	if !safetyPass {
		v, err := s.raise(ctx, modelID, guardrails.CategorySafety, safetyScore, safetySeverity, safetyDetails, outputs[0])
		if err == nil {
			result.Violations = append(result.Violations, v)
		}
	}
	if unhealthyPatterns {
		details := map[string]interface{}{"unhealthy_score": unhealthyScore, "healthy_score": healthyScore}
		v, err := s.raise(ctx, modelID, guardrails.CategoryAddiction, unhealthyScore, "", details, outputs[0])
		if err == nil {
			result.Violations = append(result.Violations, v)
		}
	}
	if !harmfulPass {
		v, err := s.raise(ctx, modelID, guardrails.CategoryHarmfulContent, harmfulScore, harmfulSeverity, harmfulDetails, outputs[0])
		if err == nil {
			result.Violations = append(result.Violations, v)
		}
	}

	return result, nil
}

// scoreModeration runs moderator over outputs and returns the batch's max
// score, whether it passes, and the worst fixed severity reported by any
// result (empty when the moderator only reports a continuous score, e.g.
// an external moderation API — the caller then buckets score itself).
func (s *Service) scoreModeration(ctx context.Context, moderator ContentModerator, outputs []string) (float64, bool, guardrails.Severity, map[string]interface{}) {
	if moderator == nil {
		return 0, true, "", nil
	}
	results, err := moderator.Moderate(ctx, outputs)
	if err != nil {
		s.log.WithField("error", err).Warn("moderation call failed; treating as non-compliant")
		return 1.0, false, guardrails.SeverityCritical, map[string]interface{}{"error": err.Error()}
	}
	var maxScore float64
	var worst guardrails.Severity
	flagged := false
	details := make(map[string]interface{}, len(results))
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
		if r.Flagged {
			flagged = true
		}
		if severityRank(r.Severity) > severityRank(worst) {
			worst = r.Severity
		}
		details[r.Category] = r.Score
	}
	return maxScore, !flagged, worst, details
}

func scoreEngagement(outputs []string) (healthy, unhealthy float64) {
	var healthyHits, unhealthyHits int
	for _, out := range outputs {
		lower := strings.ToLower(out)
		for _, m := range healthyMarkers {
			if strings.Contains(lower, m) {
				healthyHits++
			}
		}
		for _, m := range unhealthyMarkers {
			if strings.Contains(lower, m) {
				unhealthyHits++
			}
		}
	}
	denom := float64(3 * len(outputs))
	if denom == 0 {
		return 0, 0
	}
	return float64(healthyHits) / denom, float64(unhealthyHits) / denom
}

// raise persists a violation under severity, or, when the caller has no
// fixed severity to report (fixedSeverity == ""), buckets score through
// guardrails.SeverityFromScore instead.
func (s *Service) raise(ctx context.Context, modelID string, category guardrails.Category, score float64, fixedSeverity guardrails.Severity, details map[string]interface{}, sample string) (guardrails.Violation, error) {
	severity := fixedSeverity
	if severity == "" {
		severity = guardrails.SeverityFromScore(score)
	}
	intervention := interventionLabel(severity)

	v := guardrails.Violation{
		ModelID:      modelID,
		Category:     category,
		Severity:     severity,
		Details:      details,
		SampleOutput: sample,
		Intervention: intervention,
	}
	created, err := s.store.CreateViolation(ctx, v)
	if err != nil {
		s.log.WithField("error", err).Error("failed to persist guardrails violation")
		return guardrails.Violation{}, err
	}
	s.log.WithField("model_id", modelID).WithField("category", string(category)).
		WithField("severity", string(severity)).Warn("guardrails violation raised")

	if s.intervene != nil {
		if err := s.intervene(ctx, created); err != nil {
			s.log.WithField("error", err).Error("intervention hook failed")
		}
	}
	return created, nil
}

func interventionLabel(severity guardrails.Severity) string {
	switch severity {
	case guardrails.SeverityCritical:
		return "rollback"
	case guardrails.SeverityHigh:
		return "needs_review_block_outputs"
	case guardrails.SeverityMedium:
		return "flag_for_monitoring"
	default:
		return "log_only"
	}
}

// ListViolations returns the most recent violations for modelID.
func (s *Service) ListViolations(ctx context.Context, modelID string, limit int) ([]guardrails.Violation, error) {
	limit = core.ClampLimit(limit, core.DefaultListLimit, core.MaxListLimit)
	return s.store.ListByModel(ctx, modelID, limit)
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "guardrails",
		Domain:       "model_management",
		Layer:        core.LayerSecurity,
		Capabilities: []string{"monitor", "intervene"},
	}
}
