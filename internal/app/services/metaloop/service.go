// Package metaloop implements the Meta-Management Loop (C10): the periodic
// discovery/monitoring/decision/implementation cycle that keeps each
// use case's current model on the best available candidate, flags
// degrading models for review, and rolls back non-compliant ones.
package metaloop

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	deploymentdomain "github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	guardrailsdomain "github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/services/deployment"
	"github.com/playforge-studio/modelplane/internal/app/services/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/services/historicallog"
	"github.com/playforge-studio/modelplane/internal/app/services/registry"
	"github.com/playforge-studio/modelplane/internal/app/services/rollback"
	"github.com/playforge-studio/modelplane/internal/app/services/router"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	defaultCheckInterval    = time.Hour
	defaultRecoveryInterval = 60 * time.Second
	defaultAggregateWindow  = time.Hour
	guardrailsSampleSize    = 20

	degradedErrorRate = 0.15
	degradedQuality   = 0.5

	betterCandidateMargin = 0.05

	priorityAdjustParameters = 5
	priorityDeployModel      = 10
)

type decisionKind string

const (
	decisionRollback         decisionKind = "rollback"
	decisionAdjustParameters decisionKind = "adjust_parameters"
	decisionDeployModel      decisionKind = "deploy_model"
)

// decision is one item on a cycle's decision list, per spec.md §4.10 step 4.
type decision struct {
	kind        decisionKind
	modelID     string
	candidateID string
	priority    int
	reason      string
}

// Config tunes one Service: the use cases it watches and its scheduling.
type Config struct {
	UseCases         []string
	CheckInterval    time.Duration
	RecoveryInterval time.Duration
	AggregateWindow  time.Duration
}

// Service runs the periodic discovery/monitoring/decision/implementation
// cycle described in spec.md §4.10.
type Service struct {
	registry   *registry.Service
	logs       *historicallog.Service
	guardrails *guardrails.Service
	deployment *deployment.Service
	rollback   *rollback.Service
	scanners   []DiscoveryScanner

	useCases         []string
	checkInterval    time.Duration
	recoveryInterval time.Duration
	aggregateWindow  time.Duration

	hooks core.ObservationHooks
	log   *logger.Logger
	cron  *cron.Cron
}

// WithObservationHooks attaches optional metrics hooks fired around every
// per-use-case cycle pass, keyed by use case.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// New constructs a metaloop Service. scanners may be empty (the loop then
// skips discovery and only monitors/rolls back existing models).
func New(reg *registry.Service, logs *historicallog.Service, gr *guardrails.Service, dep *deployment.Service, rb *rollback.Service, scanners []DiscoveryScanner, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("metaloop")
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	recoveryInterval := cfg.RecoveryInterval
	if recoveryInterval <= 0 {
		recoveryInterval = defaultRecoveryInterval
	}
	aggregateWindow := cfg.AggregateWindow
	if aggregateWindow <= 0 {
		aggregateWindow = defaultAggregateWindow
	}
	return &Service{
		registry:         reg,
		logs:             logs,
		guardrails:       gr,
		deployment:       dep,
		rollback:         rb,
		scanners:         scanners,
		useCases:         cfg.UseCases,
		checkInterval:    checkInterval,
		recoveryInterval: recoveryInterval,
		aggregateWindow:  aggregateWindow,
		log:              log,
	}
}

// Name implements system.Service.
func (s *Service) Name() string { return "metaloop" }

// UseCases returns the use cases this loop watches, for the Service status
// operation's llm_services enumeration.
func (s *Service) UseCases() []string {
	out := make([]string, len(s.useCases))
	copy(out, s.useCases)
	return out
}

// Start schedules the cycle on checkInterval via a cron "@every" spec,
// per spec.md §4.10's contract ("runs continuously with period
// check_interval until stopped").
func (s *Service) Start(ctx context.Context) error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.checkInterval)
	if _, err := c.AddFunc(spec, func() { s.runCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule meta loop: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop cancels future cycles; an in-flight cycle runs to completion, per
// spec.md §5's "meta-loop is cancellable between iterations" rule.
func (s *Service) Stop(_ context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}

// runCycle executes one pass over every watched use case. A panic or a
// use-case-level error triggers the recovery sleep named in spec.md §4.10
// step 6, rather than aborting the whole iteration.
func (s *Service) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", fmt.Sprintf("%v", r)).Error("meta loop cycle panicked; entering recovery sleep")
			s.recoverySleep(ctx)
		}
	}()

	for _, useCase := range s.useCases {
		done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": useCase})
		err := s.processUseCase(ctx, useCase)
		done(err)
		if err != nil {
			s.log.WithField("use_case", useCase).WithField("error", err).Error("meta loop cycle failed for use case; entering recovery sleep")
			s.recoverySleep(ctx)
		}
	}
}

func (s *Service) recoverySleep(ctx context.Context) {
	timer := time.NewTimer(s.recoveryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processUseCase runs steps 1-5 of spec.md §4.10 for one use case.
func (s *Service) processUseCase(ctx context.Context, useCase string) error {
	current, err := s.registry.GetCurrent(ctx, useCase)
	if err != nil {
		// No current model for this use case yet — nothing to manage.
		return nil
	}

	if err := s.discoverCandidates(ctx, useCase); err != nil {
		s.log.WithField("use_case", useCase).WithField("error", err).Warn("candidate discovery failed; continuing with existing candidates")
	}

	agg, err := s.logs.Aggregate(ctx, current.ID, s.aggregateWindow)
	if err != nil {
		return fmt.Errorf("aggregate metrics for %s: %w", current.ID, err)
	}

	var decisions []decision
	if d, ok := performanceDecision(current, agg); ok {
		decisions = append(decisions, d)
	}
	if d, ok, err := s.guardrailsDecision(ctx, current); err != nil {
		s.log.WithField("use_case", useCase).WithField("error", err).Warn("guardrails sampling failed; continuing")
	} else if ok {
		decisions = append(decisions, d)
	}
	if d, ok, err := s.candidateDecision(ctx, current, useCase); err != nil {
		s.log.WithField("use_case", useCase).WithField("error", err).Warn("candidate ranking failed; continuing")
	} else if ok {
		decisions = append(decisions, d)
	}

	// Critical guardrails before deployments, per spec.md §4.10's ordering
	// rule — priority encodes exactly that (rollback < adjust < deploy).
	sort.SliceStable(decisions, func(i, j int) bool { return decisions[i].priority < decisions[j].priority })

	for _, d := range decisions {
		s.implement(ctx, d)
	}
	return nil
}

// discoverCandidates runs step 1: queries every configured scanner and
// registers any model not already known as a candidate or current for
// useCase. A scanner failure is logged and the remaining scanners still run.
func (s *Service) discoverCandidates(ctx context.Context, useCase string) error {
	existing, err := s.registry.ListCandidates(ctx, useCase)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.Version] = true
	}
	if current, err := s.registry.GetCurrent(ctx, useCase); err == nil {
		known[current.Version] = true
	}

	var firstErr error
	for _, scanner := range s.scanners {
		discovered, err := scanner.Scan(ctx, useCase)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, d := range discovered {
			if known[d.ModelID] {
				continue
			}
			if _, err := s.registry.Register(ctx, toCandidateModel(d, useCase)); err != nil {
				s.log.WithField("error", err).Warn("failed to register discovered candidate; continuing")
				continue
			}
			known[d.ModelID] = true
		}
	}
	return firstErr
}

// performanceDecision runs step 2/4's degradation check: a current model
// whose error rate or average training-quality signal crosses the
// configured floor is flagged for parameter review rather than dropped
// outright — operators decide whether to roll back or retune.
func performanceDecision(m model.Model, agg storage.Aggregate) (decision, bool) {
	if agg.Total == 0 {
		return decision{}, false
	}
	errorRate := float64(agg.Errors) / float64(agg.Total)
	if errorRate <= degradedErrorRate && agg.AvgQuality >= degradedQuality {
		return decision{}, false
	}
	return decision{
		kind:     decisionAdjustParameters,
		modelID:  m.ID,
		priority: priorityAdjustParameters,
		reason:   fmt.Sprintf("performance degraded: error_rate=%.2f avg_quality=%.2f", errorRate, agg.AvgQuality),
	}, true
}

// guardrailsDecision runs step 3/4: samples recent outputs and, on
// non-compliance, maps the worst observed violation severity to a
// rollback priority per spec.md §4.3's severity table.
func (s *Service) guardrailsDecision(ctx context.Context, current model.Model) (decision, bool, error) {
	logs, err := s.logs.Query(ctx, storage.LogQuery{ModelID: current.ID, Limit: guardrailsSampleSize})
	if err != nil {
		return decision{}, false, err
	}
	outputs := make([]string, 0, len(logs))
	for _, l := range logs {
		if l.Output != "" {
			outputs = append(outputs, l.Output)
		}
	}
	if len(outputs) == 0 {
		return decision{}, false, nil
	}

	result, err := s.guardrails.Monitor(ctx, current.ID, outputs)
	if err != nil {
		return decision{}, false, err
	}
	if result.Compliant {
		return decision{}, false, nil
	}

	worst := guardrailsdomain.SeverityLow
	for _, v := range result.Violations {
		if severityRank(v.Severity) > severityRank(worst) {
			worst = v.Severity
		}
	}
	return decision{
		kind:     decisionRollback,
		modelID:  current.ID,
		priority: priorityForSeverity(worst),
		reason:   "guardrails non-compliance: " + string(worst),
	}, true, nil
}

func severityRank(s guardrailsdomain.Severity) int {
	switch s {
	case guardrailsdomain.SeverityCritical:
		return 3
	case guardrailsdomain.SeverityHigh:
		return 2
	case guardrailsdomain.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func priorityForSeverity(s guardrailsdomain.Severity) int {
	switch s {
	case guardrailsdomain.SeverityCritical:
		return 0
	case guardrailsdomain.SeverityHigh:
		return 1
	case guardrailsdomain.SeverityMedium:
		return 2
	default:
		return 3
	}
}

// candidateDecision runs step 1/4's other half: ranks useCase's candidates
// and proposes a deployment when the best one clears the current model's
// score by more than betterCandidateMargin — the same comparison
// CheckForBetter exposes as a standalone operation.
func (s *Service) candidateDecision(ctx context.Context, current model.Model, useCase string) (decision, bool, error) {
	better, bestID, bestScore, currentScore, err := s.findBetter(ctx, current, useCase)
	if err != nil {
		return decision{}, false, err
	}
	if !better {
		return decision{}, false, nil
	}
	return decision{
		kind:        decisionDeployModel,
		modelID:     current.ID,
		candidateID: bestID,
		priority:    priorityDeployModel,
		reason:      fmt.Sprintf("candidate %s scores %.3f vs current %.3f", bestID, bestScore, currentScore),
	}, true, nil
}

func (s *Service) findBetter(ctx context.Context, current model.Model, useCase string) (better bool, bestID string, bestScore, currentScore float64, err error) {
	candidates, err := s.registry.ListCandidates(ctx, useCase)
	if err != nil {
		return false, "", 0, 0, err
	}
	if len(candidates) == 0 {
		return false, "", 0, 0, nil
	}
	ranked := RankCandidates(candidates, useCase)
	best := ranked[0]
	bestScore = router.ScoreCandidate(best, useCase)
	currentScore = router.ScoreCandidate(current, useCase)
	if bestScore <= currentScore+betterCandidateMargin {
		return false, "", bestScore, currentScore, nil
	}
	return true, best.ID, bestScore, currentScore, nil
}

// CheckForBetter implements the "Check-for-better" operation in spec.md
// §6's external interface table: a standalone, on-demand version of the
// comparison candidateDecision runs as part of a cycle.
func (s *Service) CheckForBetter(ctx context.Context, useCase, currentModelID string) (bool, string, error) {
	current, err := s.registry.Get(ctx, currentModelID)
	if err != nil {
		return false, "", err
	}
	better, bestID, _, _, err := s.findBetter(ctx, current, useCase)
	if err != nil {
		return false, "", err
	}
	return better, bestID, nil
}

// implement runs step 5: calling C1/C7/C8 per the decision kind.
func (s *Service) implement(ctx context.Context, d decision) {
	switch d.kind {
	case decisionRollback:
		if _, err := s.rollback.Rollback(ctx, d.modelID, ""); err != nil {
			s.log.WithField("model_id", d.modelID).WithField("error", err).Error("meta loop rollback failed")
			return
		}
		s.log.WithField("model_id", d.modelID).WithField("reason", d.reason).Warn("meta loop triggered rollback")

	case decisionAdjustParameters:
		if _, err := s.registry.UpdateStatus(ctx, d.modelID, model.StatusNeedsReview); err != nil {
			s.log.WithField("model_id", d.modelID).WithField("error", err).Error("meta loop failed to flag model for review")
			return
		}
		if _, err := s.registry.UpdateConfig(ctx, d.modelID, model.Config{"auto_flagged_reason": d.reason}); err != nil {
			s.log.WithField("model_id", d.modelID).WithField("error", err).Warn("meta loop failed to record degradation reason; continuing")
		}
		s.log.WithField("model_id", d.modelID).WithField("reason", d.reason).Warn("meta loop flagged model for parameter review")

	case decisionDeployModel:
		result, err := s.deployment.Deploy(ctx, d.candidateID, d.modelID, deploymentdomain.StrategyCanary)
		if err != nil {
			s.log.WithField("model_id", d.candidateID).WithField("error", err).Error("meta loop deployment failed")
			return
		}
		s.log.WithField("model_id", d.candidateID).WithField("success", result.Success).WithField("reason", d.reason).Info("meta loop triggered deployment")
	}
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "metaloop",
		Domain:       "model_management",
		Layer:        core.LayerEngine,
		Capabilities: []string{"discover", "monitor", "decide", "implement"},
	}
}
