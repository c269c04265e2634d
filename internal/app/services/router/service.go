// Package router implements the Cost-Benefit Router (C4): weighted-sum
// candidate selection across performance, cost efficiency, latency, and
// quality, shifted per use-case category.
package router

import (
	"context"
	"strings"
	"time"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// Priority biases selection toward cost, quality, or a balance of axes.
type Priority string

const (
	PriorityCost     Priority = "cost"
	PriorityBalanced Priority = "balanced"
	PriorityQuality  Priority = "quality"
)

const baselinePricePerKTokens = 0.001

// weights holds the four scoring axis weights, always normalized to sum 1.
type weights struct {
	performance, cost, latency, quality float64
}

func (w weights) normalize() weights {
	sum := w.performance + w.cost + w.latency + w.quality
	if sum <= 0 {
		return weights{performance: 0.25, cost: 0.25, latency: 0.25, quality: 0.25}
	}
	return weights{
		performance: w.performance / sum,
		cost:        w.cost / sum,
		latency:     w.latency / sum,
		quality:     w.quality / sum,
	}
}

// defaultWeights returns spec.md §4.4's base weights, shifted by the
// use_case's category (story/dialogue/decision-reasoning) before
// normalization.
func defaultWeights(useCase string) weights {
	w := weights{performance: 0.3, cost: 0.2, latency: 0.2, quality: 0.3}
	lower := strings.ToLower(useCase)
	switch {
	case strings.Contains(lower, "story") || strings.Contains(lower, "narrative"):
		w.quality += 0.15
		w.performance += 0.1
		w.latency -= 0.1
		w.cost -= 0.15
	case strings.Contains(lower, "dialogue") || strings.Contains(lower, "interaction"):
		w.latency += 0.15
		w.quality += 0.1
		w.performance -= 0.1
		w.cost -= 0.15
	case strings.Contains(lower, "decision") || strings.Contains(lower, "reasoning") || strings.Contains(lower, "coordination"):
		w.performance += 0.15
		w.quality += 0.1
		w.latency -= 0.1
		w.cost -= 0.15
	}
	return w.normalize()
}

// Decision is the outcome of one Select call.
type Decision struct {
	ModelID  string
	Score    float64
	Fallback bool
}

// Service scores and selects the best candidate model for a use case.
type Service struct {
	registry storage.RegistryStore
	logs     storage.LogStore
	hooks    core.ObservationHooks
	log      *logger.Logger
}

// New constructs a router Service.
func New(registry storage.RegistryStore, logs storage.LogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("router")
	}
	return &Service{registry: registry, logs: logs, log: log}
}

// WithObservationHooks attaches optional metrics hooks fired around every
// Select call, keyed by use case.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// Select picks the best-scoring model for useCase. When no candidate beats
// the current model it returns the current model unchanged. When no
// current or candidate model exists at all for useCase it returns a
// Fallback decision.
func (s *Service) Select(ctx context.Context, useCase string, priority Priority) (decision Decision, err error) {
	done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": useCase})
	defer func() { done(err) }()

	return s.selectDecision(ctx, useCase, priority)
}

func (s *Service) selectDecision(ctx context.Context, useCase string, priority Priority) (Decision, error) {
	if strings.TrimSpace(useCase) == "" {
		return Decision{}, errors.InvalidArgument("use_case", "required")
	}

	w := defaultWeights(useCase)
	w = applyPriority(w, priority)

	current, currentErr := s.registry.GetCurrent(ctx, useCase)
	candidates, err := s.registry.ListCandidates(ctx, useCase)
	if err != nil {
		return Decision{}, errors.Internal("list candidates", err)
	}

	var (
		best      model.Model
		bestScore float64
		haveBest  bool
	)
	for _, c := range candidates {
		score := s.score(ctx, c, w)
		if !haveBest || score > bestScore {
			best, bestScore, haveBest = c, score, true
		}
	}

	if currentErr == nil {
		currentScore := s.score(ctx, current, w)
		if !haveBest || currentScore >= bestScore {
			return Decision{ModelID: current.ID, Score: currentScore}, nil
		}
		return Decision{ModelID: best.ID, Score: bestScore}, nil
	}

	if haveBest {
		return Decision{ModelID: best.ID, Score: bestScore}, nil
	}
	return Decision{Fallback: true}, nil
}

func applyPriority(w weights, priority Priority) weights {
	switch priority {
	case PriorityCost:
		w.cost += 0.2
		w.quality -= 0.1
		w.performance -= 0.1
	case PriorityQuality:
		w.quality += 0.2
		w.cost -= 0.1
		w.latency -= 0.1
	}
	return w.normalize()
}

func (s *Service) score(ctx context.Context, m model.Model, w weights) float64 {
	perf := scorePerformance(m)
	cost := scoreCostEfficiency(m)
	lat := s.scoreLatency(ctx, m)
	qual := scoreQuality(m)
	return w.performance*perf + w.cost*cost + w.latency*lat + w.quality*qual
}

// ScoreCandidate scores m under useCase's default weight profile using the
// same performance/cost/quality axes as Select, without a latency history
// lookup (freshly-discovered candidates have none yet — latency scores
// neutral at 0.5). Exported so the Meta-Management Loop's candidate ranking
// can reuse these axes instead of re-deriving them.
func ScoreCandidate(m model.Model, useCase string) float64 {
	w := defaultWeights(useCase)
	const neutralLatency = 0.5
	return w.performance*scorePerformance(m) + w.cost*scoreCostEfficiency(m) + w.latency*neutralLatency + w.quality*scoreQuality(m)
}

func scorePerformance(m model.Model) float64 {
	benchmark := floatField(m.Metrics, "benchmark_score", 0.5)
	accuracy := floatField(m.Metrics, "accuracy", benchmark)
	return (benchmark + accuracy) / 2
}

func scoreCostEfficiency(m model.Model) float64 {
	if m.Kind == model.KindSelfServed {
		return 1.0
	}
	totalPrice := floatField(m.Metrics, "total_price", baselinePricePerKTokens)
	efficiency := 1 - totalPrice/baselinePricePerKTokens
	if efficiency < 0 {
		return 0
	}
	return efficiency
}

func (s *Service) scoreLatency(ctx context.Context, m model.Model) float64 {
	agg, err := s.logs.Aggregate(ctx, m.ID, time.Hour)
	if err != nil {
		return 0.5
	}
	ms := agg.P95Latency.Milliseconds()
	switch {
	case ms <= 0:
		return 0.5
	case ms < 100:
		return 1.0
	case ms < 200:
		return 0.8
	case ms < 500:
		return 0.6
	case ms < 1000:
		return 0.4
	default:
		return 0.2
	}
}

func scoreQuality(m model.Model) float64 {
	coherence := floatField(m.Metrics, "coherence", 0.5)
	relevance := floatField(m.Metrics, "relevance", 0.5)
	creativity := floatField(m.Metrics, "creativity", 0.5)
	return (coherence + relevance + creativity) / 3
}

func floatField(metrics model.Metrics, key string, fallback float64) float64 {
	if metrics == nil {
		return fallback
	}
	v, ok := metrics[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return fallback
	}
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "router",
		Domain:       "model_management",
		Layer:        core.LayerEngine,
		Capabilities: []string{"select", "score"},
	}
}
