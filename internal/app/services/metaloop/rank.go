package metaloop

import (
	"sort"

	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/services/router"
)

// toCandidateModel converts a DiscoveredModel into the shape the Registry
// accepts for registration, populating the Metrics fields router.ScoreCandidate
// reads (benchmark_score, total_price).
func toCandidateModel(d DiscoveredModel, useCase string) model.Model {
	return model.Model{
		Name:     d.Name,
		Kind:     d.Kind,
		Provider: d.Provider,
		UseCase:  useCase,
		Version:  d.ModelID,
		Metrics: model.Metrics{
			"benchmark_score": d.BenchmarkScore,
			"total_price":     d.PricePerKTokens / 1000,
		},
	}
}

// RankCandidates orders candidates by router.ScoreCandidate's per-axis
// weighted score for useCase, descending — the same scoring the Router
// uses at selection time, reused here rather than re-derived, per
// original_source/services/model_management/model_ranker.py's role as a
// pre-filter ahead of the Registry.
func RankCandidates(candidates []model.Model, useCase string) []model.Model {
	ranked := make([]model.Model, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return router.ScoreCandidate(ranked[i], useCase) > router.ScoreCandidate(ranked[j], useCase)
	})
	return ranked
}
