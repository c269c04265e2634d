package deployment

import (
	"context"
	"strings"
	"time"

	"github.com/playforge-studio/modelplane/internal/app/services/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/services/historicallog"
	"github.com/playforge-studio/modelplane/internal/app/services/llmclient"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const similarityThreshold = 0.95

var defaultTestPrompts = map[string][]string{
	"npc_dialogue": {
		"You are a friendly shopkeeper. Greet a customer.",
		"You are a guard. Warn someone about danger.",
		"You are a wise elder. Give advice about life.",
	},
	"story_generation": {
		"Write a short story about a hero's journey.",
		"Create a fantasy story about a magical forest.",
	},
	"faction_decision": {
		"Should we ally with the neighboring kingdom?",
		"Should we declare war on the invaders?",
	},
}

var generalTestPrompts = []string{
	"What is artificial intelligence?",
	"Explain machine learning in one paragraph.",
}

// PrePromotionReport is the outcome of one Evaluate call. OverallScore is
// the weighted score; MeetsThreshold, which gates the rollout, is decided by
// the per-part checks (similarity, performance, safety, use-case fitness),
// not by OverallScore.
type PrePromotionReport struct {
	CandidateID       string
	CurrentID         string
	SimilarityScore   float64
	PerformanceScore  float64
	SafetyPassed      bool
	UseCaseScore      float64
	OverallScore      float64
	MeetsThreshold    bool
	GeneratedPairs    int
}

// PrePromotionSuite compares a candidate model against the model it would
// replace, gating a rollout on behavior similarity, relative performance,
// safety compliance, and use-case-specific checks before the Deployment
// Manager commits to a traffic schedule.
type PrePromotionSuite struct {
	generate   *llmclient.Service
	logs       *historicallog.Service
	guardrails *guardrails.Service
	log        *logger.Logger
}

// NewPrePromotionSuite constructs a pre-promotion test suite. gen is used
// to address the candidate and current models directly by ID (bypassing
// the router), logs supplies per-use-case latency history for the
// performance comparison, and gr runs the safety pass.
func NewPrePromotionSuite(gen *llmclient.Service, logs *historicallog.Service, gr *guardrails.Service, log *logger.Logger) *PrePromotionSuite {
	if log == nil {
		log = logger.NewDefault("deployment.pre_promotion")
	}
	return &PrePromotionSuite{generate: gen, logs: logs, guardrails: gr, log: log}
}

// Evaluate runs the four-part comparison and reports whether candidateID
// meets the promotion threshold relative to currentID, grounded on the
// weighted scoring scheme: 40% behavior similarity, 30% performance,
// 20% safety, 10% use-case fitness.
func (p *PrePromotionSuite) Evaluate(ctx context.Context, candidateID, currentID string, useCase string) (PrePromotionReport, error) {
	prompts := testPromptsFor(useCase)

	candidateResponses := p.generateAll(ctx, candidateID, prompts)
	currentResponses := p.generateAll(ctx, currentID, prompts)

	similarity := behaviorSimilarity(candidateResponses, currentResponses)
	performance := p.performanceScore(ctx, candidateID, currentID)
	safetyPassed := p.safetyPassed(ctx, candidateID, candidateResponses)
	useCaseScore := useCaseFitness(useCase, candidateResponses)

	safetyScore := 0.0
	if safetyPassed {
		safetyScore = 1.0
	}
	useCasePassed := useCaseScore >= 0.7

	useCaseBit := 0.0
	if useCasePassed {
		useCaseBit = 1.0
	}

	overall := similarity*0.4 + performance*0.3 + safetyScore*0.2 + useCaseBit*0.1

	report := PrePromotionReport{
		CandidateID:      candidateID,
		CurrentID:        currentID,
		SimilarityScore:  similarity,
		PerformanceScore: performance,
		SafetyPassed:     safetyPassed,
		UseCaseScore:     useCaseScore,
		OverallScore:     overall,
		GeneratedPairs:   len(prompts),
		MeetsThreshold:   similarity >= similarityThreshold && performance >= 0 && safetyPassed && useCasePassed,
	}
	return report, nil
}

func (p *PrePromotionSuite) generateAll(ctx context.Context, modelID string, prompts []string) []string {
	out := make([]string, 0, len(prompts))
	for _, prompt := range prompts {
		res := p.generate.GenerateFor(ctx, modelID, llmclient.GenerateRequest{
			Prompt:       prompt,
			MaxTokens:    200,
			Temperature:  0.7,
			CacheAllowed: false,
		})
		out = append(out, res.Text)
	}
	return out
}

// performanceScore compares candidate vs current latency over their most
// recent traffic, rewarding a candidate that is at least as fast.
func (p *PrePromotionSuite) performanceScore(ctx context.Context, candidateID, currentID string) float64 {
	candAgg, err := p.logs.Aggregate(ctx, candidateID, time.Hour)
	if err != nil || candAgg.Total == 0 {
		return 0.5
	}
	currAgg, err := p.logs.Aggregate(ctx, currentID, time.Hour)
	if err != nil || currAgg.Total == 0 || currAgg.P50Latency == 0 {
		return 0.5
	}
	ratio := float64(currAgg.P50Latency) / float64(candAgg.P50Latency)
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

func (p *PrePromotionSuite) safetyPassed(ctx context.Context, candidateID string, responses []string) bool {
	if p.guardrails == nil {
		return true
	}
	result, err := p.guardrails.Monitor(ctx, candidateID, responses)
	if err != nil {
		p.log.WithField("error", err).Warn("pre-promotion safety check failed to run; treating as failed (conservative)")
		return false
	}
	return result.Compliant
}

// behaviorSimilarity falls back to word-overlap scoring — the original
// pipeline's semantic-embedding comparison depends on a sentence
// transformer model out of scope for this control plane.
func behaviorSimilarity(candidate, current []string) float64 {
	if len(candidate) == 0 || len(candidate) != len(current) {
		return 0
	}
	var total float64
	for i := range candidate {
		total += wordOverlap(candidate[i], current[i])
	}
	return total / float64(len(candidate))
}

func wordOverlap(a, b string) float64 {
	aWords := wordSet(a)
	bWords := wordSet(b)
	if len(aWords) == 0 && len(bWords) == 0 {
		return 1.0
	}
	overlap := 0
	for w := range aWords {
		if bWords[w] {
			overlap++
		}
	}
	denom := len(aWords)
	if len(bWords) > denom {
		denom = len(bWords)
	}
	if denom == 0 {
		return 0
	}
	return float64(overlap) / float64(denom)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func useCaseFitness(useCase string, responses []string) float64 {
	if len(responses) == 0 {
		return 0
	}
	var scores float64
	for _, r := range responses {
		switch {
		case len(r) < 10:
			// too short to be a substantive response
		case len(r) < 20:
			scores += 0.5
		default:
			scores += 0.9
		}
	}
	avg := scores / float64(len(responses))

	joined := strings.ToLower(strings.Join(responses, " "))
	switch strings.ToLower(useCase) {
	case "npc_dialogue":
		if !containsAny(joined, []string{`"`, "said", "replied", "asked", "exclaimed"}) {
			avg *= 0.8
		}
	case "faction_decision":
		if !containsAny(joined, []string{"because", "therefore", "since", "reason", "consider"}) {
			avg *= 0.7
		}
	}
	return avg
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func testPromptsFor(useCase string) []string {
	if prompts, ok := defaultTestPrompts[strings.ToLower(useCase)]; ok {
		return prompts
	}
	return generalTestPrompts
}
