package metaloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	defaultScannerTimeout   = 30 * time.Second
	defaultScannerBodyLimit = int64(1 << 20)
)

// DiscoveredModel is one external-catalog entry a DiscoveryScanner surfaces,
// ahead of being registered as a Registry candidate.
type DiscoveredModel struct {
	ModelID         string
	Name            string
	Provider        string
	Kind            model.Kind
	ContextLength   int
	PricePerKTokens float64
	BenchmarkScore  float64
}

// DiscoveryScanner queries an external catalog for models that might serve
// useCase, per spec.md §4.10 step 1. Implementations must be safe to run
// concurrently across use cases.
type DiscoveryScanner interface {
	Scan(ctx context.Context, useCase string) ([]DiscoveredModel, error)
}

// compatibleForUseCase mirrors paid_model_scanner.py's
// _is_compatible_for_use_case: story/coordination use cases need a large
// context window, dialogue needs a modest one, everything else passes.
func compatibleForUseCase(contextLength int, useCase string) bool {
	lower := strings.ToLower(useCase)
	switch {
	case strings.Contains(lower, "story") || strings.Contains(lower, "narrative") || strings.Contains(lower, "coordination"):
		return contextLength >= 100000
	case strings.Contains(lower, "dialogue"):
		return contextLength >= 8000
	default:
		return true
	}
}

// PaidModelScanner discovers hosted-provider models, grounded on
// original_source/services/model_management/paid_model_scanner.py: OpenRouter's
// model catalog is queried live; OpenAI/Anthropic/Google expose no public
// listing API, so (as in the original) a small known-model catalog stands in
// for those three.
type PaidModelScanner struct {
	client          *http.Client
	openRouterKey   string
	openRouterURL   string
	knownCatalogs   map[string][]DiscoveredModel
	log             *logger.Logger
}

// NewPaidModelScanner builds a scanner. openRouterKey may be empty (the
// catalog endpoint is queried unauthenticated, matching the original's
// "headers={} if no key" behavior). client defaults when nil.
func NewPaidModelScanner(client *http.Client, openRouterKey string, log *logger.Logger) *PaidModelScanner {
	if client == nil {
		client = &http.Client{Timeout: defaultScannerTimeout}
	}
	if log == nil {
		log = logger.NewDefault("metaloop-paid-scanner")
	}
	return &PaidModelScanner{
		client:        client,
		openRouterKey: openRouterKey,
		openRouterURL: "https://openrouter.ai/api/v1/models",
		knownCatalogs: map[string][]DiscoveredModel{
			"openai": {
				{ModelID: "gpt-4o", Name: "GPT-4o", Provider: "openai", Kind: model.KindHosted, ContextLength: 128000, BenchmarkScore: 0.85},
				{ModelID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: "openai", Kind: model.KindHosted, ContextLength: 128000, BenchmarkScore: 0.82},
			},
			"anthropic": {
				{ModelID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Provider: "anthropic", Kind: model.KindHosted, ContextLength: 200000, BenchmarkScore: 0.87},
			},
			"google": {
				{ModelID: "gemini-2.0-flash-exp", Name: "Gemini 2.0 Flash", Provider: "google", Kind: model.KindHosted, ContextLength: 1000000, BenchmarkScore: 0.8},
			},
		},
		log: log,
	}
}

type openRouterListResponse struct {
	Data []struct {
		ID            string  `json:"id"`
		Name          string  `json:"name"`
		ContextLength int     `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// Scan implements DiscoveryScanner: queries OpenRouter live, merges the
// static OpenAI/Anthropic/Google catalogs, then filters by use-case context
// length compatibility, per the original's per-provider dispatch.
func (s *PaidModelScanner) Scan(ctx context.Context, useCase string) ([]DiscoveredModel, error) {
	var all []DiscoveredModel

	fromOpenRouter, err := s.scanOpenRouter(ctx)
	if err != nil {
		s.log.WithField("error", err).Warn("openrouter scan failed; continuing with known catalogs")
	} else {
		all = append(all, fromOpenRouter...)
	}
	for _, catalog := range s.knownCatalogs {
		all = append(all, catalog...)
	}

	compatible := make([]DiscoveredModel, 0, len(all))
	for _, m := range all {
		if compatibleForUseCase(m.ContextLength, useCase) {
			compatible = append(compatible, m)
		}
	}
	return compatible, nil
}

func (s *PaidModelScanner) scanOpenRouter(ctx context.Context) ([]DiscoveredModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.openRouterURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build openrouter request: %w", err)
	}
	if s.openRouterKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.openRouterKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute openrouter request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openrouter returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultScannerBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}

	var parsed openRouterListResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode openrouter response: %w", err)
	}

	out := make([]DiscoveredModel, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, DiscoveredModel{
			ModelID:       m.ID,
			Name:          m.Name,
			Provider:      "openrouter",
			Kind:          model.KindHosted,
			ContextLength: m.ContextLength,
		})
	}
	return out, nil
}

// SelfHostedScanner discovers downloadable models, grounded on
// original_source/services/model_management/self_hosted_scanner.py:
// HuggingFace's Hub search API is queried live; Ollama has no public
// catalog API, so (as in the original) a small known-model list stands in.
type SelfHostedScanner struct {
	client              *http.Client
	huggingFaceToken    string
	huggingFaceEndpoint string
	ollamaCatalog       []DiscoveredModel
	log                 *logger.Logger
}

// NewSelfHostedScanner builds a scanner. huggingFaceToken may be empty.
func NewSelfHostedScanner(client *http.Client, huggingFaceToken string, log *logger.Logger) *SelfHostedScanner {
	if client == nil {
		client = &http.Client{Timeout: defaultScannerTimeout}
	}
	if log == nil {
		log = logger.NewDefault("metaloop-self-hosted-scanner")
	}
	return &SelfHostedScanner{
		client:              client,
		huggingFaceToken:    huggingFaceToken,
		huggingFaceEndpoint: "https://huggingface.co/api/models",
		ollamaCatalog: []DiscoveredModel{
			{ModelID: "llama3.1:8b", Name: "Llama 3.1 8B", Provider: "ollama", Kind: model.KindSelfServed, ContextLength: 128000, BenchmarkScore: 0.5},
			{ModelID: "mistral:7b", Name: "Mistral 7B", Provider: "ollama", Kind: model.KindSelfServed, ContextLength: 32768, BenchmarkScore: 0.5},
			{ModelID: "phi3:mini", Name: "Phi-3 Mini", Provider: "ollama", Kind: model.KindSelfServed, ContextLength: 128000, BenchmarkScore: 0.5},
		},
		log: log,
	}
}

type huggingFaceListEntry struct {
	ID        string `json:"id"`
	Downloads int    `json:"downloads"`
	Likes     int    `json:"likes"`
}

// Scan implements DiscoveryScanner: searches HuggingFace with a use-case
// appropriate query, merges the static Ollama catalog, then filters by
// use-case compatibility, per the original's scan_and_rank_models dispatch
// (ranking itself is RankCandidates' job, not the scanner's).
func (s *SelfHostedScanner) Scan(ctx context.Context, useCase string) ([]DiscoveredModel, error) {
	var all []DiscoveredModel

	fromHub, err := s.scanHuggingFace(ctx, useCase)
	if err != nil {
		s.log.WithField("error", err).Warn("huggingface scan failed; continuing with known ollama catalog")
	} else {
		all = append(all, fromHub...)
	}
	all = append(all, s.ollamaCatalog...)

	compatible := make([]DiscoveredModel, 0, len(all))
	for _, m := range all {
		if compatibleForUseCase(m.ContextLength, useCase) {
			compatible = append(compatible, m)
		}
	}
	return compatible, nil
}

func (s *SelfHostedScanner) scanHuggingFace(ctx context.Context, useCase string) ([]DiscoveredModel, error) {
	query := huggingFaceSearchQuery(useCase)
	url := fmt.Sprintf("%s?search=%s&sort=downloads&direction=-1&limit=50", s.huggingFaceEndpoint, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build huggingface request: %w", err)
	}
	if s.huggingFaceToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.huggingFaceToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute huggingface request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("huggingface returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultScannerBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read huggingface response: %w", err)
	}

	var parsed []huggingFaceListEntry
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode huggingface response: %w", err)
	}

	out := make([]DiscoveredModel, 0, len(parsed))
	for _, m := range parsed {
		out = append(out, DiscoveredModel{
			ModelID:        m.ID,
			Name:           m.ID,
			Provider:       "huggingface",
			Kind:           model.KindSelfServed,
			BenchmarkScore: communityScore(m.Downloads, m.Likes),
		})
	}
	return out, nil
}

// huggingFaceSearchQuery mirrors _get_huggingface_search_query's table.
func huggingFaceSearchQuery(useCase string) string {
	switch strings.ToLower(useCase) {
	case "story_generation":
		return "instruct+text-generation"
	case "npc_dialogue":
		return "chat+conversational"
	case "faction_decision":
		return "instruct+reasoning"
	default:
		return "instruct"
	}
}

// communityScore mirrors _calculate_community_score: downloads and likes
// each normalize to 1.0 at a typical "popular model" ceiling.
func communityScore(downloads, likes int) float64 {
	downloadScore := float64(downloads) / 1000000
	if downloadScore > 1.0 {
		downloadScore = 1.0
	}
	likeScore := float64(likes) / 10000
	if likeScore > 1.0 {
		likeScore = 1.0
	}
	return (downloadScore + likeScore) / 2
}
