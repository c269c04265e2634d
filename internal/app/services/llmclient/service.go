// Package llmclient implements the LLM Client (C5): the single call path
// game services use to generate text, covering backend selection, circuit
// breaking, retry, historical logging, and optional response caching.
package llmclient

import (
	"context"
	"errors"
	"strings"
	"time"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/inferencelog"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/llmbackend"
	"github.com/playforge-studio/modelplane/internal/app/metrics"
	"github.com/playforge-studio/modelplane/internal/app/services/historicallog"
	"github.com/playforge-studio/modelplane/internal/app/services/router"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/resilience"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	generateTimeout      = 30 * time.Second
	generateMaxAttempts  = 3
	generateBaseBackoff  = 200 * time.Millisecond
)

// ResponseCache wraps an upstream generate call with fingerprint-based
// caching and single-flight de-duplication. Implemented by
// internal/app/services/responsecache.Service; declared here as a
// consumer-side interface so llmclient doesn't import that package
// directly.
type ResponseCache interface {
	Optimize(ctx context.Context, layer, prompt string, reqContext map[string]interface{}, generate func(ctx context.Context) (string, error)) (text string, cached bool, err error)
}

// GenerateRequest is one call to Generate.
type GenerateRequest struct {
	Layer        string
	Prompt       string
	Context      map[string]interface{}
	MaxTokens    int
	Temperature  float64
	Priority     router.Priority
	CacheAllowed bool
}

// GenerateResult is the outcome of one Generate call, matching spec.md
// §4.5's contract fields.
type GenerateResult struct {
	Success    bool
	Text       string
	TokensUsed int
	ModelID    string
	LatencyMs  int64
	Service    string
	Error      string
	Fallback   bool
	Cached     bool
}

var defaultFallbackText = map[string]string{
	"foundation_layer": "The world holds its breath, waiting.",
	"story_generation": "The story pauses here for a moment.",
}

const genericFallbackText = "..."

// layerUseCaseMap maps a Generate request's Layer (the caller-facing name,
// e.g. "foundation") to the use_case key models are registered under (e.g.
// "foundation_layer"), ported from llm_client.py's use_case_map so router
// and registry lookups key on the same string the registry was seeded with.
var layerUseCaseMap = map[string]string{
	"foundation":    "foundation_layer",
	"customization": "customization_layer",
	"interaction":   "interaction_layer",
	"coordination":  "coordination_layer",
}

// useCaseForLayer resolves req.Layer to its registry use_case, falling back
// to the layer string unchanged when it isn't one of the known aliases (a
// caller may already pass a raw use_case).
func useCaseForLayer(layer string) string {
	if useCase, ok := layerUseCaseMap[strings.ToLower(layer)]; ok {
		return useCase
	}
	return layer
}

// Service dispatches generate calls across registered backends.
type Service struct {
	registry storage.RegistryStore
	router   *router.Service
	logs     *historicallog.Service
	backends map[string]llmbackend.Backend
	breakers *breakerManager
	cache    ResponseCache
	hooks    core.ObservationHooks
	log      *logger.Logger
}

// WithObservationHooks attaches optional metrics hooks fired around every
// generateFor call, keyed by use case.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// New constructs an llmclient Service. backends maps a model's Provider
// field (e.g. "anthropic", "bedrock", "http", "srl_adapter") to the
// Backend implementation that serves it. cache may be nil, in which case
// Generate never consults the response cache regardless of
// GenerateRequest.CacheAllowed.
func New(registry storage.RegistryStore, rt *router.Service, logs *historicallog.Service, backends map[string]llmbackend.Backend, cache ResponseCache, circuitFailureThreshold int, circuitTimeoutSec int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("llmclient")
	}
	return &Service{
		registry: registry,
		router:   rt,
		logs:     logs,
		backends: backends,
		breakers: newBreakerManager(circuitFailureThreshold, time.Duration(circuitTimeoutSec)*time.Second, log),
		cache:    cache,
		log:      log,
	}
}

// Generate executes the full LLM Client pipeline described in spec.md §4.5.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) GenerateResult {
	start := time.Now()
	result := s.generate(ctx, req, start)

	status := "success"
	if !result.Success {
		status = "fallback"
	}
	metrics.RecordGenerateExecution(req.Layer, status, time.Since(start))

	return result
}

func (s *Service) generate(ctx context.Context, req GenerateRequest, start time.Time) GenerateResult {
	priority := req.Priority
	if priority == "" {
		priority = router.PriorityBalanced
	}
	decision, err := s.router.Select(ctx, useCaseForLayer(req.Layer), priority)
	if err != nil || decision.Fallback {
		return s.fallback(ctx, req, "", start, "router: no model available")
	}

	m, err := s.registry.Get(ctx, decision.ModelID)
	if err != nil {
		return s.fallback(ctx, req, decision.ModelID, start, "registry: "+err.Error())
	}

	return s.generateFor(ctx, m, req, start)
}

// GenerateFor runs the same pipeline as Generate but against an explicit
// model rather than letting the router pick one. Used by callers that
// already hold a specific model decision — e.g. the Deployment Manager's
// pre-promotion test suite comparing a named candidate to a named current
// model head-to-head.
func (s *Service) GenerateFor(ctx context.Context, modelID string, req GenerateRequest) GenerateResult {
	start := time.Now()

	m, err := s.registry.Get(ctx, modelID)
	if err != nil {
		return s.fallback(ctx, req, modelID, start, "registry: "+err.Error())
	}
	return s.generateFor(ctx, m, req, start)
}

func (s *Service) generateFor(ctx context.Context, m model.Model, req GenerateRequest, start time.Time) GenerateResult {
	done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": m.UseCase})
	result := s.doGenerateFor(ctx, m, req, start)
	var obsErr error
	if !result.Success {
		obsErr = errors.New(result.Error)
	}
	done(obsErr)
	return result
}

func (s *Service) doGenerateFor(ctx context.Context, m model.Model, req GenerateRequest, start time.Time) GenerateResult {
	backend, endpoint := s.resolveBackend(m)
	if backend == nil {
		return s.fallback(ctx, req, m.ID, start, "no backend configured for provider "+m.Provider)
	}

	var tokensUsed int
	generate := func(ctx context.Context) (string, error) {
		text, used, err := s.callBackend(ctx, backend, endpoint, req)
		tokensUsed = used
		return text, err
	}

	var (
		text   string
		cached bool
	)
	if req.CacheAllowed && s.cache != nil {
		text, cached, err = s.cache.Optimize(ctx, req.Layer, req.Prompt, req.Context, generate)
	} else {
		text, err = generate(ctx)
	}

	latency := time.Since(start)
	if err != nil {
		s.logAttempt(ctx, m, req, "", latency, err.Error(), false)
		return s.fallback(ctx, req, m.ID, start, err.Error())
	}

	s.logAttempt(ctx, m, req, text, latency, "", false)
	return GenerateResult{
		Success:    true,
		Text:       text,
		TokensUsed: tokensUsed,
		ModelID:    m.ID,
		LatencyMs:  latency.Milliseconds(),
		Service:    m.Provider,
		Cached:     cached,
	}
}

func (s *Service) callBackend(ctx context.Context, backend llmbackend.Backend, endpoint string, req GenerateRequest) (string, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	cb := s.breakers.get(endpoint)
	var resp llmbackend.Response

	retryPolicy := resilience.RetryConfig{
		MaxAttempts:  generateMaxAttempts,
		InitialDelay: generateBaseBackoff,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	err := resilience.Retry(callCtx, retryPolicy, func() error {
		return cb.Execute(callCtx, func() error {
			var innerErr error
			resp, innerErr = backend.Generate(callCtx, endpoint, llmbackend.Request{
				Prompt:      req.Prompt,
				Context:     req.Context,
				MaxTokens:   req.MaxTokens,
				Temperature: req.Temperature,
			})
			return innerErr
		})
	})
	if err != nil {
		return "", 0, err
	}
	return resp.Text, resp.TokensUsed, nil
}

// resolveBackend picks the Backend and endpoint string to call for m. A
// model whose use_case names an SRL tier (e.g. "srl_gold_tier") is routed
// through the adapter executor per spec.md §4.5 step 2; everything else
// routes by its Provider field (the key used when New's backends map was
// built).
func (s *Service) resolveBackend(m model.Model) (llmbackend.Backend, string) {
	endpoint := stringField(m.Config, "endpoint", "")

	if strings.HasPrefix(strings.ToLower(m.UseCase), "srl_") {
		if backend, ok := s.backends["srl_adapter"]; ok {
			return backend, endpoint
		}
	}
	backend, ok := s.backends[strings.ToLower(m.Provider)]
	if !ok {
		return nil, ""
	}
	return backend, endpoint
}

func stringField(cfg model.Config, key, fallback string) string {
	if cfg == nil {
		return fallback
	}
	v, ok := cfg[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

// logAttempt always attempts to write the Historical Log Store entry;
// failures are swallowed per spec.md §4.5 step 6 (availability over
// completeness of audit).
func (s *Service) logAttempt(ctx context.Context, m model.Model, req GenerateRequest, output string, latency time.Duration, errMsg string, fallbackUsed bool) {
	entry := inferencelog.Log{
		ModelID: m.ID,
		UseCase: m.UseCase,
		Prompt:  req.Prompt,
		Context: req.Context,
		Output:  output,
		Metrics: inferencelog.Metrics{
			LatencyMs:    latency.Milliseconds(),
			TokensIn:     estimateTokenCount(req.Prompt),
			TokensOut:    estimateTokenCount(output),
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			Error:        errMsg,
			FallbackUsed: fallbackUsed,
		},
	}
	if _, err := s.logs.Log(ctx, entry); err != nil {
		s.log.WithField("error", err).Warn("failed to write inference log; continuing")
	}
}

func estimateTokenCount(s string) int {
	return (len(s) + 3) / 4
}

func (s *Service) fallback(ctx context.Context, req GenerateRequest, modelID string, start time.Time, reason string) GenerateResult {
	text := defaultFallbackText[useCaseForLayer(req.Layer)]
	if text == "" {
		text = genericFallbackText
	}
	s.log.WithField("layer", req.Layer).WithField("reason", reason).Warn("llm client returning static fallback")
	return GenerateResult{
		Success:   false,
		Text:      text,
		ModelID:   modelID,
		LatencyMs: time.Since(start).Milliseconds(),
		Error:     reason,
		Fallback:  true,
	}
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "llmclient",
		Domain:       "model_management",
		Layer:        core.LayerAdapter,
		Capabilities: []string{"generate", "circuit_breaker", "fallback"},
	}
}
