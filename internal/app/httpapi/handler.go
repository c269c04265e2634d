// Package httpapi exposes the control plane's operations over HTTP,
// matching the request/reply shapes in spec.md §6. Routing is
// github.com/go-chi/chi/v5; every handler decodes a request body (or query
// parameters for read-only list/get operations), calls the wired service,
// and writes the uniform {code, message} error envelope on failure.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	app "github.com/playforge-studio/modelplane/internal/app"
	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	finetunedomain "github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	finetuneservice "github.com/playforge-studio/modelplane/internal/app/services/finetune"
	"github.com/playforge-studio/modelplane/internal/app/services/llmclient"
	"github.com/playforge-studio/modelplane/internal/app/services/router"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
	"github.com/playforge-studio/modelplane/pkg/version"
)

type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler builds the chi router for every operation in spec.md §6 plus
// the health/status/version routes. tokens is the admin shared-secret
// allowlist; an empty allowlist makes every admin route unavailable.
func NewHandler(application *app.Application, tokens []string, audit *auditLog, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, audit: audit, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(wrapWithCORS)
	if audit != nil {
		r.Use(wrapWithAudit(audit))
	}

	r.Get("/healthz", h.healthz)
	r.Get("/system/status", h.systemStatus)
	r.Get("/system/version", h.systemVersion)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models/current", h.getCurrent)
		r.Get("/models/candidates", h.listCandidates)
		r.Post("/models/check-for-better", h.checkForBetter)
		r.Post("/generate", h.generate)
		r.Post("/guardrails/monitor", h.monitorOutputs)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return wrapWithAdminAuth(next, tokens, log)
			})
			r.Post("/models", h.registerModel)
			r.Post("/deployments", h.deploy)
			r.Post("/rollback", h.rollback)
			r.Post("/fine-tune", h.fineTune)
			r.Get("/audit", h.listAudit)
		})
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) systemVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_commit": version.GitCommit,
		"go_version": version.GoVersion,
	})
}

// systemStatus implements the "Service status" operation: {llm_services,
// service_health, performance_metrics}.
func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	useCases := h.app.MetaLoop.UseCases()
	llmServices := make(map[string]interface{}, len(useCases))
	performance := make(map[string]interface{}, len(useCases))

	for _, useCase := range useCases {
		current, err := h.app.Registry.GetCurrent(ctx, useCase)
		if err != nil {
			llmServices[useCase] = map[string]interface{}{"status": "no_current_model"}
			continue
		}
		llmServices[useCase] = map[string]interface{}{
			"model_id": current.ID,
			"provider": current.Provider,
			"version":  current.Version,
			"status":   string(current.Status),
		}
		agg, err := h.app.Logs.Aggregate(ctx, current.ID, time.Hour)
		if err == nil {
			performance[useCase] = map[string]interface{}{
				"total_requests": agg.Total,
				"errors":         agg.Errors,
				"p50_latency_ms": agg.P50Latency.Milliseconds(),
				"p95_latency_ms": agg.P95Latency.Milliseconds(),
				"avg_quality":    agg.AvgQuality,
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"llm_services": llmServices,
		"service_health": map[string]interface{}{
			"registered_services": len(h.app.Descriptors()),
		},
		"performance_metrics": performance,
	})
}

type generateRequest struct {
	Layer       string                 `json:"layer"`
	Prompt      string                 `json:"prompt"`
	Context     map[string]interface{} `json:"context"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature float64                `json:"temperature"`
	Priority    string                 `json:"priority"`
	UseCache    *bool                  `json:"use_cache"`
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	cacheAllowed := true
	if req.UseCache != nil {
		cacheAllowed = *req.UseCache
	}
	result := h.app.LLMClient.Generate(r.Context(), llmclient.GenerateRequest{
		Layer:        req.Layer,
		Prompt:       req.Prompt,
		Context:      req.Context,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Priority:     parsePriority(req.Priority),
		CacheAllowed: cacheAllowed,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     result.Success,
		"text":        result.Text,
		"tokens_used": result.TokensUsed,
		"model_id":    result.ModelID,
		"latency_ms":  result.LatencyMs,
		"service":     result.Service,
		"cached":      result.Cached,
		"error":       result.Error,
	})
}

type registerModelRequest struct {
	Name      string                 `json:"name"`
	Kind      string                 `json:"kind"`
	Provider  string                 `json:"provider"`
	UseCase   string                 `json:"use_case"`
	Version   string                 `json:"version"`
	ModelPath string                 `json:"model_path"`
	Config    map[string]interface{} `json:"config"`
	Metrics   map[string]interface{} `json:"metrics"`
	Resources map[string]interface{} `json:"resources"`
}

func (h *handler) registerModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	registered, err := h.app.Registry.Register(r.Context(), model.Model{
		Name:      req.Name,
		Kind:      model.Kind(req.Kind),
		Provider:  req.Provider,
		UseCase:   req.UseCase,
		Version:   req.Version,
		ModelPath: req.ModelPath,
		Config:    model.Config(req.Config),
		Metrics:   model.Metrics(req.Metrics),
		Resources: model.Resources(req.Resources),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"model_id": registered.ID})
}

func (h *handler) getCurrent(w http.ResponseWriter, r *http.Request) {
	useCase := r.URL.Query().Get("use_case")
	m, err := h.app.Registry.GetCurrent(r.Context(), useCase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	useCase := r.URL.Query().Get("use_case")
	candidates, err := h.app.Registry.ListCandidates(r.Context(), useCase)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := core.ClampLimit(atoiOrZero(r.URL.Query().Get("limit")), core.DefaultListLimit, core.MaxListLimit)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	writeJSON(w, http.StatusOK, candidates)
}

type checkForBetterRequest struct {
	UseCase        string `json:"use_case"`
	CurrentModelID string `json:"current_model_id"`
}

func (h *handler) checkForBetter(w http.ResponseWriter, r *http.Request) {
	var req checkForBetterRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	better, bestID, err := h.app.MetaLoop.CheckForBetter(r.Context(), req.UseCase, req.CurrentModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"better_found": better}
	if better {
		resp["better_model_id"] = bestID
	}
	writeJSON(w, http.StatusOK, resp)
}

type deployRequest struct {
	NewModelID     string `json:"new_model_id"`
	CurrentModelID string `json:"current_model_id"`
	Strategy       string `json:"strategy"`
}

func (h *handler) deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	result, err := h.app.Deployment.Deploy(r.Context(), req.NewModelID, req.CurrentModelID, deployment.Strategy(req.Strategy))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       result.Success,
		"deployment_id": result.DeploymentID,
	})
}

type rollbackRequest struct {
	ModelID    string `json:"model_id"`
	SnapshotID string `json:"snapshot_id"`
	Reason     string `json:"reason"`
}

func (h *handler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	success, err := h.app.Rollback.Rollback(r.Context(), req.ModelID, req.SnapshotID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": success})
}

type fineTuneRequest struct {
	BaseModelID  string            `json:"base_model_id"`
	UseCase      string            `json:"use_case"`
	LogWindowSec int               `json:"log_window"`
	Seed         []finetuneExample `json:"seed"`
}

type finetuneExample struct {
	Text               string                 `json:"text"`
	Label              string                 `json:"label"`
	Metadata           map[string]interface{} `json:"metadata"`
	ReasoningTrace     string                 `json:"reasoning_trace"`
	VerificationResult string                 `json:"verification_result"`
}

func (h *handler) fineTune(w http.ResponseWriter, r *http.Request) {
	var req fineTuneRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	seed := make([]finetunedomain.Example, 0, len(req.Seed))
	for _, ex := range req.Seed {
		seed = append(seed, finetunedomain.Example{
			Text:               ex.Text,
			Label:              ex.Label,
			Metadata:           ex.Metadata,
			ReasoningTrace:     ex.ReasoningTrace,
			VerificationResult: ex.VerificationResult,
		})
	}
	var window time.Duration
	if req.LogWindowSec > 0 {
		window = time.Duration(req.LogWindowSec) * time.Second
	}
	job, err := h.app.FineTune.Submit(r.Context(), finetuneservice.SubmitRequest{
		BaseModelID:  req.BaseModelID,
		UseCase:      req.UseCase,
		LogWindow:    window,
		SeedExamples: seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

type monitorOutputsRequest struct {
	ModelID string   `json:"model_id"`
	Outputs []string `json:"outputs"`
}

func (h *handler) monitorOutputs(w http.ResponseWriter, r *http.Request) {
	var req monitorOutputsRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.InvalidArgument("body", "malformed JSON"))
		return
	}
	result, err := h.app.Guardrails.Monitor(r.Context(), req.ModelID, req.Outputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []auditEntry{})
		return
	}
	limit := atoiOrZero(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func parsePriority(value string) router.Priority {
	switch router.Priority(value) {
	case router.PriorityCost, router.PriorityQuality, router.PriorityBalanced:
		return router.Priority(value)
	default:
		return router.PriorityBalanced
	}
}

func atoiOrZero(value string) int {
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError translates err into the uniform {code, message} envelope,
// defaulting to "internal" for errors not produced by infrastructure/errors.
func writeError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("unexpected error", err)
	}
	writeErrorEnvelope(w, svcErr.HTTPStatus, svcErr.WireCode(), svcErr.Message)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
