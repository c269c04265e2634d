// Package app wires the control plane's ten components into one runtime:
// registry, historical log, guardrails, router, LLM client, response
// cache, rollback, deployment, fine-tuning, and the meta-management loop.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	guardrailsdomain "github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/llmbackend"
	"github.com/playforge-studio/modelplane/internal/app/metrics"
	"github.com/playforge-studio/modelplane/internal/app/services/deployment"
	"github.com/playforge-studio/modelplane/internal/app/services/finetune"
	"github.com/playforge-studio/modelplane/internal/app/services/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/services/historicallog"
	"github.com/playforge-studio/modelplane/internal/app/services/llmclient"
	"github.com/playforge-studio/modelplane/internal/app/services/metaloop"
	"github.com/playforge-studio/modelplane/internal/app/services/registry"
	"github.com/playforge-studio/modelplane/internal/app/services/responsecache"
	"github.com/playforge-studio/modelplane/internal/app/services/rollback"
	"github.com/playforge-studio/modelplane/internal/app/services/router"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/internal/app/storage/memory"
	"github.com/playforge-studio/modelplane/internal/app/system"
	"github.com/playforge-studio/modelplane/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/go-redis/redis/v8"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Registry   storage.RegistryStore
	Log        storage.LogStore
	Deployment storage.DeploymentStore
	Snapshot   storage.SnapshotStore
	Violation  storage.ViolationStore
	FineTune   storage.FineTuneStore
}

func (s *Stores) applyDefaults(mem *memory.Store) {
	if s == nil || mem == nil {
		return
	}
	if s.Registry == nil {
		s.Registry = mem
	}
	if s.Log == nil {
		s.Log = mem
	}
	if s.Deployment == nil {
		s.Deployment = mem
	}
	if s.Snapshot == nil {
		s.Snapshot = mem
	}
	if s.Violation == nil {
		s.Violation = mem
	}
	if s.FineTune == nil {
		s.FineTune = mem
	}
}

// RuntimeConfig captures the environment-dependent wiring that would
// otherwise be sourced directly from OS variables, so callers embedding
// the application (or testing it) can supply it explicitly.
type RuntimeConfig struct {
	AnthropicAPIKey string
	BedrockClient   *bedrockruntime.Client

	OpenRouterAPIKey   string
	HuggingFaceToken   string

	RedisClient       *redis.Client
	ResponseCacheTTL  time.Duration

	S3Client              *s3.Client
	FineTuneBucket        string
	SageMakerClient       *sagemaker.Client
	SageMakerRoleARN      string
	SageMakerOutputBucket string

	CircuitFailureThreshold int
	CircuitTimeoutSeconds   int

	MetaLoopUseCases         []string
	MetaLoopCheckInterval    time.Duration
	MetaLoopRecoveryInterval time.Duration
	MetaLoopAggregateWindow  time.Duration
}

// Option customises the application runtime.
type Option func(*builderConfig)

// Environment exposes a simple lookup mechanism which callers can
// implement to inject custom environment sources (for example when
// testing).
type Environment interface {
	Lookup(key string) string
}

type builderConfig struct {
	httpClient     *http.Client
	environment    Environment
	runtime        RuntimeConfig
	runtimeDefined bool
}

// WithRuntimeConfig overrides the runtime configuration used when wiring
// services. When omitted, New falls back to empty/default settings
// (in-memory cache, no hosted backends configured).
func WithRuntimeConfig(cfg RuntimeConfig) Option {
	return func(b *builderConfig) {
		b.runtime = cfg
		b.runtimeDefined = true
	}
}

// WithHTTPClient injects a shared HTTP client used by discovery scanners
// and the HTTP/generic backend. A nil client falls back to a client with a
// 30-second timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(b *builderConfig) {
		b.httpClient = client
	}
}

// WithEnvironment provides a custom environment lookup. Unused today (no
// service currently consults Environment directly) but kept so embedders
// can thread one through without an application.go change, matching the
// option set's own prior art.
func WithEnvironment(env Environment) Option {
	return func(b *builderConfig) {
		if env != nil {
			b.environment = env
		}
	}
}

func resolveBuilderOptions(opts ...Option) builderConfig {
	var b builderConfig
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Application ties the control plane's services together and manages
// their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry      *registry.Service
	Logs          *historicallog.Service
	Guardrails    *guardrails.Service
	Router        *router.Service
	LLMClient     *llmclient.Service
	ResponseCache *responsecache.Service
	Rollback      *rollback.Service
	Deployment    *deployment.Service
	FineTune      *finetune.Service
	MetaLoop      *metaloop.Service

	descriptors []core.Descriptor
}

// New builds a fully initialised application over the provided stores.
func New(stores Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	options := resolveBuilderOptions(opts...)
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	stores.applyDefaults(mem)

	manager := system.NewManager(log)

	registryService := registry.New(stores.Registry, log)
	logsService := historicallog.New(stores.Log, log)
	routerService := router.New(stores.Registry, stores.Log, log)
	routerService.WithObservationHooks(metrics.RouterSelectHooks())
	rollbackService := rollback.New(stores.Snapshot, stores.Deployment, stores.Registry, log)
	rollbackService.WithObservationHooks(metrics.RollbackHooks())

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	backends := buildBackends(options.runtime, httpClient, log)
	responseCache := responsecache.New(options.runtime.RedisClient, options.runtime.ResponseCacheTTL, log)

	llmService := llmclient.New(stores.Registry, routerService, logsService, backends,
		responseCache, options.runtime.CircuitFailureThreshold, options.runtime.CircuitTimeoutSeconds, log)
	llmService.WithObservationHooks(metrics.GenerateDispatchHooks())

	guardrailsService := guardrails.New(stores.Violation,
		buildModerator("safety", httpClient, log),
		buildModerator("harmful_content", httpClient, log),
		interventionHook(registryService, rollbackService, log),
		log)
	guardrailsService.WithObservationHooks(metrics.GuardrailsMonitorHooks())

	suite := deployment.NewPrePromotionSuite(llmService, logsService, guardrailsService, log)
	deploymentService := deployment.New(stores.Deployment, stores.Registry, logsService, rollbackService, suite, log)
	deploymentService.WithObservationHooks(metrics.DeploymentHooks())

	var uploader *finetune.DatasetUploader
	if options.runtime.S3Client != nil {
		uploader = finetune.NewDatasetUploader(options.runtime.S3Client, options.runtime.FineTuneBucket)
	}
	var trainingBackend finetune.TrainingBackend
	if options.runtime.SageMakerClient != nil {
		trainingBackend = finetune.NewSageMakerTrainingBackend(options.runtime.SageMakerClient,
			options.runtime.SageMakerRoleARN, options.runtime.SageMakerOutputBucket, log)
	}
	fineTuneService := finetune.New(stores.Registry, stores.FineTune, logsService, llmService,
		uploader, trainingBackend, options.runtime.FineTuneBucket, log)
	fineTuneService.WithObservationHooks(metrics.FineTuneSubmissionHooks())

	scanners := []metaloop.DiscoveryScanner{
		metaloop.NewPaidModelScanner(httpClient, options.runtime.OpenRouterAPIKey, log),
		metaloop.NewSelfHostedScanner(httpClient, options.runtime.HuggingFaceToken, log),
	}
	metaLoopService := metaloop.New(registryService, logsService, guardrailsService, deploymentService, rollbackService,
		scanners, metaloop.Config{
			UseCases:         options.runtime.MetaLoopUseCases,
			CheckInterval:    options.runtime.MetaLoopCheckInterval,
			RecoveryInterval: options.runtime.MetaLoopRecoveryInterval,
			AggregateWindow:  options.runtime.MetaLoopAggregateWindow,
		}, log)
	metaLoopService.WithObservationHooks(metrics.MetaLoopCycleHooks())

	manager.Register(metaLoopService)

	descriptors := system.CollectDescriptors([]system.DescriptorProvider{
		registryService, logsService, guardrailsService, routerService, llmService,
		responseCache, rollbackService, deploymentService, fineTuneService, metaLoopService,
	})

	return &Application{
		manager:       manager,
		log:           log,
		Registry:      registryService,
		Logs:          logsService,
		Guardrails:    guardrailsService,
		Router:        routerService,
		LLMClient:     llmService,
		ResponseCache: responseCache,
		Rollback:      rollbackService,
		Deployment:    deploymentService,
		FineTune:      fineTuneService,
		MetaLoop:      metaLoopService,
		descriptors:   descriptors,
	}, nil
}

// buildBackends maps a model Provider string to its Backend implementation.
// Providers whose credentials are absent from RuntimeConfig are simply
// omitted; llmclient.Generate falls back to its static fallback text for
// any model whose provider has no configured backend.
func buildBackends(rt RuntimeConfig, httpClient *http.Client, log *logger.Logger) map[string]llmbackend.Backend {
	backends := map[string]llmbackend.Backend{
		"http":         llmbackend.NewHTTPBackend(httpClient, log),
		"srl_adapter":  llmbackend.NewHTTPBackend(httpClient, log),
		"openrouter":   llmbackend.NewHTTPBackend(httpClient, log),
		"huggingface":  llmbackend.NewHTTPBackend(httpClient, log),
		"ollama":       llmbackend.NewHTTPBackend(httpClient, log),
	}
	if rt.AnthropicAPIKey != "" {
		backends["anthropic"] = llmbackend.NewAnthropicBackend(rt.AnthropicAPIKey, log)
	}
	if rt.BedrockClient != nil {
		backends["bedrock"] = llmbackend.NewBedrockBackend(rt.BedrockClient, log)
	}
	return backends
}

func buildModerator(category string, httpClient *http.Client, log *logger.Logger) guardrails.ContentModerator {
	fallback := guardrails.NewKeywordModerator(category, defaultSeverityTableFor(category))
	return fallback
}

// defaultSeverityTableFor returns category's fixed keyword-to-severity
// table, ported from guardrails_monitor.py's per-category harmful_keywords
// maps: safety's self-harm/violence keywords (where "kill yourself" lives)
// are a distinct table from harmful_content's hate/discrimination keywords.
// The two tables share only "violence" and "terror", critical in both.
func defaultSeverityTableFor(category string) map[guardrailsdomain.Severity][]string {
	switch category {
	case "harmful_content":
		return map[guardrailsdomain.Severity][]string{
			guardrailsdomain.SeverityCritical: {"violence", "terror", "hate", "kill", "murder", "attack"},
			guardrailsdomain.SeverityHigh:     {"discrimination", "harassment", "threat", "harm"},
			guardrailsdomain.SeverityMedium:   {"misinformation", "false claim", "conspiracy"},
		}
	default:
		return map[guardrailsdomain.Severity][]string{
			guardrailsdomain.SeverityCritical: {"kill yourself", "commit suicide", "harm others", "violence", "terror"},
			guardrailsdomain.SeverityHigh:     {"self harm", "dangerous", "illegal activity"},
			guardrailsdomain.SeverityMedium:   {"risky", "unsafe"},
		}
	}
}

// interventionHook wires guardrails.InterventionFunc to the concrete side
// effects each interventionLabel names: a critical violation rolls the
// model back to its most recent snapshot; a high-severity one flags the
// model for review and blocks its outputs; a medium one only records the
// flag. Kept in application.go (not inside the guardrails package) so
// guardrails never imports registry or rollback directly.
func interventionHook(reg *registry.Service, rb *rollback.Service, log *logger.Logger) guardrails.InterventionFunc {
	return func(ctx context.Context, v guardrailsdomain.Violation) error {
		switch v.Intervention {
		case "rollback":
			if _, err := rb.Rollback(ctx, v.ModelID, ""); err != nil {
				return fmt.Errorf("rollback %s after guardrails violation: %w", v.ModelID, err)
			}
		case "needs_review_block_outputs":
			if _, err := reg.UpdateStatus(ctx, v.ModelID, model.StatusNeedsReview); err != nil {
				return fmt.Errorf("flag %s needs_review: %w", v.ModelID, err)
			}
			if _, err := reg.UpdateConfig(ctx, v.ModelID, model.Config{"block_outputs": true}); err != nil {
				return fmt.Errorf("block outputs for %s: %w", v.ModelID, err)
			}
		case "flag_for_monitoring":
			if _, err := reg.UpdateConfig(ctx, v.ModelID, model.Config{"flagged_for_monitoring": true}); err != nil {
				return fmt.Errorf("flag %s for monitoring: %w", v.ModelID, err)
			}
		}
		return nil
	}
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for orchestration/CLI
// introspection.
func (a *Application) Descriptors() []core.Descriptor {
	out := make([]core.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}

// Registered exposes the underlying lifecycle services, for /healthz and
// /system/status handlers that need per-service state rather than just
// the static descriptor list.
func (a *Application) Registered() []system.Service {
	return a.manager.Services()
}
