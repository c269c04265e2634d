// Package finetune implements the Fine-Tuning Orchestrator (C9): assembling
// a training dataset from historical logs and seed examples, submitting a
// LoRA or full fine-tune job, and validating/promoting or retrying on
// completion.
package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/metrics"
	"github.com/playforge-studio/modelplane/internal/app/services/historicallog"
	"github.com/playforge-studio/modelplane/internal/app/services/llmclient"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	defaultLogWindow         = 30 * 24 * time.Hour
	validationSampleSize     = 10
	validationSuccessMinimum = 0.80
)

// loRAHyperparameters are the defaults named in spec.md §4.9 step 8.
var loRAHyperparameters = finetune.Hyperparameters{
	Method:       "lora",
	Rank:         64,
	Alpha:        32,
	LearningRate: 2e-4,
	Epochs:       3,
	BatchSize:    4,
	GradAccum:    4,
	MaxSeqLen:    2048,
	TargetModules: []string{
		"q_proj", "k_proj", "v_proj", "o_proj",
		"gate_proj", "up_proj", "down_proj",
	},
}

var fullFineTuneHyperparameters = finetune.Hyperparameters{
	Method:       "full",
	LearningRate: 1e-5,
	Epochs:       3,
	BatchSize:    2,
}

// SubmitRequest is one fine_tune() call's inputs, per spec.md §4.9.
type SubmitRequest struct {
	BaseModelID  string
	UseCase      string
	LogWindow    time.Duration
	SeedExamples []finetune.Example
}

// Service assembles datasets and submits/validates fine-tuning jobs.
type Service struct {
	registry storage.RegistryStore
	jobs     storage.FineTuneStore
	logs     *historicallog.Service
	llm      *llmclient.Service
	uploader *DatasetUploader
	training TrainingBackend
	bucket   string
	hooks    core.ObservationHooks
	log      *logger.Logger
}

// WithObservationHooks attaches optional metrics hooks fired around every
// Submit call, keyed by use case.
func (s *Service) WithObservationHooks(h core.ObservationHooks) {
	s.hooks = h
}

// New constructs a finetune Service.
func New(registry storage.RegistryStore, jobs storage.FineTuneStore, logs *historicallog.Service, llm *llmclient.Service, uploader *DatasetUploader, training TrainingBackend, bucket string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("finetune")
	}
	return &Service{
		registry: registry,
		jobs:     jobs,
		logs:     logs,
		llm:      llm,
		uploader: uploader,
		training: training,
		bucket:   bucket,
		log:      log,
	}
}

// Submit runs spec.md §4.9 steps 1-9: collect, transform, filter, merge,
// split, format, upload, submit, register.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (job finetune.Job, err error) {
	start := time.Now()
	done := core.StartObservation(ctx, s.hooks, map[string]string{"resource": req.UseCase})
	defer func() {
		done(err)
		metrics.RecordFineTuneJobRun(req.UseCase, time.Since(start), err == nil)
	}()

	return s.submit(ctx, req)
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (finetune.Job, error) {
	if strings.TrimSpace(req.BaseModelID) == "" {
		return finetune.Job{}, errors.InvalidArgument("base_model_id", "required")
	}
	if strings.TrimSpace(req.UseCase) == "" {
		return finetune.Job{}, errors.InvalidArgument("use_case", "required")
	}

	baseModel, err := s.registry.Get(ctx, req.BaseModelID)
	if err != nil {
		return finetune.Job{}, err
	}

	window := req.LogWindow
	if window <= 0 {
		window = defaultLogWindow
	}

	// 1. Collect.
	logs, err := s.logs.Query(ctx, storage.LogQuery{
		ModelID: req.BaseModelID,
		UseCase: req.UseCase,
		Since:   time.Now().Add(-window),
		Limit:   maxCollectedLogs,
	})
	if err != nil {
		return finetune.Job{}, errors.Internal("collect historical logs", err)
	}

	// 2. Transform.
	examples := make([]finetune.Example, 0, len(logs))
	for _, l := range logs {
		examples = append(examples, toExample(l))
	}

	// 3. Filter.
	filtered := filterQuality(examples)

	// 4. Merge + dedupe.
	combined := mergeAndDedupe(filtered, req.SeedExamples)

	jobID := uuid.NewString()

	// 5. Split.
	train, val := splitDataset(combined, jobID)

	// 6. Format per chat template.
	formatter := chatTemplate(baseModel.Name)
	trainJSONL, err := encodeJSONL(train, formatter)
	if err != nil {
		return finetune.Job{}, errors.Internal("encode training dataset", err)
	}
	valJSONL, err := encodeJSONL(val, formatter)
	if err != nil {
		return finetune.Job{}, errors.Internal("encode validation dataset", err)
	}

	// 7. Upload.
	timestamp := time.Now().UTC().Format("20060102-150405")
	prefix := fmt.Sprintf("fine-tuning/%s/%s", req.UseCase, timestamp)
	trainURI, err := s.uploader.upload(ctx, prefix+"/train.jsonl", trainJSONL)
	if err != nil {
		return finetune.Job{}, errors.Unavailable("upload training dataset", err)
	}
	valURI, err := s.uploader.upload(ctx, prefix+"/validation.jsonl", valJSONL)
	if err != nil {
		return finetune.Job{}, errors.Unavailable("upload validation dataset", err)
	}

	// 8. Submit.
	hp := hyperparametersFor(baseModel)
	jobName := fmt.Sprintf("ft-%s-%s-%s", sanitizeJobName(baseModel.Name), req.UseCase, timestamp)
	handle, err := s.training.Submit(ctx, TrainingJobSpec{
		JobName:         jobName,
		BaseModelName:   baseModel.Name,
		Hyperparameters: hp,
		TrainDataURI:    trainURI,
		ValDataURI:      valURI,
		InstanceType:    hp.InstanceSize,
	})
	if err != nil {
		return finetune.Job{}, errors.Unavailable("submit training job", err)
	}

	// 9. Register a candidate Model entry pointing at the job's output,
	// and persist the job record.
	candidate, err := s.registry.Register(ctx, model.Model{
		Name:      fmt.Sprintf("%s-%s", baseModel.Name, req.UseCase),
		Kind:      model.KindSelfServed,
		Provider:  baseModel.Provider,
		UseCase:   req.UseCase,
		Version:   fmt.Sprintf("%s-%s-%s", baseModel.Version, hp.Method, timestamp),
		ModelPath: trainURI,
	})
	if err != nil {
		s.log.WithField("error", err).Warn("failed to register candidate model for fine-tune job; continuing")
	}

	job, err := s.jobs.CreateJob(ctx, finetune.Job{
		ID:                jobID,
		BaseModelID:       req.BaseModelID,
		UseCase:           req.UseCase,
		TrainingJobHandle: handle,
		Hyperparameters:   hp,
		DatasetTrainURI:   trainURI,
		DatasetValURI:     valURI,
		Status:            finetune.StatusTraining,
		ValidationPrompts: samplePrompts(val, validationSampleSize),
	})
	if err != nil {
		return finetune.Job{}, errors.Internal("create fine-tune job", err)
	}

	s.log.WithField("job_id", job.ID).WithField("candidate_model_id", candidate.ID).WithField("base_model_id", req.BaseModelID).Info("fine-tune job submitted")
	return job, nil
}

// ValidateAndPromote runs spec.md §4.9 steps 10-11 against a job whose
// external training run has completed: it draws the job's held-out
// validation prompts, calls the candidate model via the LLM Client,
// computes a success rate, and either promotes the job or retries once
// with adjusted hyperparameters.
func (s *Service) ValidateAndPromote(ctx context.Context, jobID, candidateModelID string) (finetune.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return finetune.Job{}, err
	}

	if _, err := s.jobs.UpdateJobStatus(ctx, jobID, finetune.StatusValidating); err != nil {
		s.log.WithField("error", err).Warn("failed to mark job validating; continuing")
	}

	successRate, metrics := s.runValidation(ctx, candidateModelID, job.ValidationPrompts)
	passed := successRate >= validationSuccessMinimum

	if _, err := s.jobs.SetValidationMetrics(ctx, jobID, metrics); err != nil {
		s.log.WithField("error", err).Warn("failed to persist validation metrics; continuing")
	}

	if passed {
		updated, err := s.jobs.UpdateJobStatus(ctx, jobID, finetune.StatusPromoted)
		if err != nil {
			return finetune.Job{}, errors.Internal("mark job promoted", err)
		}
		if _, err := s.registry.UpdateStatus(ctx, candidateModelID, model.StatusCandidate); err != nil {
			s.log.WithField("error", err).Warn("failed to confirm candidate model status after validation; continuing")
		}
		s.log.WithField("job_id", jobID).WithField("success_rate", successRate).Info("fine-tune job validated and promoted")
		return updated, nil
	}

	if retried, _ := job.ValidationMetrics["retrained"].(bool); !retried {
		s.log.WithField("job_id", jobID).WithField("success_rate", successRate).Warn("validation below threshold; retraining with adjustments")
		return s.retrainWithAdjustments(ctx, job)
	}

	failed, err := s.jobs.UpdateJobStatus(ctx, jobID, finetune.StatusFailed)
	if err != nil {
		return finetune.Job{}, errors.Internal("mark job failed", err)
	}
	return failed, nil
}

// runValidation exercises the candidate model via llmclient.GenerateFor on
// up to validationSampleSize prompts, matching spec.md §4.9 step 10.
func (s *Service) runValidation(ctx context.Context, candidateModelID string, prompts []string) (float64, map[string]interface{}) {
	if len(prompts) == 0 {
		return 0, map[string]interface{}{"error": "validation dataset empty"}
	}

	successes := 0
	var totalLatencyMs int64
	for _, prompt := range prompts {
		res := s.llm.GenerateFor(ctx, candidateModelID, llmclient.GenerateRequest{
			Prompt:      prompt,
			MaxTokens:   200,
			Temperature: 0.7,
			Context:     map[string]interface{}{"validation": true},
		})
		if res.Success {
			successes++
			totalLatencyMs += res.LatencyMs
		}
	}

	rate := float64(successes) / float64(len(prompts))
	avgLatency := int64(0)
	if successes > 0 {
		avgLatency = totalLatencyMs / int64(successes)
	}
	return rate, map[string]interface{}{
		"success_rate":      rate,
		"tested_samples":    len(prompts),
		"successful_samples": successes,
		"avg_latency_ms":    avgLatency,
	}
}

// retrainWithAdjustments lowers the learning rate, shrinks the batch
// size, and increases epochs, per spec.md §4.9 step 11, then resubmits
// using the same train/validation dataset URIs.
func (s *Service) retrainWithAdjustments(ctx context.Context, job finetune.Job) (finetune.Job, error) {
	hp := job.Hyperparameters
	hp.LearningRate = hp.LearningRate / 2
	if hp.BatchSize > 1 {
		hp.BatchSize = hp.BatchSize / 2
	}
	hp.Epochs = hp.Epochs + 1

	handle, err := s.training.Submit(ctx, TrainingJobSpec{
		JobName:         job.ID + "-retrain",
		Hyperparameters: hp,
		TrainDataURI:    job.DatasetTrainURI,
		ValDataURI:      job.DatasetValURI,
		InstanceType:    hp.InstanceSize,
	})
	if err != nil {
		return finetune.Job{}, errors.Unavailable("submit retrain job", err)
	}

	job.Hyperparameters = hp
	job.TrainingJobHandle = handle
	job.Status = finetune.StatusTraining
	job.ValidationMetrics = mergeRetryMarker(job.ValidationMetrics)

	updated, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return finetune.Job{}, errors.Internal("persist retrain job", err)
	}
	return updated, nil
}

func mergeRetryMarker(metrics map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metrics)+1)
	for k, v := range metrics {
		out[k] = v
	}
	out["retrained"] = true
	return out
}

// hyperparametersFor selects LoRA defaults unless the base model's
// configuration explicitly disables LoRA support, per spec.md §4.9
// step 8, and derives instance sizing from the base model's name.
func hyperparametersFor(baseModel model.Model) finetune.Hyperparameters {
	hp := loRAHyperparameters
	if supportsLoRA, ok := baseModel.Config["supports_lora"].(bool); ok && !supportsLoRA {
		hp = fullFineTuneHyperparameters
	}
	hp.InstanceSize = instanceSizeForModel(baseModel.Name)
	return hp
}

func samplePrompts(val []finetune.Example, n int) []string {
	if len(val) < n {
		n = len(val)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, val[i].Text)
	}
	return out
}

func sanitizeJobName(name string) string {
	replacer := strings.NewReplacer("/", "-", "_", "-", " ", "-")
	return strings.ToLower(replacer.Replace(name))
}

func encodeJSONL(examples []finetune.Example, formatter func(finetune.Example) string) ([]byte, error) {
	var buf strings.Builder
	for _, ex := range examples {
		record := jsonlRecord{
			Text:               formatter(ex),
			Label:              ex.Label,
			Metadata:           ex.Metadata,
			ReasoningTrace:     ex.ReasoningTrace,
			VerificationResult: ex.VerificationResult,
		}
		line, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), nil
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "finetune",
		Domain:       "model_management",
		Layer:        core.LayerEngine,
		Capabilities: []string{"submit", "validate", "retrain"},
	}
}
