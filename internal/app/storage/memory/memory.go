// Package memory implements the storage interfaces with mutex-guarded maps.
// It is the default store for tests and for single-process deployments that
// don't need postgres durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	"github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/internal/app/domain/inferencelog"
	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/internal/app/domain/snapshot"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

var (
	_ storage.RegistryStore   = (*Store)(nil)
	_ storage.LogStore        = (*Store)(nil)
	_ storage.DeploymentStore = (*Store)(nil)
	_ storage.SnapshotStore   = (*Store)(nil)
	_ storage.ViolationStore  = (*Store)(nil)
	_ storage.FineTuneStore   = (*Store)(nil)
)

// Store implements every storage interface the control plane needs over
// in-process maps. A single instance is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	models      map[string]model.Model
	logs        map[string]inferencelog.Log
	deployments map[string]deployment.Deployment
	snapshots   map[string]snapshot.Snapshot
	violations  map[string]guardrails.Violation
	jobs        map[string]finetune.Job
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		models:      make(map[string]model.Model),
		logs:        make(map[string]inferencelog.Log),
		deployments: make(map[string]deployment.Deployment),
		snapshots:   make(map[string]snapshot.Snapshot),
		violations:  make(map[string]guardrails.Violation),
		jobs:        make(map[string]finetune.Job),
	}
}

// --- RegistryStore ---

func (s *Store) Register(_ context.Context, m model.Model) (model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = model.StatusCandidate
	}
	s.models[m.ID] = m.Clone()
	return m.Clone(), nil
}

func (s *Store) Get(_ context.Context, modelID string) (model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[modelID]
	if !ok {
		return model.Model{}, errors.NotFound("model", modelID)
	}
	return m.Clone(), nil
}

func (s *Store) GetCurrent(_ context.Context, useCase string) (model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.Model
	found := false
	for _, m := range s.models {
		if m.UseCase != useCase || m.Status != model.StatusCurrent {
			continue
		}
		if !found || m.UpdatedAt.After(best.UpdatedAt) {
			best = m
			found = true
		}
	}
	if !found {
		return model.Model{}, errors.NotFound("current model", useCase)
	}
	return best.Clone(), nil
}

func (s *Store) ListCandidates(_ context.Context, useCase string) ([]model.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Model
	for _, m := range s.models {
		if m.UseCase == useCase && m.Status == model.StatusCandidate {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, modelID string, newStatus model.Status) (model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[modelID]
	if !ok {
		return model.Model{}, errors.NotFound("model", modelID)
	}

	if newStatus == model.StatusCurrent {
		for id, other := range s.models {
			if id == modelID || other.UseCase != m.UseCase {
				continue
			}
			if other.Status == model.StatusCurrent {
				other.Status = model.StatusDeprecated
				other.UpdatedAt = time.Now().UTC()
				s.models[id] = other
			}
		}
	}

	m.Status = newStatus
	m.UpdatedAt = time.Now().UTC()
	s.models[modelID] = m
	return m.Clone(), nil
}

func (s *Store) UpdatePerformance(_ context.Context, modelID string, metrics model.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[modelID]
	if !ok {
		return errors.NotFound("model", modelID)
	}
	m.Metrics = model.Metrics(cloneMap(metrics))
	m.UpdatedAt = time.Now().UTC()
	s.models[modelID] = m
	return nil
}

func (s *Store) UpdateConfig(_ context.Context, modelID string, patch model.Config) (model.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[modelID]
	if !ok {
		return model.Model{}, errors.NotFound("model", modelID)
	}
	merged := cloneMap(m.Config)
	if merged == nil {
		merged = make(map[string]interface{})
	}
	for k, v := range patch {
		merged[k] = v
	}
	m.Config = model.Config(merged)
	m.UpdatedAt = time.Now().UTC()
	s.models[modelID] = m
	return m.Clone(), nil
}

// --- LogStore ---

func (s *Store) Log(_ context.Context, entry inferencelog.Log) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	s.logs[entry.ID] = entry
	return entry.ID, nil
}

func (s *Store) Query(_ context.Context, q storage.LogQuery) ([]inferencelog.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []inferencelog.Log
	for _, l := range s.logs {
		if q.ModelID != "" && l.ModelID != q.ModelID {
			continue
		}
		if q.UseCase != "" && l.UseCase != q.UseCase {
			continue
		}
		if !q.Since.IsZero() && l.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && l.CreatedAt.After(q.Until) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Aggregate(_ context.Context, modelID string, window time.Duration) (storage.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	var latencies []time.Duration
	var agg storage.Aggregate
	var qualitySum float64
	for _, l := range s.logs {
		if l.ModelID != modelID || l.CreatedAt.Before(cutoff) {
			continue
		}
		agg.Total++
		if l.Metrics.Error != "" {
			agg.Errors++
		}
		latencies = append(latencies, time.Duration(l.Metrics.LatencyMs)*time.Millisecond)
		qualitySum += l.Quality()
	}
	if agg.Total > 0 {
		agg.AvgQuality = qualitySum / float64(agg.Total)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		agg.P50Latency = percentile(latencies, 0.50)
		agg.P95Latency = percentile(latencies, 0.95)
	}
	return agg, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// --- DeploymentStore ---

func (s *Store) CreateDeployment(_ context.Context, d deployment.Deployment) (deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.StartTime.IsZero() {
		d.StartTime = time.Now().UTC()
	}
	s.deployments[d.ID] = d
	return d, nil
}

func (s *Store) GetDeployment(_ context.Context, deploymentID string) (deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[deploymentID]
	if !ok {
		return deployment.Deployment{}, errors.NotFound("deployment", deploymentID)
	}
	return d, nil
}

func (s *Store) InProgress(_ context.Context, modelID string) (deployment.Deployment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.deployments {
		if d.ModelID == modelID && d.Status == deployment.StatusInProgress {
			return d, true, nil
		}
	}
	return deployment.Deployment{}, false, nil
}

func (s *Store) UpdateDeploymentStatus(_ context.Context, deploymentID string, status deployment.Status, reason string) (deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[deploymentID]
	if !ok {
		return deployment.Deployment{}, errors.NotFound("deployment", deploymentID)
	}
	d.Status = status
	d.RollbackReason = reason
	if status != deployment.StatusInProgress {
		now := time.Now().UTC()
		d.CompleteTime = &now
	}
	s.deployments[deploymentID] = d
	return d, nil
}

func (s *Store) UpdateTraffic(_ context.Context, deploymentID string, percent int) (deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[deploymentID]
	if !ok {
		return deployment.Deployment{}, errors.NotFound("deployment", deploymentID)
	}
	d.TrafficPercent = percent
	s.deployments[deploymentID] = d
	return d, nil
}

// --- SnapshotStore ---

func (s *Store) CreateSnapshot(_ context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()
	s.snapshots[snap.ID] = snap
	return snap, nil
}

func (s *Store) GetSnapshot(_ context.Context, snapshotID string) (snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return snapshot.Snapshot{}, errors.NotFound("snapshot", snapshotID)
	}
	return snap, nil
}

func (s *Store) MostRecent(_ context.Context, modelID string) (snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best snapshot.Snapshot
	found := false
	for _, snap := range s.snapshots {
		if snap.ModelID != modelID {
			continue
		}
		if !found || snap.CreatedAt.After(best.CreatedAt) {
			best = snap
			found = true
		}
	}
	if !found {
		return snapshot.Snapshot{}, errors.NotFound("snapshot for model", modelID)
	}
	return best, nil
}

// --- ViolationStore ---

func (s *Store) CreateViolation(_ context.Context, v guardrails.Violation) (guardrails.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	s.violations[v.ID] = v
	return v, nil
}

func (s *Store) ListByModel(_ context.Context, modelID string, limit int) ([]guardrails.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []guardrails.Violation
	for _, v := range s.violations {
		if v.ModelID == modelID {
			out = append(out, v)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- FineTuneStore ---

func (s *Store) CreateJob(_ context.Context, j finetune.Job) (finetune.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = finetune.StatusPreparing
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (finetune.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return finetune.Job{}, errors.NotFound("fine-tune job", jobID)
	}
	return j, nil
}

func (s *Store) UpdateJobStatus(_ context.Context, jobID string, status finetune.Status) (finetune.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return finetune.Job{}, errors.NotFound("fine-tune job", jobID)
	}
	j.Status = status
	s.jobs[jobID] = j
	return j, nil
}

func (s *Store) SetValidationMetrics(_ context.Context, jobID string, metrics map[string]interface{}) (finetune.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return finetune.Job{}, errors.NotFound("fine-tune job", jobID)
	}
	j.ValidationMetrics = metrics
	s.jobs[jobID] = j
	return j, nil
}

func cloneMap[M ~map[string]interface{}](m M) M {
	if m == nil {
		return nil
	}
	out := make(M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
