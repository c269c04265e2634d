package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/model"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

// RegistryStore implementation, grounded on
// original_source/services/model_management/model_registry.py.

func (s *Store) Register(ctx context.Context, m model.Model) (model.Model, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = model.StatusCandidate
	}

	configJSON, err := json.Marshal(m.Config)
	if err != nil {
		return model.Model{}, errors.Internal("marshal model config", err)
	}
	metricsJSON, err := json.Marshal(m.Metrics)
	if err != nil {
		return model.Model{}, errors.Internal("marshal model metrics", err)
	}
	resourcesJSON, err := json.Marshal(m.Resources)
	if err != nil {
		return model.Model{}, errors.Internal("marshal model resources", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO models (id, name, kind, provider, use_case, version, status, model_path, config, metrics, resources, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.ID, m.Name, string(m.Kind), m.Provider, m.UseCase, m.Version, string(m.Status), toNullString(m.ModelPath),
		configJSON, metricsJSON, resourcesJSON, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return model.Model{}, errors.Internal("insert model", err)
	}
	return m, nil
}

func scanModel(row interface{ Scan(...interface{}) error }) (model.Model, error) {
	var (
		m             model.Model
		kind, status  string
		modelPath     sql.NullString
		configRaw     []byte
		metricsRaw    []byte
		resourcesRaw  []byte
	)
	if err := row.Scan(&m.ID, &m.Name, &kind, &m.Provider, &m.UseCase, &m.Version, &status, &modelPath,
		&configRaw, &metricsRaw, &resourcesRaw, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return model.Model{}, err
	}
	m.Kind = model.Kind(kind)
	m.Status = model.Status(status)
	m.ModelPath = modelPath.String
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &m.Config)
	}
	if len(metricsRaw) > 0 {
		_ = json.Unmarshal(metricsRaw, &m.Metrics)
	}
	if len(resourcesRaw) > 0 {
		_ = json.Unmarshal(resourcesRaw, &m.Resources)
	}
	return m, nil
}

const modelColumns = `id, name, kind, provider, use_case, version, status, model_path, config, metrics, resources, created_at, updated_at`

func (s *Store) Get(ctx context.Context, modelID string) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1`, modelID)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return model.Model{}, errors.NotFound("model", modelID)
	}
	if err != nil {
		return model.Model{}, errors.Internal("scan model", err)
	}
	return m, nil
}

// GetCurrent mirrors model_registry.py's get_current_model: the most
// recently updated row with status='current' for the use case.
func (s *Store) GetCurrent(ctx context.Context, useCase string) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+modelColumns+`
		FROM models
		WHERE use_case = $1 AND status = 'current'
		ORDER BY updated_at DESC
		LIMIT 1
	`, useCase)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return model.Model{}, errors.NotFound("current model", useCase)
	}
	if err != nil {
		return model.Model{}, errors.Internal("scan current model", err)
	}
	return m, nil
}

func (s *Store) ListCandidates(ctx context.Context, useCase string) ([]model.Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+modelColumns+`
		FROM models
		WHERE use_case = $1 AND status = 'candidate'
		ORDER BY created_at
	`, useCase)
	if err != nil {
		return nil, errors.Internal("query candidate models", err)
	}
	defer rows.Close()

	var out []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, errors.Internal("scan candidate model", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateStatus enforces the single-current-per-use-case invariant in one
// transaction: promoting newStatus to current demotes any other current
// model sharing the same use_case first.
func (s *Store) UpdateStatus(ctx context.Context, modelID string, newStatus model.Status) (model.Model, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Model{}, errors.Internal("begin transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowxContext(ctx, `SELECT use_case FROM models WHERE id = $1 FOR UPDATE`, modelID)
	var useCase string
	if err := row.Scan(&useCase); err == sql.ErrNoRows {
		return model.Model{}, errors.NotFound("model", modelID)
	} else if err != nil {
		return model.Model{}, errors.Internal("lock model row", err)
	}

	now := time.Now().UTC()
	if newStatus == model.StatusCurrent {
		if _, err := tx.ExecContext(ctx, `
			UPDATE models SET status = 'deprecated', updated_at = $1
			WHERE use_case = $2 AND status = 'current' AND id != $3
		`, now, useCase, modelID); err != nil {
			return model.Model{}, errors.Internal("demote current model", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE models SET status = $1, updated_at = $2 WHERE id = $3
	`, string(newStatus), now, modelID); err != nil {
		return model.Model{}, errors.Internal("update model status", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Model{}, errors.Internal("commit status update", err)
	}
	return s.Get(ctx, modelID)
}

func (s *Store) UpdatePerformance(ctx context.Context, modelID string, metrics model.Metrics) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return errors.Internal("marshal metrics", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE models SET metrics = $1, updated_at = $2 WHERE id = $3
	`, metricsJSON, time.Now().UTC(), modelID)
	if err != nil {
		return errors.Internal("update model performance", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("model", modelID)
	}
	return nil
}

func (s *Store) UpdateConfig(ctx context.Context, modelID string, patch model.Config) (model.Model, error) {
	existing, err := s.Get(ctx, modelID)
	if err != nil {
		return model.Model{}, err
	}
	merged := make(model.Config, len(existing.Config)+len(patch))
	for k, v := range existing.Config {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return model.Model{}, errors.Internal("marshal merged config", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE models SET config = $1, updated_at = $2 WHERE id = $3
	`, mergedJSON, time.Now().UTC(), modelID); err != nil {
		return model.Model{}, errors.Internal("update model config", err)
	}
	return s.Get(ctx, modelID)
}
