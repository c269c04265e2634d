package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

// FineTuneStore implementation, grounded on the fine-tuning job ledger in
// original_source/services/model_management/fine_tuning_pipeline.py.

func (s *Store) CreateJob(ctx context.Context, j finetune.Job) (finetune.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = finetune.StatusPreparing
	}
	hpJSON, err := json.Marshal(j.Hyperparameters)
	if err != nil {
		return finetune.Job{}, errors.Internal("marshal hyperparameters", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO finetune_jobs (id, base_model_id, use_case, training_job_handle, hyperparameters, dataset_train_uri, dataset_val_uri, status, validation_metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, j.ID, j.BaseModelID, j.UseCase, toNullString(j.TrainingJobHandle), hpJSON, j.DatasetTrainURI, j.DatasetValURI,
		string(j.Status), mustMarshal(j.ValidationMetrics))
	if err != nil {
		return finetune.Job{}, errors.Internal("insert finetune job", err)
	}
	return j, nil
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

const finetuneColumns = `id, base_model_id, use_case, training_job_handle, hyperparameters, dataset_train_uri, dataset_val_uri, status, validation_metrics`

func scanJob(row interface{ Scan(...interface{}) error }) (finetune.Job, error) {
	var (
		j                   finetune.Job
		status              string
		trainingJobHandle   sql.NullString
		hpRaw, metricsRaw   []byte
	)
	if err := row.Scan(&j.ID, &j.BaseModelID, &j.UseCase, &trainingJobHandle, &hpRaw, &j.DatasetTrainURI, &j.DatasetValURI, &status, &metricsRaw); err != nil {
		return finetune.Job{}, err
	}
	j.Status = finetune.Status(status)
	j.TrainingJobHandle = trainingJobHandle.String
	if hpRaw != nil {
		_ = json.Unmarshal(hpRaw, &j.Hyperparameters)
	}
	if metricsRaw != nil {
		_ = json.Unmarshal(metricsRaw, &j.ValidationMetrics)
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (finetune.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+finetuneColumns+` FROM finetune_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return finetune.Job{}, errors.NotFound("fine-tune job", jobID)
	}
	if err != nil {
		return finetune.Job{}, errors.Internal("scan finetune job", err)
	}
	return j, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status finetune.Status) (finetune.Job, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE finetune_jobs SET status = $1 WHERE id = $2`, string(status), jobID)
	if err != nil {
		return finetune.Job{}, errors.Internal("update finetune job status", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return finetune.Job{}, errors.NotFound("fine-tune job", jobID)
	}
	return s.GetJob(ctx, jobID)
}

func (s *Store) SetValidationMetrics(ctx context.Context, jobID string, metrics map[string]interface{}) (finetune.Job, error) {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return finetune.Job{}, errors.Internal("marshal validation metrics", err)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE finetune_jobs SET validation_metrics = $1 WHERE id = $2`, metricsJSON, jobID)
	if err != nil {
		return finetune.Job{}, errors.Internal("set validation metrics", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return finetune.Job{}, errors.NotFound("fine-tune job", jobID)
	}
	return s.GetJob(ctx, jobID)
}
