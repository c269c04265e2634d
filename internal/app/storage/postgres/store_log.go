package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/inferencelog"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

// LogStore implementation. Log/Query use plain database/sql; Aggregate uses
// sqlx for the percentile rollup query, grounded on the aggregate reporting
// queries in original_source/services/model_management/.

func (s *Store) Log(ctx context.Context, entry inferencelog.Log) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return "", errors.Internal("marshal log context", err)
	}
	feedbackJSON, err := json.Marshal(entry.Feedback)
	if err != nil {
		return "", errors.Internal("marshal log feedback", err)
	}
	metricsJSON, err := json.Marshal(entry.Metrics)
	if err != nil {
		return "", errors.Internal("marshal log metrics", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inference_logs (id, model_id, use_case, prompt, context, output, feedback, corrected_output, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.ModelID, entry.UseCase, entry.Prompt, contextJSON, entry.Output, feedbackJSON,
		toNullString(entry.CorrectedOutput), metricsJSON, entry.CreatedAt)
	if err != nil {
		return "", errors.Internal("insert inference log", err)
	}
	return entry.ID, nil
}

const logColumns = `id, model_id, use_case, prompt, context, output, feedback, corrected_output, metrics, created_at`

func scanLog(row interface{ Scan(...interface{}) error }) (inferencelog.Log, error) {
	var (
		l                         inferencelog.Log
		contextRaw, feedbackRaw   []byte
		metricsRaw                []byte
		correctedOutput           *string
	)
	if err := row.Scan(&l.ID, &l.ModelID, &l.UseCase, &l.Prompt, &contextRaw, &l.Output, &feedbackRaw,
		&correctedOutput, &metricsRaw, &l.CreatedAt); err != nil {
		return inferencelog.Log{}, err
	}
	if contextRaw != nil {
		_ = json.Unmarshal(contextRaw, &l.Context)
	}
	if feedbackRaw != nil {
		_ = json.Unmarshal(feedbackRaw, &l.Feedback)
	}
	if metricsRaw != nil {
		_ = json.Unmarshal(metricsRaw, &l.Metrics)
	}
	if correctedOutput != nil {
		l.CorrectedOutput = *correctedOutput
	}
	return l, nil
}

func (s *Store) Query(ctx context.Context, q storage.LogQuery) ([]inferencelog.Log, error) {
	query := `SELECT ` + logColumns + ` FROM inference_logs WHERE ($1 = '' OR model_id = $1) AND ($2 = '' OR use_case = $2)
		AND ($3::timestamptz IS NULL OR created_at >= $3) AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC`
	args := []interface{}{q.ModelID, q.UseCase, nullableTime(q.Since), nullableTime(q.Until)}
	if q.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Internal("query inference logs", err)
	}
	defer rows.Close()

	var out []inferencelog.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, errors.Internal("scan inference log", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// Aggregate reports the health rollup a window of logs for modelID produces:
// error rate, p50/p95 latency, and average training-quality score. Latency
// percentiles use postgres's PERCENTILE_CONT; quality is computed in Go
// since Quality() encodes a rule (CorrectedOutput short-circuits to 1.0)
// that isn't expressible as a plain column aggregate.
func (s *Store) Aggregate(ctx context.Context, modelID string, window time.Duration) (storage.Aggregate, error) {
	var agg storage.Aggregate

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE metrics->>'Error' IS NOT NULL AND metrics->>'Error' != ''),
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY (metrics->>'LatencyMs')::bigint), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY (metrics->>'LatencyMs')::bigint), 0)
		FROM inference_logs
		WHERE model_id = $1 AND created_at >= $2
	`, modelID, time.Now().UTC().Add(-window))

	var p50Ms, p95Ms float64
	if err := row.Scan(&agg.Total, &agg.Errors, &p50Ms, &p95Ms); err != nil {
		return storage.Aggregate{}, errors.Internal("aggregate inference logs", err)
	}
	agg.P50Latency = time.Duration(p50Ms) * time.Millisecond
	agg.P95Latency = time.Duration(p95Ms) * time.Millisecond

	if agg.Total > 0 {
		rows, err := s.Query(ctx, storage.LogQuery{ModelID: modelID, Since: time.Now().UTC().Add(-window)})
		if err != nil {
			return storage.Aggregate{}, err
		}
		var sum float64
		for _, l := range rows {
			sum += l.Quality()
		}
		agg.AvgQuality = sum / float64(len(rows))
	}
	return agg, nil
}
