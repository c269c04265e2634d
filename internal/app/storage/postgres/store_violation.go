package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

// ViolationStore implementation.

func (s *Store) CreateViolation(ctx context.Context, v guardrails.Violation) (guardrails.Violation, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	detailsJSON, err := json.Marshal(v.Details)
	if err != nil {
		return guardrails.Violation{}, errors.Internal("marshal violation details", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guardrails_violations (id, model_id, category, severity, details, sample_output, intervention)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.ModelID, string(v.Category), string(v.Severity), detailsJSON, v.SampleOutput, toNullString(v.Intervention))
	if err != nil {
		return guardrails.Violation{}, errors.Internal("insert violation", err)
	}
	return v, nil
}

func (s *Store) ListByModel(ctx context.Context, modelID string, limit int) ([]guardrails.Violation, error) {
	query := `
		SELECT id, model_id, category, severity, details, sample_output, intervention
		FROM guardrails_violations WHERE model_id = $1 ORDER BY id DESC`
	args := []interface{}{modelID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Internal("query violations", err)
	}
	defer rows.Close()

	var out []guardrails.Violation
	for rows.Next() {
		var (
			v                         guardrails.Violation
			category, severity        string
			detailsRaw                []byte
			intervention               sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.ModelID, &category, &severity, &detailsRaw, &v.SampleOutput, &intervention); err != nil {
			return nil, errors.Internal("scan violation", err)
		}
		v.Category = guardrails.Category(category)
		v.Severity = guardrails.Severity(severity)
		v.Intervention = intervention.String
		if detailsRaw != nil {
			_ = json.Unmarshal(detailsRaw, &v.Details)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
