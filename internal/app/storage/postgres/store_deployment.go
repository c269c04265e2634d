package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/deployment"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

// DeploymentStore implementation.

func (s *Store) CreateDeployment(ctx context.Context, d deployment.Deployment) (deployment.Deployment, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.StartTime.IsZero() {
		d.StartTime = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, model_id, strategy, status, traffic_percent, start_time, complete_time, rollback_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.ModelID, string(d.Strategy), string(d.Status), d.TrafficPercent, d.StartTime,
		toNullTime(d.CompleteTime), toNullString(d.RollbackReason))
	if err != nil {
		return deployment.Deployment{}, errors.Internal("insert deployment", err)
	}
	return d, nil
}

const deploymentColumns = `id, model_id, strategy, status, traffic_percent, start_time, complete_time, rollback_reason`

func scanDeployment(row interface{ Scan(...interface{}) error }) (deployment.Deployment, error) {
	var (
		d                        deployment.Deployment
		strategy, status         string
		completeTime             sql.NullTime
		rollbackReason           sql.NullString
	)
	if err := row.Scan(&d.ID, &d.ModelID, &strategy, &status, &d.TrafficPercent, &d.StartTime, &completeTime, &rollbackReason); err != nil {
		return deployment.Deployment{}, err
	}
	d.Strategy = deployment.Strategy(strategy)
	d.Status = deployment.Status(status)
	if completeTime.Valid {
		t := completeTime.Time.UTC()
		d.CompleteTime = &t
	}
	d.RollbackReason = rollbackReason.String
	return d, nil
}

func (s *Store) GetDeployment(ctx context.Context, deploymentID string) (deployment.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, deploymentID)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return deployment.Deployment{}, errors.NotFound("deployment", deploymentID)
	}
	if err != nil {
		return deployment.Deployment{}, errors.Internal("scan deployment", err)
	}
	return d, nil
}

func (s *Store) InProgress(ctx context.Context, modelID string) (deployment.Deployment, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments
		WHERE model_id = $1 AND status = 'in_progress'
		ORDER BY start_time DESC LIMIT 1
	`, modelID)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return deployment.Deployment{}, false, nil
	}
	if err != nil {
		return deployment.Deployment{}, false, errors.Internal("query in-progress deployment", err)
	}
	return d, true, nil
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, deploymentID string, status deployment.Status, reason string) (deployment.Deployment, error) {
	var completeTime sql.NullTime
	if status != deployment.StatusInProgress {
		completeTime = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = $1, rollback_reason = $2, complete_time = $3 WHERE id = $4
	`, string(status), toNullString(reason), completeTime, deploymentID)
	if err != nil {
		return deployment.Deployment{}, errors.Internal("update deployment status", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return deployment.Deployment{}, errors.NotFound("deployment", deploymentID)
	}
	return s.GetDeployment(ctx, deploymentID)
}

func (s *Store) UpdateTraffic(ctx context.Context, deploymentID string, percent int) (deployment.Deployment, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE deployments SET traffic_percent = $1 WHERE id = $2`, percent, deploymentID)
	if err != nil {
		return deployment.Deployment{}, errors.Internal("update deployment traffic", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return deployment.Deployment{}, errors.NotFound("deployment", deploymentID)
	}
	return s.GetDeployment(ctx, deploymentID)
}
