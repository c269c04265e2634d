package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/playforge-studio/modelplane/internal/app/domain/snapshot"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
)

// SnapshotStore implementation. Rows are immutable once written.

func (s *Store) CreateSnapshot(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return snapshot.Snapshot{}, errors.Internal("marshal snapshot config", err)
	}
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return snapshot.Snapshot{}, errors.Internal("marshal snapshot metrics", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, model_id, config, metrics, traffic_percent, artifact_location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snap.ID, snap.ModelID, configJSON, metricsJSON, snap.TrafficPercent, snap.ArtifactLocation, snap.CreatedAt)
	if err != nil {
		return snapshot.Snapshot{}, errors.Internal("insert snapshot", err)
	}
	return snap, nil
}

const snapshotColumns = `id, model_id, config, metrics, traffic_percent, artifact_location, created_at`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (snapshot.Snapshot, error) {
	var (
		snap               snapshot.Snapshot
		configRaw, metricsRaw []byte
	)
	if err := row.Scan(&snap.ID, &snap.ModelID, &configRaw, &metricsRaw, &snap.TrafficPercent, &snap.ArtifactLocation, &snap.CreatedAt); err != nil {
		return snapshot.Snapshot{}, err
	}
	if configRaw != nil {
		_ = json.Unmarshal(configRaw, &snap.Config)
	}
	if metricsRaw != nil {
		_ = json.Unmarshal(metricsRaw, &snap.Metrics)
	}
	return snap, nil
}

func (s *Store) GetSnapshot(ctx context.Context, snapshotID string) (snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, snapshotID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return snapshot.Snapshot{}, errors.NotFound("snapshot", snapshotID)
	}
	if err != nil {
		return snapshot.Snapshot{}, errors.Internal("scan snapshot", err)
	}
	return snap, nil
}

func (s *Store) MostRecent(ctx context.Context, modelID string) (snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE model_id = $1 ORDER BY created_at DESC LIMIT 1
	`, modelID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return snapshot.Snapshot{}, errors.NotFound("snapshot for model", modelID)
	}
	if err != nil {
		return snapshot.Snapshot{}, errors.Internal("scan most recent snapshot", err)
	}
	return snap, nil
}
