// Package historicallog implements the Historical Log Store (C2): the
// append-only record of realized Generate calls, used for health rollups
// and fine-tuning dataset assembly.
package historicallog

import (
	"context"
	"time"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/playforge-studio/modelplane/internal/app/domain/inferencelog"
	"github.com/playforge-studio/modelplane/internal/app/storage"
	"github.com/playforge-studio/modelplane/infrastructure/errors"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// Service records and queries inference logs.
type Service struct {
	store storage.LogStore
	log   *logger.Logger
}

// New constructs a historicallog Service.
func New(store storage.LogStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("historicallog")
	}
	return &Service{store: store, log: log}
}

// Log appends an inference record. Errors here are swallowed by the
// inference hot path per spec.md §7's propagation policy (availability
// over completeness of audit) — this method still returns the error so
// callers that DO want to surface it (e.g. admin backfills) can.
func (s *Service) Log(ctx context.Context, entry inferencelog.Log) (string, error) {
	if entry.ModelID == "" {
		return "", errors.InvalidArgument("model_id", "required")
	}
	id, err := s.store.Log(ctx, entry)
	if err != nil {
		return "", errors.Internal("write inference log", err)
	}
	return id, nil
}

// Query returns entries matching q, most recent first.
func (s *Service) Query(ctx context.Context, q storage.LogQuery) ([]inferencelog.Log, error) {
	limit := core.ClampLimit(q.Limit, core.DefaultListLimit, core.MaxListLimit)
	q.Limit = limit
	return s.store.Query(ctx, q)
}

// Aggregate computes the health rollup (error rate, p50/p95 latency,
// average quality) for modelID over the trailing window.
func (s *Service) Aggregate(ctx context.Context, modelID string, window time.Duration) (storage.Aggregate, error) {
	if modelID == "" {
		return storage.Aggregate{}, errors.InvalidArgument("model_id", "required")
	}
	if window <= 0 {
		window = time.Hour
	}
	return s.store.Aggregate(ctx, modelID, window)
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "historicallog",
		Domain:       "model_management",
		Layer:        core.LayerData,
		Capabilities: []string{"log", "query", "aggregate"},
	}
}
