// Package model defines the Model entity: the authoritative catalog record
// for a single LLM backend the router and deployment manager can select.
package model

import "time"

// Kind distinguishes hosted (per-token billed) models from self-served ones.
type Kind string

const (
	KindHosted     Kind = "hosted"
	KindSelfServed Kind = "self_served"
)

// Status is the lifecycle state of a Model.
type Status string

const (
	StatusCandidate   Status = "candidate"
	StatusTesting      Status = "testing"
	StatusCurrent      Status = "current"
	StatusDeprecated   Status = "deprecated"
	StatusNeedsReview  Status = "needs_review"
	StatusFailed       Status = "failed"
)

// ValidStatus reports whether s is one of the recognized lifecycle statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusCandidate, StatusTesting, StatusCurrent, StatusDeprecated, StatusNeedsReview, StatusFailed:
		return true
	default:
		return false
	}
}

// Config is the model's shallow-mergeable configuration document: endpoint,
// adapter reference, LoRA rank, traffic_percentage, block_outputs, and any
// other per-model settings. Kept as a dynamic map rather than a closed
// struct per the "typed view per component" design note — callers that
// need a specific field read it directly (e.g. Config["endpoint"]).
type Config map[string]interface{}

// Metrics is the model's last-known, advisory performance metrics document
// (accuracy, coherence, relevance, user_rating, total_price, and similar).
type Metrics map[string]interface{}

// Resources is an advisory resource-hint document (gpu class, memory, etc.).
type Resources map[string]interface{}

// Model is the authoritative catalog record described in spec §3.
type Model struct {
	ID        string
	Name      string
	Kind      Kind
	Provider  string
	UseCase   string
	Version   string
	Status    Status
	ModelPath string // self-hosted artifact path; empty for hosted models
	Config    Config
	Metrics   Metrics
	Resources Resources
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep-enough copy safe to hand back from an in-memory
// store without sharing the caller's map values.
func (m Model) Clone() Model {
	out := m
	out.Config = cloneMap(m.Config)
	out.Metrics = cloneMap(m.Metrics)
	out.Resources = cloneMap(m.Resources)
	return out
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
