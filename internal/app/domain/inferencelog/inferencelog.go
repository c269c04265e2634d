// Package inferencelog defines the InferenceLog entity: an append-only
// record of one realized Generate call, used for health aggregation and
// fine-tuning dataset assembly.
package inferencelog

import "time"

// Metrics captures the performance signals recorded with each log entry.
type Metrics struct {
	LatencyMs    int64
	TokensIn     int
	TokensOut    int
	Temperature  float64
	MaxTokens    int
	Error        string
	FallbackUsed bool
	Accuracy     *float64
	Coherence    *float64
	Relevance    *float64
	UserRating   *float64
}

// Log is one InferenceLog entry. Append-only: never mutated after write
// except for Feedback/CorrectedOutput.
type Log struct {
	ID              string
	ModelID         string
	UseCase         string
	Prompt          string
	Context         map[string]interface{}
	Output          string
	Feedback        map[string]interface{}
	CorrectedOutput string
	Metrics         Metrics
	CreatedAt       time.Time
}

// Quality computes the training-example quality for this log entry per the
// fine-tune pipeline's rule: use CorrectedOutput if present (quality 1.0);
// else average available metric signals {accuracy, coherence, relevance,
// user_rating} with weights {0.3, 0.3, 0.2, 0.2}, defaulting any missing
// signal to 0.5.
func (l Log) Quality() float64 {
	if l.CorrectedOutput != "" {
		return 1.0
	}
	weights := []float64{0.3, 0.3, 0.2, 0.2}
	values := []*float64{l.Metrics.Accuracy, l.Metrics.Coherence, l.Metrics.Relevance, l.Metrics.UserRating}
	var total float64
	for i, v := range values {
		signal := 0.5
		if v != nil {
			signal = *v
		}
		total += weights[i] * signal
	}
	return total
}
