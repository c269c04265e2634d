package finetune

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/internal/app/domain/inferencelog"
)

const (
	qualityThreshold   = 0.7
	maxCollectedLogs   = 10000
	trainSplitFraction = 0.8
)

// toExample transforms one historical log into a training example per
// spec.md §4.2's quality rule, already implemented on inferencelog.Log.
func toExample(log inferencelog.Log) finetune.Example {
	text := log.Output
	label := log.Output
	if log.CorrectedOutput != "" {
		text = log.CorrectedOutput
		label = log.CorrectedOutput
	}

	ex := finetune.Example{
		Text:    log.Prompt + "\n\n" + text,
		Label:   label,
		Quality: log.Quality(),
		Metadata: map[string]interface{}{
			"model_id": log.ModelID,
			"use_case": log.UseCase,
			"log_id":   log.ID,
		},
	}
	if v, ok := log.Feedback["reasoning_trace"].(string); ok {
		ex.ReasoningTrace = v
	}
	if v, ok := log.Feedback["verification_result"].(string); ok {
		ex.VerificationResult = v
	}
	return ex
}

// filterQuality keeps only examples at or above the minimum quality bar.
// Corrected-output examples always score 1.0 and pass automatically.
func filterQuality(examples []finetune.Example) []finetune.Example {
	out := make([]finetune.Example, 0, len(examples))
	for _, ex := range examples {
		if ex.Quality >= qualityThreshold {
			out = append(out, ex)
		}
	}
	return out
}

// mergeAndDedupe combines transformed log examples with caller-supplied
// seed examples, deduping by a hash of the normalized input text — later
// occurrences of an already-seen input are dropped, so seed examples
// (merged second) never displace a log-derived example with the same
// input.
func mergeAndDedupe(fromLogs, seed []finetune.Example) []finetune.Example {
	seen := make(map[string]bool, len(fromLogs)+len(seed))
	out := make([]finetune.Example, 0, len(fromLogs)+len(seed))

	for _, batch := range [][]finetune.Example{fromLogs, seed} {
		for _, ex := range batch {
			key := normalizedInputHash(ex.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ex)
		}
	}
	return out
}

func normalizedInputHash(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// splitDataset performs an 80/20 train/validation split after a
// deterministic shuffle seeded from jobID, per spec.md §4.9 step 5 — the
// same job always produces the same split given the same input set.
func splitDataset(examples []finetune.Example, jobID string) (train, val []finetune.Example) {
	shuffled := make([]finetune.Example, len(examples))
	copy(shuffled, examples)

	rng := rand.New(rand.NewSource(seedFromJobID(jobID)))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	splitIndex := int(float64(len(shuffled)) * trainSplitFraction)
	return shuffled[:splitIndex], shuffled[splitIndex:]
}

func seedFromJobID(jobID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	return int64(h.Sum64())
}

// chatTemplate selects a formatter by base model name, per spec.md §4.9
// step 6's Llama/Mistral/generic detection table.
func chatTemplate(baseModelName string) func(finetune.Example) string {
	lower := strings.ToLower(baseModelName)
	switch {
	case strings.Contains(lower, "llama"):
		return formatLlama
	case strings.Contains(lower, "mistral"):
		return formatMistral
	default:
		return formatGeneric
	}
}

func formatLlama(ex finetune.Example) string {
	return "<s>[INST] " + ex.Text + " [/INST] " + ex.Label + " </s>"
}

func formatMistral(ex finetune.Example) string {
	return "[INST] " + ex.Text + " [/INST] " + ex.Label
}

func formatGeneric(ex finetune.Example) string {
	return "USER: " + ex.Text + "\n\nASSISTANT: " + ex.Label
}

// jsonlRecord is one line of the uploaded JSONL dataset.
type jsonlRecord struct {
	Text               string                 `json:"text"`
	Label              string                 `json:"label"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	ReasoningTrace     string                 `json:"reasoning_trace,omitempty"`
	VerificationResult string                 `json:"verification_result,omitempty"`
}
