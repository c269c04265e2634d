package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/playforge-studio/modelplane/internal/app/domain/guardrails"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

const (
	defaultModeratorTimeout   = 10 * time.Second
	defaultModeratorBodyLimit = int64(1 << 20)
)

// KeywordModerator is the zero-dependency fallback moderator: it flags an
// output when a keyword from its fixed severity table appears. Each
// keyword carries its own severity (per guardrails_monitor.py's
// harmful_keywords tables) rather than being scored by fraction of
// keywords matched, so a single hit on a critical keyword ("kill
// yourself") stays critical regardless of how many other keywords exist in
// the table. Used when no external moderation provider is configured, or
// as a sidecar signal alongside one.
type KeywordModerator struct {
	category string
	entries  []keywordSeverity
}

type keywordSeverity struct {
	keyword  string
	severity guardrails.Severity
}

// NewKeywordModerator builds a keyword-based moderator for category from a
// severity table mapping each fixed severity to the keywords that trigger
// it (matched case-insensitively).
func NewKeywordModerator(category string, table map[guardrails.Severity][]string) *KeywordModerator {
	var entries []keywordSeverity
	for severity, keywords := range table {
		for _, k := range keywords {
			entries = append(entries, keywordSeverity{keyword: strings.ToLower(k), severity: severity})
		}
	}
	return &KeywordModerator{category: category, entries: entries}
}

// Moderate implements ContentModerator. The worst severity among matched
// keywords wins per output.
func (m *KeywordModerator) Moderate(_ context.Context, outputs []string) ([]ModerationResult, error) {
	results := make([]ModerationResult, 0, len(outputs))
	for _, out := range outputs {
		lower := strings.ToLower(out)
		var worst guardrails.Severity
		matched := false
		for _, e := range m.entries {
			if strings.Contains(lower, e.keyword) {
				matched = true
				if severityRank(e.severity) > severityRank(worst) {
					worst = e.severity
				}
			}
		}
		results = append(results, ModerationResult{
			Category: m.category,
			Score:    severityWeight(worst),
			Flagged:  matched,
			Severity: worst,
		})
	}
	return results, nil
}

// severityRank orders severities low to high so callers can track the
// worst one seen across several matches or results.
func severityRank(s guardrails.Severity) int {
	switch s {
	case guardrails.SeverityCritical:
		return 3
	case guardrails.SeverityHigh:
		return 2
	case guardrails.SeverityMedium:
		return 1
	default:
		return 0
	}
}

// severityWeight gives a fixed severity a representative 0..1 score for
// MonitoringResult.PerCategoryScores, which existed before per-keyword
// severities did and still reports a number alongside Pass/Fail.
func severityWeight(s guardrails.Severity) float64 {
	switch s {
	case guardrails.SeverityCritical:
		return 1.0
	case guardrails.SeverityHigh:
		return 0.75
	case guardrails.SeverityMedium:
		return 0.5
	default:
		return 0
	}
}

// HTTPModerator calls an external moderation API (e.g. an OpenAI-compatible
// moderation endpoint) over HTTP, falling back to a KeywordModerator when
// the call fails so Monitor can still attest "cannot confirm compliant"
// rather than erroring the whole request.
type HTTPModerator struct {
	endpoint string
	apiKey   string
	category string
	client   *http.Client
	fallback *KeywordModerator
	log      *logger.Logger
}

// NewHTTPModerator constructs an HTTP-backed moderator. client defaults to
// one with defaultModeratorTimeout when nil.
func NewHTTPModerator(endpoint, apiKey, category string, client *http.Client, fallback *KeywordModerator, log *logger.Logger) *HTTPModerator {
	if client == nil {
		client = &http.Client{Timeout: defaultModeratorTimeout}
	}
	if log == nil {
		log = logger.NewDefault("guardrails-moderator")
	}
	return &HTTPModerator{endpoint: endpoint, apiKey: apiKey, category: category, client: client, fallback: fallback, log: log}
}

type moderationRequest struct {
	Input []string `json:"input"`
}

type moderationResponseItem struct {
	Flagged    bool               `json:"flagged"`
	Categories map[string]bool    `json:"categories"`
	Scores     map[string]float64 `json:"category_scores"`
}

type moderationResponse struct {
	Results []moderationResponseItem `json:"results"`
}

// Moderate implements ContentModerator.
func (m *HTTPModerator) Moderate(ctx context.Context, outputs []string) ([]ModerationResult, error) {
	body, err := json.Marshal(moderationRequest{Input: outputs})
	if err != nil {
		return nil, fmt.Errorf("encode moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return m.fallbackOrError(ctx, outputs, fmt.Errorf("execute moderation request: %w", err))
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, defaultModeratorBodyLimit)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return m.fallbackOrError(ctx, outputs, fmt.Errorf("read moderation response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return m.fallbackOrError(ctx, outputs, fmt.Errorf("moderation endpoint returned status %d", resp.StatusCode))
	}

	var parsed moderationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return m.fallbackOrError(ctx, outputs, fmt.Errorf("decode moderation response: %w", err))
	}

	results := make([]ModerationResult, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		score := maxScore(item.Scores)
		results = append(results, ModerationResult{Category: m.category, Score: score, Flagged: item.Flagged})
	}
	return results, nil
}

func (m *HTTPModerator) fallbackOrError(ctx context.Context, outputs []string, cause error) ([]ModerationResult, error) {
	m.log.WithField("error", cause).Warn("moderation endpoint unreachable; falling back to keyword scan")
	if m.fallback == nil {
		return nil, cause
	}
	return m.fallback.Moderate(ctx, outputs)
}

func maxScore(scores map[string]float64) float64 {
	var max float64
	for _, v := range scores {
		if v > max {
			max = v
		}
	}
	return max
}
