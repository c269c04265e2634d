package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestInstrumentHandlerRecordsMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models/current", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "modelplane_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/v1/models/current",
		"status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}

	if !metricHistogramCountGreaterOrEqual(t, "modelplane_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"path":   "/v1/models/current",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func TestRecordGenerateExecution(t *testing.T) {
	RecordGenerateExecution("npc_dialogue", "success", 250*time.Millisecond)
	if !metricCounterGreaterOrEqual(t, "modelplane_generate_executions_total", map[string]string{
		"layer":  "npc_dialogue",
		"status": "success",
	}, 1) {
		t.Fatalf("expected generate execution counter to increase")
	}
	if !metricHistogramCountGreaterOrEqual(t, "modelplane_generate_execution_duration_seconds", map[string]string{
		"layer":  "npc_dialogue",
		"status": "success",
	}, 1) {
		t.Fatalf("expected generate duration histogram to record")
	}

	// Empty layer and non-positive duration both fall back to safe defaults.
	RecordGenerateExecution("", "fallback", 0)
	if !metricCounterGreaterOrEqual(t, "modelplane_generate_executions_total", map[string]string{
		"layer":  "unknown",
		"status": "fallback",
	}, 1) {
		t.Fatalf("expected generate execution counter with unknown layer")
	}
}

func TestRecordFineTuneJobRun(t *testing.T) {
	RecordFineTuneJobRun("story_generation", 5*time.Second, true)
	if !metricCounterGreaterOrEqual(t, "modelplane_finetune_job_submissions_total", map[string]string{
		"use_case": "story_generation",
		"success":  "true",
	}, 1) {
		t.Fatalf("expected fine-tune job counter to increase")
	}
	if !metricHistogramCountGreaterOrEqual(t, "modelplane_finetune_job_submission_duration_seconds", map[string]string{
		"use_case": "story_generation",
	}, 1) {
		t.Fatalf("expected fine-tune duration histogram to record")
	}

	RecordFineTuneJobRun("", 0, false)
	if !metricCounterGreaterOrEqual(t, "modelplane_finetune_job_submissions_total", map[string]string{
		"use_case": "unknown",
		"success":  "false",
	}, 1) {
		t.Fatalf("expected fine-tune job counter with unknown use case")
	}
}

func metricCounterGreaterOrEqual(t *testing.T, name string, labels map[string]string, min float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue() >= min
			}
		}
	}
	return false
}

func metricHistogramCountGreaterOrEqual(t *testing.T, name string, labels map[string]string, min uint64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetHistogram() != nil {
				return metric.GetHistogram().GetSampleCount() >= min
			}
		}
	}
	return false
}

func labelsMatch(metric *io_prometheus_client.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	matched := 0
	for _, lbl := range metric.GetLabel() {
		if val, ok := labels[lbl.GetName()]; ok && val == lbl.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/healthz", "/healthz"},
		{"/system/status", "/system"},
		{"/v1", "/v1"},
		{"/v1/models/current", "/v1/models/current"},
		{"/v1/models/candidates", "/v1/models/candidates"},
		{"/v1/models/check-for-better", "/v1/models/check-for-better"},
		{"/v1/models/mdl-123", "/v1/models/:id"},
		{"/v1/models", "/v1/models"},
		{"/v1/guardrails/monitor", "/v1/guardrails/monitor"},
		{"/v1/generate", "/v1/generate"},
		{"v1/models/current", "/v1/models/current"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := canonicalPath(tt.input)
			if result != tt.expected {
				t.Errorf("canonicalPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", sr.status)
	}

	rec2 := httptest.NewRecorder()
	sr2 := &statusRecorder{ResponseWriter: rec2, status: 0}
	n, err := sr2.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}
	if sr2.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", sr2.status)
	}

	rec3 := httptest.NewRecorder()
	sr3 := &statusRecorder{ResponseWriter: rec3, status: http.StatusCreated}
	sr3.Write([]byte("test"))
	if sr3.status != http.StatusCreated {
		t.Errorf("expected status 201 preserved, got %d", sr3.status)
	}
}

func TestMetaLabel(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]string
		expected string
	}{
		{"nil map", nil, "unknown"},
		{"empty map", map[string]string{}, "unknown"},
		{"resource key", map[string]string{"resource": "res-1"}, "res-1"},
		{"use_case key", map[string]string{"use_case": "npc_dialogue"}, "npc_dialogue"},
		{"model_id key", map[string]string{"model_id": "mdl-1"}, "mdl-1"},
		{"resource takes precedence", map[string]string{"resource": "res-1", "use_case": "npc_dialogue"}, "res-1"},
		{"empty resource falls through", map[string]string{"resource": "", "use_case": "npc_dialogue"}, "npc_dialogue"},
		{"all empty returns unknown", map[string]string{"resource": "", "use_case": ""}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := metaLabel(tt.meta)
			if result != tt.expected {
				t.Errorf("metaLabel(%v) = %q, want %q", tt.meta, result, tt.expected)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler() should return non-nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics response")
	}
}

func TestInstrumentHandlerMetricsPathPassthrough(t *testing.T) {
	called := false
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /metrics path to pass through to handler")
	}
}

func TestObservationHooks(t *testing.T) {
	hooks := ObservationHooks("test_ns", "test_sub", "test_op")

	if hooks.OnStart == nil {
		t.Fatal("OnStart should not be nil")
	}
	if hooks.OnComplete == nil {
		t.Fatal("OnComplete should not be nil")
	}

	hooks.OnStart(nil, map[string]string{"resource": "test-res"})
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, nil, 100*time.Millisecond)
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, fmt.Errorf("test error"), 50*time.Millisecond)

	// Calling again for the same key must return hooks backed by the same
	// cached collector rather than re-registering with Prometheus.
	hooks2 := ObservationHooks("test_ns", "test_sub", "test_op")
	if hooks2.OnStart == nil || hooks2.OnComplete == nil {
		t.Fatal("cached hooks should be valid")
	}
}

func TestDomainHookFactories(t *testing.T) {
	factories := []struct {
		name string
		fn   func() interface{}
	}{
		{"GenerateDispatchHooks", func() interface{} { return GenerateDispatchHooks() }},
		{"RouterSelectHooks", func() interface{} { return RouterSelectHooks() }},
		{"GuardrailsMonitorHooks", func() interface{} { return GuardrailsMonitorHooks() }},
		{"DeploymentHooks", func() interface{} { return DeploymentHooks() }},
		{"RollbackHooks", func() interface{} { return RollbackHooks() }},
		{"FineTuneSubmissionHooks", func() interface{} { return FineTuneSubmissionHooks() }},
		{"MetaLoopCycleHooks", func() interface{} { return MetaLoopCycleHooks() }},
	}

	for _, tt := range factories {
		t.Run(tt.name, func(t *testing.T) {
			if tt.fn() == nil {
				t.Errorf("%s() returned nil", tt.name)
			}
		})
	}
}
