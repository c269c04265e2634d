package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/playforge-studio/modelplane/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelplane",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelplane",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelplane",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	generateExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelplane",
			Subsystem: "generate",
			Name:      "executions_total",
			Help:      "Total number of LLM Client Generate calls, by outcome.",
		},
		[]string{"layer", "status"},
	)

	generateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelplane",
			Subsystem: "generate",
			Name:      "execution_duration_seconds",
			Help:      "Duration of LLM Client Generate calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"layer", "status"},
	)

	fineTuneJobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelplane",
			Subsystem: "finetune",
			Name:      "job_submissions_total",
			Help:      "Total number of fine-tuning job submissions, by outcome.",
		},
		[]string{"use_case", "success"},
	)

	fineTuneJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelplane",
			Subsystem: "finetune",
			Name:      "job_submission_duration_seconds",
			Help:      "Duration of the fine-tuning dataset-to-submission pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"use_case"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		generateExecutions,
		generateDuration,
		fineTuneJobRuns,
		fineTuneJobDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordGenerateExecution records one LLM Client Generate call. layer is the
// use case requested (e.g. "npc_dialogue"); status is "success" or
// "fallback".
func RecordGenerateExecution(layer, status string, duration time.Duration) {
	if layer == "" {
		layer = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	generateExecutions.WithLabelValues(layer, status).Inc()
	generateDuration.WithLabelValues(layer, status).Observe(duration.Seconds())
}

// RecordFineTuneJobRun records one fine-tuning job submission attempt.
func RecordFineTuneJobRun(useCase string, duration time.Duration, success bool) {
	if useCase == "" {
		useCase = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	fineTuneJobRuns.WithLabelValues(useCase, result).Inc()
	fineTuneJobDuration.WithLabelValues(useCase).Observe(duration.Seconds())
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus
// metrics: an in-flight gauge and a duration histogram labeled by the
// "resource" key in the call's meta map (falling back to a handful of
// domain-specific id keys, then "unknown").
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["resource"]; ok && id != "" {
		return id
	}
	if id, ok := meta["use_case"]; ok && id != "" {
		return id
	}
	if id, ok := meta["model_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// GenerateDispatchHooks captures LLM Client Generate calls, keyed by use
// case.
func GenerateDispatchHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "generate", "dispatch")
}

// RouterSelectHooks captures Cost-Benefit Router candidate selection calls.
func RouterSelectHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "router", "select")
}

// GuardrailsMonitorHooks captures Guardrails Monitor scoring passes.
func GuardrailsMonitorHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "guardrails", "monitor")
}

// DeploymentHooks captures Deployment Manager rollouts.
func DeploymentHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "deployment", "rollout")
}

// RollbackHooks captures Rollback Manager restores.
func RollbackHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "rollback", "restore")
}

// FineTuneSubmissionHooks captures fine-tuning job submission attempts.
func FineTuneSubmissionHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "finetune", "submission")
}

// MetaLoopCycleHooks captures the meta-loop's per-use-case cycle passes.
func MetaLoopCycleHooks() core.ObservationHooks {
	return ObservationHooks("modelplane", "metaloop", "cycle")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters into a fixed label so
// high-cardinality values (model IDs, job IDs) never become a Prometheus
// label value.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/v1"
	}

	resource := parts[1]
	switch {
	case resource == "models" && len(parts) >= 3:
		switch parts[2] {
		case "current", "candidates", "check-for-better":
			return "/v1/models/" + parts[2]
		default:
			return "/v1/models/:id"
		}
	case resource == "guardrails" && len(parts) >= 3:
		return "/v1/guardrails/" + parts[2]
	default:
		return "/v1/" + resource
	}
}
