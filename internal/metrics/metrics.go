package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_runs_started_total",
			Help: "Total number of research runs started or resumed",
		},
		[]string{"mode"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_runs_finished_total",
			Help: "Total number of engine calls that returned, by resulting status and source",
		},
		[]string{"status", "source"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amri_run_duration_seconds",
			Help:    "Wall time of a single Start or Resume call",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	Revisions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amri_revisions",
			Help:    "Revision number reached by completed runs",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	// Step metrics
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amri_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_step_failures_total",
			Help: "Total number of failed step executions",
		},
		[]string{"step"},
	)

	Pauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amri_pauses_total",
			Help: "Total number of runs paused for human review",
		},
	)

	// Checkpoint metrics
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_checkpoint_writes_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"backend", "result"},
	)

	// Semantic cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_cache_lookups_total",
			Help: "Semantic cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	CacheSaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amri_cache_save_failures_total",
			Help: "Total number of swallowed semantic cache save failures",
		},
	)

	CacheDistance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amri_cache_nearest_distance",
			Help:    "Cosine distance of the nearest cached topic",
			Buckets: []float64{0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
		},
	)

	// Vector DB metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amri_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amri_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// External collaborator metrics
	ExternalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_external_calls_total",
			Help: "Calls to LLM and search providers",
		},
		[]string{"provider", "operation", "status"},
	)

	ExternalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amri_external_latency_seconds",
			Help:    "Latency of LLM and search provider calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amri_http_requests_total",
			Help: "Research API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// RecordRunMetrics records the outcome of one Start or Resume call
func RecordRunMetrics(mode, status, source string, durationSeconds float64) {
	if source == "" {
		source = "none"
	}
	RunsFinished.WithLabelValues(status, source).Inc()
	RunDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordStepMetrics records a single step execution
func RecordStepMetrics(step string, durationSeconds float64, failed bool) {
	StepDuration.WithLabelValues(step).Observe(durationSeconds)
	if failed {
		StepFailures.WithLabelValues(step).Inc()
	}
}

// RecordCheckpointWrite records a checkpoint write attempt
func RecordCheckpointWrite(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CheckpointWrites.WithLabelValues(backend, result).Inc()
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordExternalCall records an LLM or search provider round trip
func RecordExternalCall(provider, operation string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ExternalCalls.WithLabelValues(provider, operation, status).Inc()
	ExternalLatency.WithLabelValues(provider, operation).Observe(durationSeconds)
}
