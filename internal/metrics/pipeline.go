package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval pipeline Prometheus metrics.
var (
	RerankRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coverquery",
			Name:      "rerank_requests_total",
			Help:      "Total number of rerank service calls",
		},
		[]string{"status"}, // "ok" / "error"
	)

	PipelineFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coverquery",
			Name:      "pipeline_fallback_total",
			Help:      "Degraded-mode activations by pipeline stage",
		},
		[]string{"stage"}, // "rewrite" / "retrieval_retry" / "rerank"
	)

	SyncDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coverquery",
			Name:      "sync_documents_total",
			Help:      "Corpus documents processed during synchronization",
		},
		[]string{"result"}, // "unchanged" / "updated" / "added" / "removed" / "failed"
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coverquery",
			Name:      "generation_request_duration_seconds",
			Help:      "Answer generation duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "status"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers the retrieval pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(RerankRequestsTotal)
	prometheus.MustRegister(PipelineFallbackTotal)
	prometheus.MustRegister(SyncDocumentsTotal)
	prometheus.MustRegister(GenerationRequestDuration)
	pipelineMetricsRegistered = true
}
