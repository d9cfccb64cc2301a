package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Submissions       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_submissions_total", Help: "Analysis jobs submitted"})
	SubmitRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_submit_retries_total", Help: "Failed submission attempts"})
	SubmitsReused     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_submits_reused_total", Help: "Notifications answered with an already submitted job"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	Malformed         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_malformed_total", Help: "Messages dropped as malformed"}, []string{"queue"})
	Collected         = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_collected_total", Help: "Succeeded jobs persisted"})
	NotReady          = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_not_ready_total", Help: "Status checks that found the job still running"})
	Quarantined       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_jobs_quarantined_total", Help: "Records sent to quarantine"}, []string{"reason"})
	PagesPersisted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_pages_persisted_total", Help: "Page documents written"})
	Transformed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_objects_transformed_total", Help: "Objects normalised for analysis"}, []string{"mode"})
	AckFailures       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_ack_failures_total", Help: "Message deletes that failed"}, []string{"queue"})
	BatchItemFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_batch_item_failures_total", Help: "Messages left for redelivery"}, []string{"queue"})
	QueueDepthGauge   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pipeline_queue_depth", Help: "Messages waiting to be received"}, []string{"queue"})
	InFlightGauge     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pipeline_inflight", Help: "Received, unacknowledged messages"}, []string{"queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Submissions,
			SubmitRetries,
			SubmitsReused,
			RateLimitRejects,
			Malformed,
			Collected,
			NotReady,
			Quarantined,
			PagesPersisted,
			Transformed,
			AckFailures,
			BatchItemFailures,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
