// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the detection service.
type Metrics struct {
	// Detection pass metrics
	PassesRun     prometheus.Counter
	PassesSkipped *prometheus.CounterVec
	PassDuration  prometheus.Histogram

	// Oracle metrics
	OracleErrors    prometheus.Counter
	CandidatesSized prometheus.Histogram

	// Registration metrics
	TokensDetected     prometheus.Counter
	RegistrationErrors prometheus.Counter
	TrackedTokens      prometheus.Gauge

	// Network metrics
	LastBlockSeen prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all metrics registered on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_detect"
	}

	return &Metrics{
		PassesRun: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_run_total",
			Help:      "Detection passes that reached the balance fetch.",
		}),
		PassesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_skipped_total",
			Help:      "Detection passes skipped before fetching, by reason.",
		}, []string{"reason"}),
		PassDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of completed detection passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		OracleErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_errors_total",
			Help:      "Failed batched balance fetches.",
		}),
		CandidatesSized: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_per_pass",
			Help:      "Candidate set size per detection pass.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		TokensDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_detected_total",
			Help:      "Tokens auto-added after a positive balance.",
		}),
		RegistrationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_errors_total",
			Help:      "AddToken failures; siblings in the same pass are unaffected.",
		}),
		TrackedTokens: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_tokens",
			Help:      "Current number of tracked tokens.",
		}),
		LastBlockSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_block_seen",
			Help:      "Most recent block number from the head watcher.",
		}),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
