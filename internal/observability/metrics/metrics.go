// Package metrics provides Prometheus instrumentation for trustgate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Scoring domain metrics
	evaluationTotal    *prometheus.CounterVec
	proveDuration      prometheus.Histogram
	attestationTotal   *prometheus.CounterVec
	certificationTotal *prometheus.CounterVec

	// Whitelist domain metrics
	submissionTotal     *prometheus.CounterVec
	proofVerifyTotal    *prometheus.CounterVec
	whitelistTransition *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Token evaluation counter
	evaluationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_evaluation_total",
			Help: "Total number of token evaluations",
		},
		[]string{"vendor", "status"},
	)

	// Proof generation latency histogram
	proveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proof_generation_duration_seconds",
			Help:    "Proof generation latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// Attestation counter
	attestationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestation_total",
			Help: "Total number of vendor attestations received",
		},
		[]string{"vendor", "status"},
	)

	// Certification counter
	certificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certification_total",
			Help: "Total number of aggregation outcomes",
		},
		[]string{"status"},
	)

	// Whitelist submission counter
	submissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_submission_total",
			Help: "Total number of whitelist submissions",
		},
		[]string{"status"},
	)

	// Proof verification counter
	proofVerifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_verify_total",
			Help: "Total number of proof verifications",
		},
		[]string{"result"},
	)

	// Whitelist state transition counter
	whitelistTransition = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_transition_total",
			Help: "Total number of whitelist state transitions",
		},
		[]string{"from", "to"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
