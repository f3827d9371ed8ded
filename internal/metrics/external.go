package metrics

import "github.com/prometheus/client_golang/prometheus"

// Extraction oracle and literature index Prometheus metrics.
var (
	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casematch",
			Name:      "oracle_requests_total",
			Help:      "Total number of extraction oracle requests",
		},
		[]string{"task", "status"}, // task: segment, observation, case_summary, patient_summary, parse_input
	)

	OracleRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casematch",
			Name:      "oracle_request_duration_seconds",
			Help:      "Extraction oracle request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task"},
	)

	LiteratureRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casematch",
			Name:      "literature_requests_total",
			Help:      "Total number of literature index requests",
		},
		[]string{"op", "status"}, // op: esearch, efetch
	)

	LiteratureRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casematch",
			Name:      "literature_request_duration_seconds",
			Help:      "Literature index request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)
)

var extMetricsRegistered bool

// RegisterExternalMetrics registers oracle and literature index metrics. Must be called once from main.
func RegisterExternalMetrics() {
	if extMetricsRegistered {
		return
	}
	prometheus.MustRegister(OracleRequestsTotal)
	prometheus.MustRegister(OracleRequestDuration)
	prometheus.MustRegister(LiteratureRequestsTotal)
	prometheus.MustRegister(LiteratureRequestDuration)
	extMetricsRegistered = true
}
