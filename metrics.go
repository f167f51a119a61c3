package main

import "github.com/prometheus/client_golang/prometheus"

var (
	counterValue      prometheus.Gauge
	counterOperations *prometheus.CounterVec
	kvOperations      *prometheus.CounterVec

	statusCodes       *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	responseBodyBytes *prometheus.CounterVec

	badRequest  prometheus.Counter
	rateLimited prometheus.Counter
)

func initMetrics(namespace string) {
	counterValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "counter_value",
		Help:      "Current value of the counter",
	})

	counterOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_operations_total",
			Help:      "Total number of counter operations by result",
		},
		[]string{"op", "result"},
	)

	kvOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kv_operations_total",
			Help:      "Total number of key-value store operations by result",
		},
		[]string{"backend", "op", "result"},
	)

	statusCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_codes_total",
			Help:      "Distribution by status codes",
		},
		[]string{"route", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"route"},
	)

	responseBodyBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_body_bytes_total",
			Help:      "The amount of bytes written to response bodies",
		},
		[]string{"route"},
	)

	badRequest = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bad_request_total",
		Help:      "Total number of unsupported requests",
	})

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total number of mutating requests rejected by the rate limit",
	})
}

// registerMetrics must be called once before serving requests.
func registerMetrics(namespace string) {
	initMetrics(namespace)
	prometheus.MustRegister(counterValue, counterOperations, kvOperations,
		statusCodes, requestDuration, responseBodyBytes, badRequest, rateLimited)
}
