package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "carta"

// Metrics owns a private registry so tests can build as many servers as
// they like.
type Metrics struct {
	registry *prometheus.Registry

	DecodeFailures   *prometheus.CounterVec
	Publishes        *prometheus.CounterVec
	EditorMutations  *prometheus.CounterVec
	EditorSessions   prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "document_decode_failures_total",
			Help:      "Stored menu documents that failed to decode, by reason",
		}, []string{"reason"}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by result",
		}, []string{"result"}),
		EditorMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "editor",
			Name:      "mutations_total",
			Help:      "Editor mutations by operation and result",
		}, []string{"op", "result"}),
		EditorSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "editor",
			Name:      "open_sessions",
			Help:      "Editor sessions currently open",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status_code"}),
		HTTPRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(
		m.DecodeFailures,
		m.Publishes,
		m.EditorMutations,
		m.EditorSessions,
		m.HTTPRequests,
		m.HTTPRequestTimes,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordDecodeFailure(reason string) {
	m.DecodeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordPublish(result string) {
	m.Publishes.WithLabelValues(result).Inc()
}

func (m *Metrics) recordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.EditorMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) recordRequest(method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestTimes.WithLabelValues(method).Observe(elapsed.Seconds())
}
