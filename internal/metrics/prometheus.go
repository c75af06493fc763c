package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marine"

type promMetrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	circuitOpened   *prometheus.CounterVec
	circuitRejected *prometheus.CounterVec
	snapshotsServed *prometheus.CounterVec
}

func newPromMetrics(registry *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "The total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "The HTTP request latencies in seconds",
			},
			[]string{"route"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Upstream fetch attempts by circuit key and result",
			},
			[]string{"key", "result"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_attempt_duration_seconds",
				Help:      "Upstream fetch attempt latencies in seconds",
			},
			[]string{"key"},
		),
		circuitOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opened_total",
				Help:      "Times a circuit moved to the open state",
			},
			[]string{"key"},
		),
		circuitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_rejected_total",
				Help:      "Calls failed fast by an open circuit",
			},
			[]string{"key"},
		),
		snapshotsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_served_total",
				Help:      "Snapshot lookups by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.attemptsTotal,
		m.attemptDuration,
		m.circuitOpened,
		m.circuitRejected,
		m.snapshotsServed,
	)
	return m
}

func (m *promMetrics) observeRequest(event MetricEvent) {
	m.requestsTotal.WithLabelValues(event.Route, strconv.Itoa(event.StatusCode)).Inc()
	m.requestDuration.WithLabelValues(event.Route).Observe(event.Duration.Seconds())
}

func (m *promMetrics) observeAttempt(event MetricEvent) {
	result := "success"
	if event.Failed {
		result = "failure"
	}
	m.attemptsTotal.WithLabelValues(event.Key, result).Inc()
	m.attemptDuration.WithLabelValues(event.Key).Observe(event.Duration.Seconds())
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (c *Collector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(c.prom.registry, promhttp.HandlerOpts{})
}
