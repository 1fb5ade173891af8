// Package metrics exposes triage counters for Prometheus. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	classifications *prometheus.CounterVec
	suggestions     *prometheus.CounterVec
	similarity      *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqrdesk",
			Name:      "classifications_total",
			Help:      "Classifications produced, by source (model or fallback).",
		}, []string{"source"}),
		suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqrdesk",
			Name:      "suggestions_total",
			Help:      "Suggested responses produced, by source (model or template).",
		}, []string{"source"}),
		similarity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqrdesk",
			Name:      "similarity_queries_total",
			Help:      "Similarity queries, by outcome.",
		}, []string{"outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pqrdesk",
			Name:      "remote_call_seconds",
			Help:      "Latency of outbound calls to remote services.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"service", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pqrdesk",
			Name:      "status_transitions_total",
			Help:      "Accepted case status transitions, by target status.",
		}, []string{"to"}),
	}
	m.registry.MustRegister(m.classifications, m.suggestions, m.similarity, m.remoteLatency, m.transitions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveClassification(source string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveSuggestion(source string) {
	if m == nil {
		return
	}
	m.suggestions.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveSimilarity(outcome string) {
	if m == nil {
		return
	}
	m.similarity.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRemote(service string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.remoteLatency.WithLabelValues(service, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}
