// Package metrics exposes Prometheus counters for entitlement decisions,
// rate limiting, generation and usage recording.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	rateLimit       *prometheus.CounterVec
	generations     *prometheus.CounterVec
	generationTime  *prometheus.HistogramVec
	usageRecordErrs *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// New registers every collector on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ltgv_entitlement_decisions_total",
			Help: "Entitlement evaluations by feature, tier and result.",
		}, []string{"feature", "tier", "result"}),
		rateLimit: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ltgv_rate_limit_checks_total",
			Help: "Rate limit checks by feature and result (allowed, blocked, fail_open).",
		}, []string{"feature", "result"}),
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ltgv_generations_total",
			Help: "Model generations by feature and outcome.",
		}, []string{"feature", "outcome"}),
		generationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ltgv_generation_duration_seconds",
			Help:    "Time spent waiting on the model.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"feature"}),
		usageRecordErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ltgv_usage_record_errors_total",
			Help: "Usage events that failed to record after the work succeeded.",
		}, []string{"feature"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ltgv_stripe_webhook_events_total",
			Help: "Stripe webhook events by type and result.",
		}, []string{"type", "result"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "ltgv_usage_feed_clients",
			Help: "Connected usage feed websocket clients.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordDecision(feature, tier string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.decisions.WithLabelValues(feature, tier, result).Inc()
}

func (m *Metrics) RecordRateLimit(feature string, allowed, failedOpen bool) {
	result := "allowed"
	switch {
	case failedOpen:
		result = "fail_open"
	case !allowed:
		result = "blocked"
	}
	m.rateLimit.WithLabelValues(feature, result).Inc()
}

func (m *Metrics) RecordGeneration(feature, outcome string, d time.Duration) {
	m.generations.WithLabelValues(feature, outcome).Inc()
	m.generationTime.WithLabelValues(feature).Observe(d.Seconds())
}

func (m *Metrics) RecordUsageError(feature string) {
	m.usageRecordErrs.WithLabelValues(feature).Inc()
}

func (m *Metrics) RecordWebhook(eventType, result string) {
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ClientConnected() {
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	m.wsClients.Dec()
}
