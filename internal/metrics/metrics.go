package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// It implements queue.Observer and webhook.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	webhooks      *prometheus.CounterVec
	invoices      *prometheus.CounterVec
	discrepancies *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs finished per lane and outcome.",
		}, []string{"lane", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler run time per lane.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"lane"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Webhook deliveries per provider and result.",
		}, []string{"provider", "result"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_created_total",
			Help:      "Invoices created per token and address source.",
		}, []string{"token", "address_source"}),
		discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_discrepancies_total",
			Help:      "Discrepancies found by reconciliation runs.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.jobsFinished,
		m.jobDuration,
		m.webhooks,
		m.invoices,
		m.discrepancies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) JobFinished(lane, outcome string, duration time.Duration) {
	m.jobsFinished.WithLabelValues(lane, outcome).Inc()
	m.jobDuration.WithLabelValues(lane).Observe(duration.Seconds())
}

func (m *Metrics) WebhookReceived(provider, result string) {
	m.webhooks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) InvoiceCreated(token, addressSource string) {
	m.invoices.WithLabelValues(token, addressSource).Inc()
}

func (m *Metrics) Discrepancy(kind string) {
	m.discrepancies.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
