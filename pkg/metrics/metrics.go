// Package metrics exposes Prometheus instrumentation for digest runs and the collaborator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "daily_digest"

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	runsTotal     *prometheus.CounterVec
	sourceFetches *prometheus.CounterVec
	sourceDur     *prometheus.SummaryVec
	stageDur      *prometheus.SummaryVec
	stageTotal    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	snapshotItems *prometheus.GaugeVec
	lastSuccessTS prometheus.Gauge
	questions     *prometheus.CounterVec
	populations   prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Digest runs by outcome",
		}, []string{"outcome"}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Connector fetches by source and status",
		}, []string{"source", "status"}),
		sourceDur: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Time spent fetching one source",
		}, []string{"source"}),
		stageDur: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in a text-generation stage",
		}, []string{"stage"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_invocations_total",
			Help:      "Text-generation stage invocations by status",
		}, []string{"stage", "status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Report deliveries by status",
		}, []string{"status"}),
		snapshotItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_events",
			Help:      "Events in the most recent snapshot by kind",
		}, []string{"kind"}),
		lastSuccessTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last delivered report",
		}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Collaborator questions by status",
		}, []string{"status"}),
		populations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_populations_total",
			Help:      "Collaborator cache populations",
		}),
	}
	m.registry.MustRegister(
		m.runsTotal, m.sourceFetches, m.sourceDur, m.stageDur, m.stageTotal,
		m.deliveries, m.snapshotItems, m.lastSuccessTS, m.questions, m.populations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SourceFetched records one connector fetch.
func (m *Metrics) SourceFetched(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.sourceFetches.WithLabelValues(source, status).Inc()
	m.sourceDur.WithLabelValues(source).Observe(d.Seconds())
}

// StageFinished records one text-generation stage.
func (m *Metrics) StageFinished(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDur.WithLabelValues(stage).Observe(d.Seconds())
}

// Delivered records one delivery attempt.
func (m *Metrics) Delivered(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
	if status == "ok" {
		m.lastSuccessTS.SetToCurrentTime()
	}
}

// RunFinished records the outcome of one run.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// SnapshotBuilt records per-kind event counts.
func (m *Metrics) SnapshotBuilt(counts map[string]int) {
	if m == nil {
		return
	}
	for kind, n := range counts {
		m.snapshotItems.WithLabelValues(kind).Set(float64(n))
	}
}

// QuestionAnswered records one collaborator question.
func (m *Metrics) QuestionAnswered(status string) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(status).Inc()
}

// CachePopulated records one collaborator cache population.
func (m *Metrics) CachePopulated() {
	if m == nil {
		return
	}
	m.populations.Inc()
}
