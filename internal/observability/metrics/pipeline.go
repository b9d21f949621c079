package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver.
type PipelineMetrics struct {
	service string

	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	triggerTotal    *prometheus.CounterVec
	removeTotal     *prometheus.CounterVec
	decodeDuration  *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	refreshTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "refresh_total",
			Help:      "Total status refreshes by result.",
		},
		[]string{"service", "status"},
	)
	refreshDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "status",
			Name:      "refresh_duration_seconds",
			Help:      "Status refresh duration in seconds by result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	triggerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "trigger_total",
			Help:      "Generation triggers by document type and outcome.",
		},
		[]string{"service", "document_type", "outcome"},
	)
	removeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "remove_total",
			Help:      "Document deletions by document type and outcome.",
		},
		[]string{"service", "document_type", "outcome"},
	)
	decodeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "decode_duration_seconds",
			Help:      "Spreadsheet decode duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"service", "document_type", "status"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(refreshTotal, refreshDuration, triggerTotal, removeTotal, decodeDuration, breakerState)

	return &PipelineMetrics{
		service:         service,
		refreshTotal:    refreshTotal,
		refreshDuration: refreshDuration,
		triggerTotal:    triggerTotal,
		removeTotal:     removeTotal,
		decodeDuration:  decodeDuration,
		breakerState:    breakerState,
	}
}

func (m *PipelineMetrics) ObserveRefresh(duration time.Duration, err error) {
	status := resultLabel(err)
	m.refreshTotal.WithLabelValues(m.service, status).Inc()
	m.refreshDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveTrigger(docType domain.DocumentType, outcome string) {
	m.triggerTotal.WithLabelValues(m.service, docType.String(), outcome).Inc()
}

func (m *PipelineMetrics) ObserveRemove(docType domain.DocumentType, outcome string) {
	m.removeTotal.WithLabelValues(m.service, docType.String(), outcome).Inc()
}

func (m *PipelineMetrics) ObserveDecode(docType domain.DocumentType, duration time.Duration, err error) {
	m.decodeDuration.WithLabelValues(m.service, docType.String(), resultLabel(err)).Observe(duration.Seconds())
}

// ObserveBreaker matches resilience.StateObserver.
func (m *PipelineMetrics) ObserveBreaker(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(float64(to))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
