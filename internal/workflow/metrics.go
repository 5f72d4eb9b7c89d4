package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for transitions.
type Metrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the workflow collectors against registerer. A nil
// registerer yields a Metrics that records into unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wellhead_workflow_transitions_total",
		Help: "Document transitions partitioned by document type, action and outcome.",
	}, []string{"doc_type", "action", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wellhead_workflow_transition_duration_seconds",
		Help:    "Time spent planning and applying a transition.",
		Buckets: prometheus.DefBuckets,
	}, []string{"doc_type"})
	if registerer != nil {
		registerer.MustRegister(transitions, duration)
	}
	return &Metrics{transitions: transitions, duration: duration}
}

func (m *Metrics) observe(docType DocType, action Action, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(docType), string(action), outcome).Inc()
	m.duration.WithLabelValues(string(docType)).Observe(time.Since(start).Seconds())
}
