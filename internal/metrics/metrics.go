// Package metrics provides Prometheus metrics for the retrieval pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	NamespaceQueriesTotal *prometheus.CounterVec
	AugmentationsTotal    *prometheus.CounterVec
	EmbeddingsTotal       *prometheus.CounterVec
	ChatAttemptsTotal     *prometheus.CounterVec
	QueryDuration         *prometheus.HistogramVec
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NamespaceQueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_namespace_queries_total",
				Help: "Per-namespace vector queries issued by fan-out search",
			},
			[]string{"status"},
		),
		AugmentationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_augmentations_total",
				Help: "Prompt augmentation attempts by source and outcome",
			},
			[]string{"source", "status"},
		),
		EmbeddingsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_embeddings_total",
				Help: "Embedding calls by outcome",
			},
			[]string{"status"},
		),
		ChatAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_chat_attempts_total",
				Help: "Chat completion attempts by model and outcome",
			},
			[]string{"model", "status"},
		),
		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_vector_query_duration_seconds",
				Help:    "Duration of vector index queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) NamespaceQuery(err error) {
	if m == nil {
		return
	}
	m.NamespaceQueriesTotal.WithLabelValues(status(err)).Inc()
}

// Augmentation records the outcome of one augmentation source. Status is
// "ok", "empty" or "error".
func (m *Metrics) Augmentation(source, status string) {
	if m == nil {
		return
	}
	m.AugmentationsTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) Embedding(err error) {
	if m == nil {
		return
	}
	m.EmbeddingsTotal.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) ChatAttempt(model string, err error) {
	if m == nil {
		return
	}
	m.ChatAttemptsTotal.WithLabelValues(model, status(err)).Inc()
}

func (m *Metrics) ObserveQuery(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(mode).Observe(seconds)
}
