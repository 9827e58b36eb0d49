package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.NamespaceQuery(nil)
	m.NamespaceQuery(errors.New("timeout"))
	m.NamespaceQuery(errors.New("timeout"))
	m.Augmentation("vector", "error")
	m.ChatAttempt("gpt-4", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NamespaceQueriesTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NamespaceQueriesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AugmentationsTotal.WithLabelValues("vector", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatAttemptsTotal.WithLabelValues("gpt-4", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.NamespaceQuery(nil)
		m.Augmentation("ranker", "ok")
		m.Embedding(nil)
		m.ChatAttempt("x", nil)
		m.ObserveQuery("fanout", 0.1)
	})
}
