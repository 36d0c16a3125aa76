package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTurn(TurnStatusSuccess)
	m.ObserveTurn(TurnStatusSuccess)
	m.ObserveTurn(TurnStatusFailed)
	m.ObserveFallback("retrieve")
	m.ObserveStage("generate", 150*time.Millisecond)
	m.SetActiveSessions(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TurnsTotal.WithLabelValues(TurnStatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TurnsTotal.WithLabelValues(TurnStatusFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageFallbacksTotal.WithLabelValues("retrieve")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDurationSeconds))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn(TurnStatusSuccess)
		m.ObserveStage("rewrite", time.Second)
		m.ObserveFallback("rewrite")
		m.SetActiveSessions(1)
	})
}
