package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ragchat"

// Turn outcome labels.
const (
	TurnStatusSuccess = "success"
	TurnStatusFailed  = "failed"
	TurnStatusInvalid = "invalid"
)

// Metrics holds the Prometheus collectors for the conversation pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TurnsTotal counts handled turns by status (success, failed, invalid).
	TurnsTotal *prometheus.CounterVec

	// StageDurationSeconds measures each chain stage. Labels: stage.
	StageDurationSeconds *prometheus.HistogramVec

	// StageFallbacksTotal counts stages that degraded instead of failing. Labels: stage.
	StageFallbacksTotal *prometheus.CounterVec

	// ActiveSessions tracks sessions currently held by the session store.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total conversation turns by status.",
		}, []string{"status"}),
		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chain",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each conversation chain stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		StageFallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chain",
			Name:      "stage_fallbacks_total",
			Help:      "Chain stages that failed and continued with a degraded result.",
		}, []string{"stage"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently held in memory.",
		}),
	}
}

// ObserveTurn records the outcome of one HandleTurn call.
func (m *Metrics) ObserveTurn(status string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveFallback records a degraded stage.
func (m *Metrics) ObserveFallback(stage string) {
	if m == nil {
		return
	}
	m.StageFallbacksTotal.WithLabelValues(stage).Inc()
}

// SetActiveSessions updates the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
