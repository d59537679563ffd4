package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Prometheus метрики сессий моста.
// Методы безопасны для nil получателя: метрики можно не подключать.
type Metrics struct {
	sessionsTotal    *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionDuration  prometheus.Histogram
	framesTotal      *prometheus.CounterVec
	samplesTotal     *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
}

// NewMetrics регистрирует метрики моста в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const namespace, subsystem = "faxbridge", "session"

	return &Metrics{
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total",
			Help:      "Total number of fax sessions by direction and outcome",
		}, []string{"direction", "outcome"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of currently running fax sessions",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Fax session duration",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_total",
			Help:      "Audio frames bridged between channel and engine",
		}, []string{"direction"}),
		samplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_total",
			Help:      "Audio samples bridged between channel and engine",
		}, []string{"direction"}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "loop_transitions_total",
			Help:      "Bridge loop state transitions",
		}, []string{"from", "to"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Session errors by code",
		}, []string{"code"}),
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionFinished(direction string, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTotal.WithLabelValues(direction, outcome.String()).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) frame(direction string, samples int) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction).Inc()
	m.samplesTotal.WithLabelValues(direction).Add(float64(samples))
}

func (m *Metrics) transition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) error(code ErrorCode) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code.String()).Inc()
}
