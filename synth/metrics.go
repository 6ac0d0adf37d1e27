package synth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the synthesizer's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runs      *prometheus.CounterVec
	turns     prometheus.Histogram
	fallbacks *prometheus.CounterVec
	toolCalls *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetkit",
			Subsystem: "synth",
			Name:      "runs_total",
			Help:      "Synthesis runs by outcome (model or fallback).",
		}, []string{"source"}),
		turns: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "widgetkit",
			Subsystem: "synth",
			Name:      "turns",
			Help:      "Model turns used per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetkit",
			Subsystem: "synth",
			Name:      "fallbacks_total",
			Help:      "Runs that fell back to the keyword classifier, by reason.",
		}, []string{"reason"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "widgetkit",
			Subsystem: "synth",
			Name:      "tool_calls_total",
			Help:      "Tool calls requested by the model.",
		}, []string{"tool"}),
	}
}

func (m *Metrics) observeRun(run *Run) {
	if m == nil || run.Suggestion == nil {
		return
	}
	m.runs.WithLabelValues(string(run.Suggestion.Source)).Inc()
	m.turns.Observe(float64(run.Turns))
	if run.Err != nil {
		m.fallbacks.WithLabelValues(run.FailureReason()).Inc()
	}
}

func (m *Metrics) observeTool(name string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name).Inc()
}
