package agentloop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsProvider records agent activity. A nil provider records nothing.
type metricsProvider struct {
	turns       *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	runDuration prometheus.Histogram
}

func newMetricsProvider(registry *prometheus.Registry) *metricsProvider {
	if registry == nil {
		return nil
	}

	provider := &metricsProvider{
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_turns_total",
				Help: "Total number of model turns by finish reason",
			},
			[]string{"finish_reason"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_tool_calls_total",
				Help: "Total number of local tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentloop_run_duration_seconds",
				Help:    "Duration of complete agent runs",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		provider.turns,
		provider.toolCalls,
		provider.runDuration,
	)

	return provider
}

func (p *metricsProvider) IncrementTurns(finishReason string) {
	if p != nil && p.turns != nil {
		p.turns.WithLabelValues(finishReason).Inc()
	}
}

func (p *metricsProvider) IncrementToolCalls(tool string, failed bool) {
	if p == nil || p.toolCalls == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	p.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (p *metricsProvider) ObserveRun(start time.Time) {
	if p != nil && p.runDuration != nil {
		p.runDuration.Observe(time.Since(start).Seconds())
	}
}
