// Package observability translates operational events into Prometheus
// instruments.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spacebased/matrix-openai-bot/internal/events"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	CommandsHandled   *prometheus.CounterVec
	CompletionCalls   prometheus.Counter
	CompletionLatency prometheus.Histogram
	ToolCalls         *prometheus.CounterVec
	BackfillTurns     prometheus.Histogram
	RepliesSent       prometheus.Counter
	TurnsFailed       prometheus.Counter
	Transactions      prometheus.Counter
}

// NewMetrics registers all instruments with the given registerer. Pass
// nil to use the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Incoming room messages by room kind.",
		}, []string{"direct"}),
		CommandsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_handled_total",
			Help:      "Control directives by keyword.",
		}, []string{"keyword"}),
		CompletionCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Chat-completion backend calls.",
		}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Chat-completion backend latency in milliseconds.",
			Buckets:   []float64{200, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by tool name.",
		}, []string{"tool"}),
		BackfillTurns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backfill_turns",
			Help:      "Turns recovered per history backfill.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		RepliesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies delivered to rooms.",
		}),
		TurnsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_failed_total",
			Help:      "Turns aborted with an error.",
		}),
		Transactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Homeserver transactions accepted.",
		}),
	}
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Record maps one operational event onto the instruments. Unknown kinds
// are ignored.
func (m *Metrics) Record(e events.Event) {
	switch e.Kind {
	case events.KindTransaction:
		m.Transactions.Inc()
	case events.KindMessageReceived:
		direct := "false"
		if d, _ := e.Data["direct"].(bool); d {
			direct = "true"
		}
		m.MessagesReceived.WithLabelValues(direct).Inc()
	case events.KindCommand:
		keyword, _ := e.Data["keyword"].(string)
		m.CommandsHandled.WithLabelValues(keyword).Inc()
	case events.KindLLMCall:
		m.CompletionCalls.Inc()
	case events.KindLLMResponse:
		if ms, ok := e.Data["elapsed_ms"].(int64); ok {
			m.CompletionLatency.Observe(float64(ms))
		}
	case events.KindToolCall:
		tool, _ := e.Data["tool"].(string)
		m.ToolCalls.WithLabelValues(tool).Inc()
	case events.KindBackfillComplete:
		if turns, ok := e.Data["turns"].(int); ok {
			m.BackfillTurns.Observe(float64(turns))
		}
	case events.KindReplySent:
		m.RepliesSent.Inc()
	case events.KindTurnFailed:
		m.TurnsFailed.Inc()
	}
}

// Run consumes bus events until the context is cancelled or the
// subscription channel closes. Intended to run in its own goroutine.
func (m *Metrics) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Record(e)
		}
	}
}

// ObserveCompletionLatency records one backend round trip directly.
func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}
