package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spacebased/matrix-openai-bot/internal/events"
)

func TestRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("bot", reg)

	m.Record(events.Event{Kind: events.KindTransaction})
	m.Record(events.Event{Kind: events.KindMessageReceived, Data: map[string]any{"direct": true}})
	m.Record(events.Event{Kind: events.KindMessageReceived, Data: map[string]any{"direct": false}})
	m.Record(events.Event{Kind: events.KindCommand, Data: map[string]any{"keyword": "reset"}})
	m.Record(events.Event{Kind: events.KindToolCall, Data: map[string]any{"tool": "fetch_url"}})
	m.Record(events.Event{Kind: events.KindReplySent})
	m.Record(events.Event{Kind: events.KindTurnFailed})
	m.Record(events.Event{Kind: "something_else"})

	if got := testutil.ToFloat64(m.Transactions); got != 1 {
		t.Errorf("transactions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("true")); got != 1 {
		t.Errorf("direct messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("false")); got != 1 {
		t.Errorf("group messages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CommandsHandled.WithLabelValues("reset")); got != 1 {
		t.Errorf("reset commands = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("fetch_url")); got != 1 {
		t.Errorf("tool calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RepliesSent); got != 1 {
		t.Errorf("replies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TurnsFailed); got != 1 {
		t.Errorf("failed turns = %v, want 1", got)
	}
}

func TestRunConsumesBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("bot", reg)

	bus := events.New()
	ch := bus.Subscribe(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(context.Background(), ch)
	}()

	bus.Publish(events.Event{Source: events.SourceBot, Kind: events.KindReplySent})
	bus.Unsubscribe(ch) // closes the channel, Run returns
	<-done

	if got := testutil.ToFloat64(m.RepliesSent); got != 1 {
		t.Errorf("replies = %v, want 1", got)
	}
}
