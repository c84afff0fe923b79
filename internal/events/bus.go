// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (appservice server,
// conversation engine, tool dispatch) to subscribers (the metrics
// recorder). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAppservice identifies events from the transaction endpoint.
	SourceAppservice = "appservice"
	// SourceBot identifies events from the conversation engine.
	SourceBot = "bot"
)

// Kind constants describe the type of event within a source.
const (
	// KindTransaction signals a homeserver transaction was accepted.
	// Data: txn_id, events.
	KindTransaction = "transaction"
	// KindMessageReceived signals an incoming room message reached the
	// engine. Data: room_id, direct, command.
	KindMessageReceived = "message_received"
	// KindCommand signals a control directive was handled.
	// Data: room_id, keyword.
	KindCommand = "command"
	// KindLLMCall signals the start of a completion-backend call.
	// Data: room_id, round, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of a backend call.
	// Data: room_id, round, model, elapsed_ms.
	KindLLMResponse = "llm_response"
	// KindToolCall signals a tool was dispatched.
	// Data: room_id, tool.
	KindToolCall = "tool_call"
	// KindBackfillComplete signals history reconciliation finished.
	// Data: room_id, turns.
	KindBackfillComplete = "backfill_complete"
	// KindReplySent signals a reply reached the room.
	// Data: room_id, response_len.
	KindReplySent = "reply_sent"
	// KindTurnFailed signals a turn aborted with an error.
	// Data: room_id, error.
	KindTurnFailed = "turn_failed"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so that
	// Unsubscribe can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
