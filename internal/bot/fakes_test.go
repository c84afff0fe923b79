package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/spacebased/matrix-openai-bot/internal/matrix"
	"github.com/spacebased/matrix-openai-bot/internal/openai"
	"github.com/spacebased/matrix-openai-bot/internal/tools"
)

const (
	testBotID  = "@bot:example.org"
	testUserID = "@alice:example.org"
	testRoomID = "!room:example.org"
)

func rawMessage(eventID, sender, body string) matrix.RawEvent {
	return matrix.RawEvent(fmt.Sprintf(
		`{"type":"m.room.message","event_id":%q,"sender":%q,"content":{"msgtype":"m.text","body":%q}}`,
		eventID, sender, body,
	))
}

func rawMember(eventID, sender, stateKey, membership string) matrix.RawEvent {
	return matrix.RawEvent(fmt.Sprintf(
		`{"type":"m.room.member","event_id":%q,"sender":%q,"state_key":%q,"content":{"membership":%q}}`,
		eventID, sender, stateKey, membership,
	))
}

type fakeRoom struct {
	id     string
	direct bool
	// events backs GetRawEvent, history backs RawMessageStream
	// (newest first). streamErr, when set, is delivered after history.
	events    map[string]matrix.RawEvent
	history   []matrix.RawEvent
	streamErr error

	mu     sync.Mutex
	joined bool
}

func (r *fakeRoom) ID() string { return r.id }

func (r *fakeRoom) Join(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = true
	return nil
}

func (r *fakeRoom) IsDirect(context.Context) (bool, error) { return r.direct, nil }

func (r *fakeRoom) GetRawEvent(_ context.Context, eventID string) (matrix.RawEvent, error) {
	raw, ok := r.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	return raw, nil
}

func (r *fakeRoom) RawMessageStream(ctx context.Context, _ matrix.Direction) <-chan matrix.StreamItem {
	ch := make(chan matrix.StreamItem)
	go func() {
		defer close(ch)
		for _, raw := range r.history {
			select {
			case ch <- matrix.StreamItem{Event: raw}:
			case <-ctx.Done():
				return
			}
		}
		if r.streamErr != nil {
			select {
			case ch <- matrix.StreamItem{Err: r.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

type fakeDevice struct {
	mu       sync.Mutex
	sent     []matrix.MessageContent
	sendErr  error
	receipts []string
	typing   []bool
	// decryptFn handles m.room.encrypted payloads; nil means the
	// device refuses to decrypt.
	decryptFn func(raw matrix.RawEvent) (matrix.RawEvent, error)
}

func (d *fakeDevice) DecryptEvent(_ context.Context, raw matrix.RawEvent, _ string) (matrix.RawEvent, error) {
	if d.decryptFn == nil {
		return nil, fmt.Errorf("device has no decryption keys")
	}
	return d.decryptFn(raw)
}

func (d *fakeDevice) SendMessage(_ context.Context, _ string, content matrix.MessageContent) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return "", d.sendErr
	}
	d.sent = append(d.sent, content)
	return fmt.Sprintf("$sent%d", len(d.sent)), nil
}

func (d *fakeDevice) SendTyping(_ context.Context, _ string, typing bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typing = append(d.typing, typing)
	return nil
}

func (d *fakeDevice) SendReceipt(_ context.Context, _ string, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receipts = append(d.receipts, eventID)
	return nil
}

type fakeClient struct {
	mu        sync.Mutex
	requests  [][]openai.Message
	responses []*openai.Response
	err       error
}

func (c *fakeClient) CreateChatCompletion(_ context.Context, messages []openai.Message, _ []map[string]any) (*openai.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, slices.Clone(messages))
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("fakeClient: no response queued")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func textResponse(text string) *openai.Response {
	msg := openai.TextMessage(openai.RoleAssistant, text)
	return &openai.Response{
		Object:  "chat.completion",
		Choices: []openai.Choice{{Index: 0, Message: msg}},
	}
}

func toolResponse(name, arguments string) *openai.Response {
	return &openai.Response{
		Object: "chat.completion",
		Choices: []openai.Choice{{Index: 0, Message: openai.Message{
			Role: openai.RoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: openai.FunctionCall{Name: name, Arguments: arguments},
			}},
		}}},
	}
}

func newTestEngine(t *testing.T, client CompletionClient) *Engine {
	t.Helper()
	return NewEngine(EngineConfig{
		Store:     NewStore(),
		Client:    client,
		Registry:  tools.NewRegistry(),
		BotUserID: testBotID,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}
