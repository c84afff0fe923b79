package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spacebased/matrix-openai-bot/internal/events"
	"github.com/spacebased/matrix-openai-bot/internal/matrix"
	"github.com/spacebased/matrix-openai-bot/internal/openai"
	"github.com/spacebased/matrix-openai-bot/internal/tools"
)

const (
	// decryptWindow bounds how many event fetch/decrypt calls run
	// concurrently while reconstructing history.
	decryptWindow = 3

	// maxToolRounds caps completion round trips within one turn so a
	// backend that keeps asking for tools cannot loop forever.
	maxToolRounds = 3
)

// ErrNoUsableResponse reports a completion response carrying neither a
// reply nor a tool call.
var ErrNoUsableResponse = errors.New("no usable response from completion backend")

// CompletionClient is the completion backend surface the engine calls.
// The real implementation is *openai.Client.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, messages []openai.Message, tools []map[string]any) (*openai.Response, error)
}

// EngineConfig carries the engine's collaborators.
type EngineConfig struct {
	Store     *Store
	Client    CompletionClient
	Registry  *tools.Registry
	BotUserID string
	Logger    *slog.Logger
	Bus       *events.Bus
}

// Engine materializes conversations from the anchor store and runs
// chat turns against the completion backend.
type Engine struct {
	store     *Store
	client    CompletionClient
	registry  *tools.Registry
	botUserID string
	logger    *slog.Logger
	bus       *events.Bus
}

// NewEngine creates an engine from its configuration. Logger defaults
// to slog.Default; Bus may be nil.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     cfg.Store,
		client:    cfg.Client,
		registry:  cfg.Registry,
		botUserID: cfg.BotUserID,
		logger:    logger,
		bus:       cfg.Bus,
	}
}

// Conversation is one materialized chat: the turns recovered from the
// anchor store plus anything backfill prepends, ready for a prompt.
// It is rebuilt per handled message and discarded afterwards; the
// store is the durable record.
type Conversation struct {
	identity   Identity
	room       Room
	device     Device
	classifier *Classifier
	engine     *Engine

	mu       sync.Mutex
	messages []openai.Message
}

// Conversation rebuilds the chat for the given room from the anchor
// store, fetching and decoding each anchored event. Any fetch or
// decode failure is fatal: an anchor list that no longer matches the
// room cannot be partially trusted.
func (e *Engine) Conversation(ctx context.Context, room Room, device Device) (*Conversation, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	identity := Identity{UserID: e.botUserID, RoomID: room.ID()}
	anchors := e.store.GetOrCreate(identity)

	ids := make(chan string)
	go func() {
		defer close(ids)
		for _, id := range anchors {
			select {
			case ids <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	var turns []openai.Message
	results := mapOrdered(ctx, ids, decryptWindow, func(ctx context.Context, eventID string) (openai.Message, error) {
		raw, err := room.GetRawEvent(ctx, eventID)
		if err != nil {
			return openai.Message{}, err
		}
		evt, err := decodeMessage(ctx, device, room.ID(), raw)
		if err != nil {
			return openai.Message{}, err
		}
		return createTurn(e.botUserID, evt), nil
	})
	for o := range results {
		if o.err != nil {
			return nil, fmt.Errorf("materialize conversation: %w", o.err)
		}
		turns = append(turns, o.value)
	}

	return &Conversation{
		identity:   identity,
		room:       room,
		device:     device,
		classifier: NewClassifier(device, room.ID(), e.botUserID, e.logger),
		engine:     e,
		messages:   turns,
	}, nil
}

// Empty reports whether no turns have been materialized yet.
func (c *Conversation) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) == 0
}

// Backfill walks room history backwards, classifying each event until
// a stop boundary (membership leave, reset command) or a failure, then
// prepends the recovered turns oldest-first and replaces the stored
// anchor list with exactly the events that produced turns. A failure
// mid-scan is treated as the boundary: everything already recovered is
// kept, everything older is dropped.
func (c *Conversation) Backfill(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := c.room.RawMessageStream(ctx, matrix.Backward)
	results := mapOrdered(ctx, stream, decryptWindow, func(ctx context.Context, item matrix.StreamItem) (Processed, error) {
		if item.Err != nil {
			return Processed{}, item.Err
		}
		return c.classifier.Classify(ctx, item.Event, ModeBackfill)
	})

	var eventIDs []string
	var turns []openai.Message
scan:
	for o := range results {
		if o.err != nil {
			c.engine.logger.Warn("backfill stopped early",
				"room_id", c.identity.RoomID,
				"recovered", len(turns),
				"error", o.err,
			)
			break
		}
		switch o.value.Signal {
		case SignalContinue:
			eventIDs = append(eventIDs, o.value.EventID)
			turns = append(turns, o.value.Turn)
		case SignalStop:
			break scan
		}
	}
	cancel()

	// Discovery order is newest-first; the chat reads oldest-first.
	slices.Reverse(eventIDs)
	slices.Reverse(turns)

	c.engine.store.Replace(c.identity, eventIDs)

	c.mu.Lock()
	c.messages = append(turns, c.messages...)
	c.mu.Unlock()

	c.engine.publish(events.KindBackfillComplete, map[string]any{
		"room_id": c.identity.RoomID,
		"turns":   len(turns),
	})
	return nil
}

// SendPrompt appends the user's prompt and runs completion rounds
// until the backend's first action is a reply, executing at most
// maxToolRounds-1 tool calls along the way. Returns the reply text.
func (c *Conversation) SendPrompt(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, openai.TextMessage(openai.RoleUser, prompt))

	for round := 0; round < maxToolRounds; round++ {
		c.engine.publish(events.KindLLMCall, map[string]any{
			"room_id": c.identity.RoomID,
			"round":   round,
		})
		start := time.Now()
		resp, err := c.engine.client.CreateChatCompletion(ctx, c.messages, c.engine.registry.Schemas())
		if err != nil {
			return "", fmt.Errorf("completion call: %w", err)
		}
		c.engine.publish(events.KindLLMResponse, map[string]any{
			"room_id":    c.identity.RoomID,
			"elapsed_ms": time.Since(start).Milliseconds(),
		})

		if len(resp.Choices) == 0 {
			return "", ErrNoUsableResponse
		}
		message := resp.Choices[0].Message

		actions, err := intoActions(c.engine.registry, &message)
		if err != nil {
			return "", err
		}

		first := actions[0]
		if first.ToolCall == nil {
			return first.Reply, nil
		}

		c.engine.publish(events.KindToolCall, map[string]any{
			"room_id": c.identity.RoomID,
			"tool":    first.ToolCall.Tool.Name,
		})
		turn, err := c.engine.registry.Execute(ctx, first.ToolCall)
		if err != nil {
			return "", fmt.Errorf("execute tool %s: %w", first.ToolCall.Tool.Name, err)
		}
		c.messages = append(c.messages, message, turn)
	}

	return "", fmt.Errorf("tool rounds exhausted after %d calls: %w", maxToolRounds, ErrNoUsableResponse)
}

// InsertDialog records a completed turn's prompt and response event
// IDs as the newest anchors.
func (c *Conversation) InsertDialog(promptID, responseID string) {
	c.engine.store.Append(c.identity, promptID, responseID)
}

// Action is one interpreted instruction from a backend response:
// either a textual reply or a tool call, never both.
type Action struct {
	Reply    string
	ToolCall *tools.Call
}

// intoActions interprets a backend response message: text content
// becomes a reply action, then each tool call becomes a tool action in
// declared order. A message with neither is unusable; non-text content
// in reply position is an error.
func intoActions(registry *tools.Registry, msg *openai.Message) ([]Action, error) {
	var actions []Action

	if msg.Content != nil {
		if !msg.Content.IsText() {
			return nil, fmt.Errorf("completion reply has non-text content")
		}
		actions = append(actions, Action{Reply: msg.Content.Text})
	}

	for _, tc := range msg.ToolCalls {
		call, err := registry.ParseCall(tc)
		if err != nil {
			return nil, fmt.Errorf("interpret tool call: %w", err)
		}
		actions = append(actions, Action{ToolCall: call})
	}

	if len(actions) == 0 {
		return nil, ErrNoUsableResponse
	}
	return actions, nil
}

// publish emits a bot-sourced event on the bus, if one is attached.
func (e *Engine) publish(kind string, data map[string]any) {
	e.bus.Publish(events.Event{
		Source: events.SourceBot,
		Kind:   kind,
		Data:   data,
	})
}
