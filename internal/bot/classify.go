package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spacebased/matrix-openai-bot/internal/command"
	"github.com/spacebased/matrix-openai-bot/internal/matrix"
	"github.com/spacebased/matrix-openai-bot/internal/openai"
)

// Signal is the outcome kind of classifying one raw room event.
type Signal int

const (
	// SignalIgnore means the event carries nothing for the
	// conversation.
	SignalIgnore Signal = iota
	// SignalContinue means the event yielded a usable turn; keep
	// scanning further back.
	SignalContinue
	// SignalStop means the reconciliation boundary was reached;
	// everything older is irrelevant.
	SignalStop
)

// Processed is the result of classifying one raw event. EventID and
// Turn are set only for SignalContinue.
type Processed struct {
	Signal  Signal
	EventID string
	Turn    openai.Message
}

// Mode selects the decode-failure policy: fatal during live handling,
// skip-with-warning during backfill so partially corrupt history does
// not block current usage.
type Mode int

const (
	ModeLive Mode = iota
	ModeBackfill
)

// Classifier turns raw room events into conversation signals for one
// room.
type Classifier struct {
	device    Device
	roomID    string
	botUserID string
	logger    *slog.Logger
}

// NewClassifier creates a classifier bound to one room.
func NewClassifier(device Device, roomID, botUserID string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{device: device, roomID: roomID, botUserID: botUserID, logger: logger}
}

// Classify inspects a raw event's type tag and yields a signal.
// Unknown tags are ignored, never errors. A membership "leave" is the
// stop boundary. Messages (decrypting first when needed) become turns,
// except commands: a reset command is itself a boundary, other commands
// are ignored.
func (c *Classifier) Classify(ctx context.Context, raw matrix.RawEvent, mode Mode) (Processed, error) {
	tag, err := matrix.EventType(raw)
	if err != nil {
		if mode == ModeBackfill {
			c.logger.Warn("skipping unreadable history event",
				"room_id", c.roomID,
				"error", err,
			)
			return Processed{Signal: SignalIgnore}, nil
		}
		return Processed{}, err
	}

	switch tag {
	case matrix.EventTypeMember:
		var evt matrix.MemberEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return Processed{}, fmt.Errorf("decode member event: %w", err)
		}
		if evt.Content.Membership == matrix.MembershipLeave {
			return Processed{Signal: SignalStop}, nil
		}
		return Processed{Signal: SignalIgnore}, nil

	case matrix.EventTypeMessage, matrix.EventTypeEncrypted:
		evt, err := decodeMessage(ctx, c.device, c.roomID, raw)
		if err != nil {
			return Processed{}, err
		}
		return c.classifyMessage(evt), nil

	default:
		return Processed{Signal: SignalIgnore}, nil
	}
}

// classifyMessage maps a decoded message event onto a signal.
func (c *Classifier) classifyMessage(evt *matrix.MessageEvent) Processed {
	if cmd, ok := command.Parse(evt.Content.Body); ok {
		if cmd.StopsBackfill() {
			return Processed{Signal: SignalStop}
		}
		// Other command chatter is not conversation content.
		return Processed{Signal: SignalIgnore}
	}

	return Processed{
		Signal:  SignalContinue,
		EventID: evt.EventID,
		Turn:    createTurn(c.botUserID, evt),
	}
}

// decodeMessage decodes a plain or encrypted message event, routing
// encrypted payloads through the device first.
func decodeMessage(ctx context.Context, device Device, roomID string, raw matrix.RawEvent) (*matrix.MessageEvent, error) {
	tag, err := matrix.EventType(raw)
	if err != nil {
		return nil, err
	}

	switch tag {
	case matrix.EventTypeMessage:
	case matrix.EventTypeEncrypted:
		raw, err = device.DecryptEvent(ctx, raw, roomID)
		if err != nil {
			return nil, fmt.Errorf("decrypt event: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected event type %q", tag)
	}

	var evt matrix.MessageEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode message event: %w", err)
	}
	return &evt, nil
}

// createTurn builds the chat turn for one message event. Messages the
// bot sent are assistant turns; everything else is user input.
func createTurn(botUserID string, evt *matrix.MessageEvent) openai.Message {
	role := openai.RoleUser
	if evt.Sender == botUserID {
		role = openai.RoleAssistant
	}
	return openai.TextMessage(role, evt.Content.Body)
}
