package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spacebased/matrix-openai-bot/internal/command"
	"github.com/spacebased/matrix-openai-bot/internal/events"
	"github.com/spacebased/matrix-openai-bot/internal/matrix"
)

// handleTimeout bounds the processing of one incoming event, tool
// calls and completion round trips included.
const handleTimeout = 5 * time.Minute

// HandleRoomMember reacts to membership changes: an invite addressed
// to the bot is accepted by joining the room. Everything else is
// ignored.
func (e *Engine) HandleRoomMember(ctx context.Context, raw matrix.RawEvent, room Room) error {
	var evt matrix.MemberEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return fmt.Errorf("decode member event: %w", err)
	}
	if evt.StateKey != e.botUserID || evt.Content.Membership != matrix.MembershipInvite {
		return nil
	}

	e.logger.Info("accepting room invite",
		"room_id", room.ID(),
		"inviter", evt.Sender,
	)
	if err := room.Join(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", room.ID(), err)
	}
	return nil
}

// HandleRoomMessage runs the full turn for one incoming message:
// relevance gating, command handling, conversation materialization,
// first-contact backfill, the completion exchange, and anchor
// recording. Messages sent by the bot itself are ignored.
func (e *Engine) HandleRoomMessage(ctx context.Context, raw matrix.RawEvent, room Room, device Device) error {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	evt, err := decodeMessage(ctx, device, room.ID(), raw)
	if err != nil {
		return err
	}
	if evt.Sender == e.botUserID {
		return nil
	}

	direct, err := room.IsDirect(ctx)
	if err != nil {
		return fmt.Errorf("determine room kind: %w", err)
	}
	// In group rooms the bot only answers when explicitly mentioned.
	if !direct && !evt.Content.MentionsUser(e.botUserID) {
		return nil
	}

	cmd, isCommand := command.Parse(evt.Content.Body)
	e.publish(events.KindMessageReceived, map[string]any{
		"room_id": room.ID(),
		"direct":  direct,
		"command": isCommand,
	})

	// Read receipt is best effort; a failure must not kill the turn.
	if err := device.SendReceipt(ctx, room.ID(), evt.EventID); err != nil {
		e.logger.Warn("send read receipt", "room_id", room.ID(), "error", err)
	}

	if isCommand {
		return e.handleCommand(ctx, cmd, room, device)
	}
	return e.handlePrompt(ctx, evt, room, device, direct)
}

// handleCommand executes a control directive and sends its static
// reply, if any.
func (e *Engine) handleCommand(ctx context.Context, cmd command.Command, room Room, device Device) error {
	e.logger.Info("handling command", "room_id", room.ID(), "keyword", cmd.Keyword)
	e.publish(events.KindCommand, map[string]any{
		"room_id": room.ID(),
		"keyword": cmd.Keyword,
	})

	if cmd.Kind == command.Reset {
		e.store.Clear(Identity{UserID: e.botUserID, RoomID: room.ID()})
	}

	reply := cmd.Reply()
	if reply == "" {
		return nil
	}
	if _, err := device.SendMessage(ctx, room.ID(), matrix.TextMarkdown(reply)); err != nil {
		return fmt.Errorf("send command reply: %w", err)
	}
	return nil
}

// handlePrompt runs one conversational turn end to end.
func (e *Engine) handlePrompt(ctx context.Context, evt *matrix.MessageEvent, room Room, device Device, direct bool) error {
	if err := device.SendTyping(ctx, room.ID(), true); err != nil {
		e.logger.Debug("start typing", "room_id", room.ID(), "error", err)
	}
	defer func() {
		// The turn context may already be done; stopping the typing
		// indicator gets its own short deadline.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := device.SendTyping(stopCtx, room.ID(), false); err != nil {
			e.logger.Debug("stop typing", "room_id", room.ID(), "error", err)
		}
	}()

	conv, err := e.Conversation(ctx, room, device)
	if err != nil {
		e.failTurn(room.ID(), err)
		return err
	}

	// First contact in a direct room: recover prior history so the
	// bot does not greet an old acquaintance as a stranger.
	if conv.Empty() && direct {
		if err := conv.Backfill(ctx); err != nil {
			e.failTurn(room.ID(), err)
			return fmt.Errorf("backfill room %s: %w", room.ID(), err)
		}
	}

	reply, err := conv.SendPrompt(ctx, evt.Content.Body)
	if err != nil {
		e.failTurn(room.ID(), err)
		return fmt.Errorf("run turn in %s: %w", room.ID(), err)
	}

	responseID, err := device.SendMessage(ctx, room.ID(), matrix.TextMarkdown(reply))
	if err != nil {
		// Nothing reached the room, so nothing is anchored.
		e.failTurn(room.ID(), err)
		return fmt.Errorf("send reply to %s: %w", room.ID(), err)
	}
	conv.InsertDialog(evt.EventID, responseID)

	e.publish(events.KindReplySent, map[string]any{
		"room_id":      room.ID(),
		"response_len": len(reply),
	})
	return nil
}

func (e *Engine) failTurn(roomID string, err error) {
	e.publish(events.KindTurnFailed, map[string]any{
		"room_id": roomID,
		"error":   err.Error(),
	})
}
