// Package matrix implements the Room/Device/User collaborators over the
// Matrix client-server API. Event delivery itself arrives through the
// appservice transaction endpoint; this package covers everything the
// bot calls back into the homeserver for.
package matrix

import (
	"encoding/json"
	"fmt"
)

// Known event type tags. Anything else is ignored by the bot.
const (
	EventTypeMessage   = "m.room.message"
	EventTypeEncrypted = "m.room.encrypted"
	EventTypeMember    = "m.room.member"
)

// Membership values carried by m.room.member events.
const (
	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
)

// RawEvent is an undecoded room event as delivered by the homeserver.
type RawEvent = json.RawMessage

// eventEnvelope extracts only the routing fields from a raw event.
type eventEnvelope struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// EventType returns the declared type tag of a raw event.
func EventType(raw RawEvent) (string, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("extract event type: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("event has no type tag")
	}
	return env.Type, nil
}

// EventRoomID returns the room_id field of a raw event. Transaction
// events carry it; events fetched through a room endpoint may not.
func EventRoomID(raw RawEvent) (string, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("extract room id: %w", err)
	}
	if env.RoomID == "" {
		return "", fmt.Errorf("event has no room_id")
	}
	return env.RoomID, nil
}

// MessageEvent is a decoded m.room.message event.
type MessageEvent struct {
	EventID string         `json:"event_id"`
	Sender  string         `json:"sender"`
	Type    string         `json:"type"`
	Content MessageContent `json:"content"`
}

// MessageContent is the body of an m.room.message event.
type MessageContent struct {
	MsgType       string    `json:"msgtype"`
	Body          string    `json:"body"`
	Format        string    `json:"format,omitempty"`
	FormattedBody string    `json:"formatted_body,omitempty"`
	Mentions      *Mentions `json:"m.mentions,omitempty"`
}

// Mentions lists users intentionally mentioned by the message.
type Mentions struct {
	UserIDs []string `json:"user_ids"`
}

// MentionsUser reports whether the message intentionally mentions the
// given user.
func (c MessageContent) MentionsUser(userID string) bool {
	if c.Mentions == nil {
		return false
	}
	for _, id := range c.Mentions.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MemberEvent is a decoded m.room.member state event.
type MemberEvent struct {
	EventID  string        `json:"event_id"`
	Sender   string        `json:"sender"`
	Type     string        `json:"type"`
	StateKey string        `json:"state_key"`
	Content  MemberContent `json:"content"`
}

// MemberContent carries the membership change.
type MemberContent struct {
	Membership string `json:"membership"`
}

// Direction selects the scan direction for a room message stream.
type Direction string

const (
	// Backward walks from newest to oldest.
	Backward Direction = "b"
	// Forward walks from oldest to newest.
	Forward Direction = "f"
)

// StreamItem is one element of a raw message stream. Err is non-nil for
// a transport failure, after which the stream ends.
type StreamItem struct {
	Event RawEvent
	Err   error
}

// matrixError is the standard error body returned by the client-server
// API.
type matrixError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}
