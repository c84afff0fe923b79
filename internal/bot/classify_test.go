package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/spacebased/matrix-openai-bot/internal/matrix"
	"github.com/spacebased/matrix-openai-bot/internal/openai"
)

func newTestClassifier(device Device) *Classifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClassifier(device, testRoomID, testBotID, logger)
}

func TestClassify_Signals(t *testing.T) {
	c := newTestClassifier(&fakeDevice{})

	tests := []struct {
		name string
		raw  matrix.RawEvent
		want Signal
	}{
		{"user message", rawMessage("$1", testUserID, "hello"), SignalContinue},
		{"bot message", rawMessage("$2", testBotID, "hi there"), SignalContinue},
		{"reset command", rawMessage("$3", testUserID, "!reset"), SignalStop},
		{"help command", rawMessage("$4", testUserID, "!help"), SignalIgnore},
		{"unknown command", rawMessage("$5", testUserID, "!frobnicate"), SignalIgnore},
		{"membership leave", rawMember("$6", testUserID, testUserID, "leave"), SignalStop},
		{"membership join", rawMember("$7", testUserID, testUserID, "join"), SignalIgnore},
		{"unknown event type", matrix.RawEvent(`{"type":"m.room.topic","content":{}}`), SignalIgnore},
		{"reaction event", matrix.RawEvent(`{"type":"m.reaction","content":{}}`), SignalIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tt.raw, ModeBackfill)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got.Signal != tt.want {
				t.Errorf("signal = %v, want %v", got.Signal, tt.want)
			}
		})
	}
}

func TestClassify_TurnContents(t *testing.T) {
	c := newTestClassifier(&fakeDevice{})

	got, err := c.Classify(context.Background(), rawMessage("$abc", testUserID, "what's the weather"), ModeLive)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.EventID != "$abc" {
		t.Errorf("event id = %q, want $abc", got.EventID)
	}
	if got.Turn.Role != openai.RoleUser {
		t.Errorf("role = %q, want user", got.Turn.Role)
	}
	if got.Turn.Content == nil || got.Turn.Content.Text != "what's the weather" {
		t.Errorf("turn content = %+v, want the message body", got.Turn.Content)
	}

	// The bot's own messages come back as assistant turns.
	got, err = c.Classify(context.Background(), rawMessage("$def", testBotID, "sunny"), ModeLive)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Turn.Role != openai.RoleAssistant {
		t.Errorf("role = %q, want assistant", got.Turn.Role)
	}
}

func TestClassify_MissingTypeTag(t *testing.T) {
	c := newTestClassifier(&fakeDevice{})
	raw := matrix.RawEvent(`{"event_id":"$broken","content":{}}`)

	// Backfill tolerates unreadable history.
	got, err := c.Classify(context.Background(), raw, ModeBackfill)
	if err != nil {
		t.Fatalf("backfill Classify() error = %v", err)
	}
	if got.Signal != SignalIgnore {
		t.Errorf("backfill signal = %v, want ignore", got.Signal)
	}

	// Live handling does not.
	if _, err := c.Classify(context.Background(), raw, ModeLive); err == nil {
		t.Error("live Classify() on tagless event succeeded, want error")
	}
}

func TestClassify_EncryptedRoutesThroughDevice(t *testing.T) {
	device := &fakeDevice{
		decryptFn: func(matrix.RawEvent) (matrix.RawEvent, error) {
			return rawMessage("$enc", testUserID, "secret hello"), nil
		},
	}
	c := newTestClassifier(device)

	raw := matrix.RawEvent(`{"type":"m.room.encrypted","event_id":"$enc","content":{"algorithm":"m.megolm.v1.aes-sha2"}}`)
	got, err := c.Classify(context.Background(), raw, ModeLive)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Signal != SignalContinue || got.Turn.Content.Text != "secret hello" {
		t.Errorf("decrypted turn = %+v, want the plaintext body", got)
	}
}

func TestClassify_DecryptFailureIsFatal(t *testing.T) {
	device := &fakeDevice{
		decryptFn: func(matrix.RawEvent) (matrix.RawEvent, error) {
			return nil, fmt.Errorf("unknown megolm session")
		},
	}
	c := newTestClassifier(device)

	raw := matrix.RawEvent(`{"type":"m.room.encrypted","event_id":"$enc","content":{}}`)
	for _, mode := range []Mode{ModeLive, ModeBackfill} {
		if _, err := c.Classify(context.Background(), raw, mode); err == nil {
			t.Errorf("mode %v: Classify() succeeded, want decrypt error", mode)
		}
	}
}
