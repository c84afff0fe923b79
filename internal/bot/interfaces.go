package bot

import (
	"context"

	"github.com/spacebased/matrix-openai-bot/internal/matrix"
)

// Room is the room-side collaborator surface the engine consumes. The
// real implementation is *matrix.Room.
type Room interface {
	ID() string
	Join(ctx context.Context) error
	IsDirect(ctx context.Context) (bool, error)
	GetRawEvent(ctx context.Context, eventID string) (matrix.RawEvent, error)
	RawMessageStream(ctx context.Context, dir matrix.Direction) <-chan matrix.StreamItem
}

// Device is the sending and decryption collaborator surface. The real
// implementation is *matrix.Device.
type Device interface {
	DecryptEvent(ctx context.Context, raw matrix.RawEvent, roomID string) (matrix.RawEvent, error)
	SendMessage(ctx context.Context, roomID string, content matrix.MessageContent) (string, error)
	SendTyping(ctx context.Context, roomID string, typing bool) error
	SendReceipt(ctx context.Context, roomID, eventID string) error
}
