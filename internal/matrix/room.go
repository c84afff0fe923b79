package matrix

import (
	"context"
	"fmt"
)

// messagePageLimit is the page size used when streaming room history.
const messagePageLimit = 50

// Room is a handle on one Matrix room.
type Room struct {
	client *Client
	id     string
}

// Room returns a handle for the given room ID.
func (c *Client) Room(roomID string) *Room {
	return &Room{client: c, id: roomID}
}

// ID returns the room ID.
func (r *Room) ID() string {
	return r.id
}

// Join joins the bot user to the room.
func (r *Room) Join(ctx context.Context) error {
	return r.client.JoinRoom(ctx, r.id)
}

// IsDirect reports whether the room is a one-to-one chat. The
// appservice has no access to the users' account data, so this uses the
// joined member count: exactly two members means direct.
func (r *Room) IsDirect(ctx context.Context) (bool, error) {
	members, err := r.client.JoinedMembers(ctx, r.id)
	if err != nil {
		return false, err
	}
	return len(members) == 2, nil
}

// GetRawEvent fetches one raw event from the room by ID.
func (r *Room) GetRawEvent(ctx context.Context, eventID string) (RawEvent, error) {
	return r.client.GetEvent(ctx, r.id, eventID)
}

// RawMessageStream walks the room's event history in the given
// direction, paginating through /messages. The channel is closed when
// history is exhausted, the context is cancelled, or after a transport
// failure (delivered as the final item's Err).
func (r *Room) RawMessageStream(ctx context.Context, dir Direction) <-chan StreamItem {
	ch := make(chan StreamItem, 8)
	go func() {
		defer close(ch)

		from := ""
		for {
			page, err := r.client.Messages(ctx, r.id, dir, from, messagePageLimit)
			if err != nil {
				select {
				case ch <- StreamItem{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			for _, raw := range page.Chunk {
				select {
				case ch <- StreamItem{Event: raw}:
				case <-ctx.Done():
					return
				}
			}

			// An absent end token or an empty page means the walk
			// reached the edge of the visible timeline.
			if page.End == "" || len(page.Chunk) == 0 {
				return
			}
			from = page.End
		}
	}()
	return ch
}

// Decryptor decrypts end-to-end encrypted events. Encryption is
// provided by an external capability; this package only routes through
// it.
type Decryptor interface {
	DecryptEvent(ctx context.Context, raw RawEvent, roomID string) (RawEvent, error)
}

// noCryptoDecryptor is the default when no decryptor is configured.
type noCryptoDecryptor struct{}

func (noCryptoDecryptor) DecryptEvent(ctx context.Context, raw RawEvent, roomID string) (RawEvent, error) {
	return nil, fmt.Errorf("event is encrypted and no decryptor is configured")
}

// Device is the bot's sending and decryption capability.
type Device struct {
	client    *Client
	userID    string
	decryptor Decryptor
}

// NewDevice creates the bot device. A nil decryptor disables encrypted
// rooms.
func NewDevice(client *Client, userID string, decryptor Decryptor) *Device {
	if decryptor == nil {
		decryptor = noCryptoDecryptor{}
	}
	return &Device{client: client, userID: userID, decryptor: decryptor}
}

// DecryptEvent decrypts an m.room.encrypted event into its plaintext
// raw event.
func (d *Device) DecryptEvent(ctx context.Context, raw RawEvent, roomID string) (RawEvent, error) {
	return d.decryptor.DecryptEvent(ctx, raw, roomID)
}

// SendMessage sends a message event to the room and returns its event ID.
func (d *Device) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	return d.client.SendMessage(ctx, roomID, content)
}

// SendTyping starts or stops the bot's typing notification.
func (d *Device) SendTyping(ctx context.Context, roomID string, typing bool) error {
	return d.client.SendTyping(ctx, roomID, d.userID, typing)
}

// SendReceipt marks an event as read by the bot.
func (d *Device) SendReceipt(ctx context.Context, roomID, eventID string) error {
	return d.client.SendReceipt(ctx, roomID, eventID)
}

// User is the bot user identity.
type User struct {
	id     string
	device *Device
}

// NewUser binds a user ID to its device.
func NewUser(id string, device *Device) *User {
	return &User{id: id, device: device}
}

// ID returns the full Matrix user ID.
func (u *User) ID() string {
	return u.id
}

// GetDevice returns the user's device.
func (u *User) GetDevice() *Device {
	return u.device
}
