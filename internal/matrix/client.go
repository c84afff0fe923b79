package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// typingTimeout is advertised to the homeserver with every typing
// notification.
const typingTimeout = 30 * time.Second

// Client is an application-service client for the Matrix client-server
// API. All calls are authorized with the as_token and act as the bot
// user.
type Client struct {
	baseURL    string
	asToken    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a homeserver client. baseURL is the client-server
// API root, e.g. https://matrix.example.org.
func NewClient(baseURL, asToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		asToken: asToken,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// do issues one authenticated client-server API call and decodes the
// JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.asToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		var merr matrixError
		if json.Unmarshal(data, &merr) == nil && merr.ErrCode != "" {
			return fmt.Errorf("homeserver error %d %s: %s", resp.StatusCode, merr.ErrCode, merr.Error)
		}
		return fmt.Errorf("homeserver error %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// JoinRoom joins the bot user to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/join", url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodPost, path, nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	return nil
}

// SendMessage sends an m.room.message event and returns the event ID
// assigned by the homeserver. Each call uses a fresh transaction ID so
// retries are never deduplicated against earlier sends.
func (c *Client) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID), uuid.NewString())

	var result struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(ctx, http.MethodPut, path, nil, content, &result); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return result.EventID, nil
}

// SendTyping starts or stops the bot's typing notification in a room.
func (c *Client) SendTyping(ctx context.Context, roomID, userID string, typing bool) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID), url.PathEscape(userID))

	body := map[string]any{"typing": typing}
	if typing {
		body["timeout"] = typingTimeout.Milliseconds()
	}
	if err := c.do(ctx, http.MethodPut, path, nil, body, nil); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}

// SendReceipt marks an event as read by the bot user.
func (c *Client) SendReceipt(ctx context.Context, roomID, eventID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/receipt/m.read/%s",
		url.PathEscape(roomID), url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPost, path, nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	return nil
}

// GetEvent fetches a single raw event by ID.
func (c *Client) GetEvent(ctx context.Context, roomID, eventID string) (RawEvent, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/event/%s",
		url.PathEscape(roomID), url.PathEscape(eventID))

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return RawEvent(raw), nil
}

// JoinedMembers returns the user IDs currently joined to a room.
func (c *Client) JoinedMembers(ctx context.Context, roomID string) ([]string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/joined_members", url.PathEscape(roomID))

	var result struct {
		Joined map[string]json.RawMessage `json:"joined"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &result); err != nil {
		return nil, fmt.Errorf("joined members: %w", err)
	}

	members := make([]string, 0, len(result.Joined))
	for id := range result.Joined {
		members = append(members, id)
	}
	return members, nil
}

// MessagesPage is one page of a room's event history.
type MessagesPage struct {
	Start string     `json:"start"`
	End   string     `json:"end"`
	Chunk []RawEvent `json:"chunk"`
}

// Messages fetches one page of room history in the given direction.
// An empty from token starts at the current edge of the timeline.
func (c *Client) Messages(ctx context.Context, roomID string, dir Direction, from string, limit int) (*MessagesPage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/messages", url.PathEscape(roomID))

	query := url.Values{"dir": {string(dir)}}
	if from != "" {
		query.Set("from", from)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page MessagesPage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return &page, nil
}
