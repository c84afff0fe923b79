// Package openai implements the message model and HTTP client for an
// OpenAI-compatible chat-completions backend.
package openai

import (
	"encoding/json"
	"fmt"
)

// Message roles. The backend additionally emits "system" and "tool"
// roles, but the bot only ever constructs these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn exchanged with the completion backend.
// A message is immutable once constructed: content and tool calls come
// from exactly one room event or one backend response.
type Message struct {
	Role      string     `json:"role"`
	Content   *Content   `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Content is either plain text or a list of image references. The wire
// shape is untagged: a JSON string for text, a JSON array for images.
type Content struct {
	Text   string
	Images []ImageContent
}

// IsText reports whether the content is plain text rather than images.
func (c *Content) IsText() bool {
	return c.Images == nil
}

// MarshalJSON encodes text content as a JSON string and image content
// as a JSON array of image_url parts.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Images != nil {
		return json.Marshal(c.Images)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either wire shape.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Images = nil
		return nil
	}

	var images []ImageContent
	if err := json.Unmarshal(data, &images); err == nil {
		c.Text = ""
		c.Images = images
		return nil
	}

	return fmt.Errorf("content is neither a string nor an image list")
}

// ImageContent is a single image reference within image content.
type ImageContent struct {
	Type     string   `json:"type"` // always "image_url"
	ImageURL ImageURL `json:"image_url"`
}

// ImageURL wraps the image location.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is a backend-issued request to invoke a declared tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as a
// JSON-encoded string, per the chat-completions wire format.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is the chat-completions request body.
type Request struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

// Response is the chat-completions response body. Only Choices[0] is
// ever consulted.
type Response struct {
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is one completion alternative.
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// TextMessage builds a plain-text turn.
func TextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: &Content{Text: text},
	}
}

// ImageMessage builds a turn holding a single image reference.
func ImageMessage(role, url string) Message {
	return Message{
		Role: role,
		Content: &Content{
			Images: []ImageContent{
				{Type: "image_url", ImageURL: ImageURL{URL: url}},
			},
		},
	}
}
