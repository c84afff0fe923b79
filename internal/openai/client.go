package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spacebased/matrix-openai-bot/internal/config"
)

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a chat-completions client. The endpoint is the full
// completions URL, not a base URL.
func NewClient(cfg config.OpenAIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute, // Large models with tools need time
		},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// CreateChatCompletion sends the full message history plus the current
// tool schemas and returns the decoded response.
func (c *Client) CreateChatCompletion(ctx context.Context, messages []Message, tools []map[string]any) (*Response, error) {
	req := Request{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "chat completion request",
		"endpoint", c.endpoint,
		"body", string(jsonData),
	)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var chatResp Response
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &chatResp, nil
}
