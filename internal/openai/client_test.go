package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spacebased/matrix-openai-bot/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.OpenAIConfig{
		Endpoint: srv.URL + "/v1/chat/completions",
		APIKey:   "sk-test",
		Model:    "gpt-4o-mini",
	}, nil)
}

func TestCreateChatCompletion(t *testing.T) {
	var gotReq Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want bearer credential", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi!"}}]
		}`))
	})

	tools := []map[string]any{{"type": "function"}}
	resp, err := client.CreateChatCompletion(context.Background(),
		[]Message{TextMessage(RoleUser, "Hello")}, tools)
	if err != nil {
		t.Fatalf("CreateChatCompletion error: %v", err)
	}

	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content.Text != "Hello" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
	if len(gotReq.Tools) != 1 {
		t.Errorf("request tools = %+v, want the schema set forwarded", gotReq.Tools)
	}

	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	if got := resp.Choices[0].Message.Content.Text; got != "Hi!" {
		t.Errorf("reply = %q, want Hi!", got)
	}
}

func TestCreateChatCompletion_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model overloaded"}`, http.StatusServiceUnavailable)
	})

	_, err := client.CreateChatCompletion(context.Background(),
		[]Message{TextMessage(RoleUser, "Hello")}, nil)
	if err == nil {
		t.Fatal("non-200 response should error")
	}
}

func TestCreateChatCompletion_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [`))
	})

	_, err := client.CreateChatCompletion(context.Background(),
		[]Message{TextMessage(RoleUser, "Hello")}, nil)
	if err == nil {
		t.Fatal("malformed response body should error")
	}
}
