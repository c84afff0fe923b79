// Package tools defines the closed set of tools the completion backend
// may invoke.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/spacebased/matrix-openai-bot/internal/openai"
)

// ErrUnknownTool is returned by ParseCall for a name outside the
// declared set.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one declared capability. Name, Description and Parameters are
// the single declarative source for both the advertised schema and call
// dispatch, so registry and dispatcher can never disagree.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-Schema object describing the arguments.
	Parameters map[string]any
	// Handler runs the tool and returns the turn to append to history.
	Handler func(ctx context.Context, args map[string]any) (openai.Message, error)
}

// Call pairs a declared tool with arguments parsed from one backend
// tool-call record.
type Call struct {
	ID   string
	Tool *Tool
	Args map[string]any
}

// Registry holds the declared tools. The set is fixed at construction.
type Registry struct {
	tools map[string]*Tool
	order []string // registration order, for stable schema output
}

// NewRegistry creates the registry with all built-in tools declared.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}

	r.register(&Tool{
		Name:        "fetch_url",
		Description: "Fetch the contents of a URL and return HTML or image metadata.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The absolute http or https URL to fetch",
				},
			},
			"required": []string{"url"},
		},
		Handler: handleFetchURL,
	})

	return r
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Schemas produces the tool advertisements for the completion backend,
// one {type:"function", function:{...}} record per declared tool.
// Rebuilt from the declarations on every call.
func (r *Registry) Schemas() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// ParseCall decodes a backend-issued tool-call record against the
// declared set. Fails if the name is unknown or the arguments do not
// match the tool's parameter shape.
func (r *Registry) ParseCall(call openai.ToolCall) (*Call, error) {
	tool := r.tools[call.Function.Name]
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, call.Function.Name)
	}

	args := make(map[string]any)
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", tool.Name, err)
		}
	}

	if err := checkRequired(tool, args); err != nil {
		return nil, err
	}

	return &Call{ID: call.ID, Tool: tool, Args: args}, nil
}

// checkRequired verifies every schema-required argument is present.
func checkRequired(tool *Tool, args map[string]any) error {
	required, _ := tool.Parameters["required"].([]string)
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("tool %s: missing required argument %q", tool.Name, name)
		}
	}
	return nil
}

// Execute runs the call's side effect and returns the resulting turn.
// A failed execution is an error; the turn is never silently dropped.
func (r *Registry) Execute(ctx context.Context, call *Call) (openai.Message, error) {
	msg, err := call.Tool.Handler(ctx, call.Args)
	if err != nil {
		return openai.Message{}, fmt.Errorf("tool %s: %w", call.Tool.Name, err)
	}
	return msg, nil
}

// handleFetchURL validates the URL argument and packages it as an
// image-reference turn for the next completion round.
func handleFetchURL(ctx context.Context, args map[string]any) (openai.Message, error) {
	raw, _ := args["url"].(string)
	if raw == "" {
		return openai.Message{}, fmt.Errorf("url must be a non-empty string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return openai.Message{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return openai.Message{}, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	return openai.ImageMessage(openai.RoleUser, u.String()), nil
}
