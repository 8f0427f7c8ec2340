// Package llm abstracts the model provider behind a small interface: chat
// with tools, transcription, image description, and embeddings.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable signals that no provider is configured for the tenant.
// Callers fall back to deterministic responses.
var ErrUnavailable = errors.New("llm provider unavailable")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a chat request.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is one chat completion call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	JSONMode    bool
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Provider is a configured model backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	ChatModel() string
}
