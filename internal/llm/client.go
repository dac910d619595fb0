// Package llm defines the model-provider port. The core treats provider
// failures as retryable or degradable, never fatal to a run.
package llm

import "context"

// Message is one conversation turn handed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a model-requested tool invocation. Arguments is the raw JSON
// argument payload as produced by the model; it may be malformed and is
// repaired downstream.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request is a single model invocation.
type Request struct {
	UserID   string
	ThreadID string
	Prompt   string
	History  []Message
	// ToolResults carries outputs of tool calls from the previous turn.
	ToolResults map[string]string
}

// Response is the model's answer for one turn. A turn either requests tools
// or produces final content.
type Response struct {
	// Thinking is visible reasoning for progress events.
	Thinking string
	// Content is the final answer when no tools are requested.
	Content string
	// ToolCalls, when non-empty, must be executed before the next turn.
	ToolCalls []ToolCall
}

// Client invokes a model provider.
type Client interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}
