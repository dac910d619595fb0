// Package event defines the WebSocket event protocol spoken between agent
// runs and connected clients: five lifecycle event types plus an error type,
// all scoped to the owning user and thread.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"zen/internal/utils/id"
)

// Type identifies a WebSocket event variant.
type Type string

const (
	// TypeAgentStarted is emitted exactly once, first, when a run begins.
	TypeAgentStarted Type = "agent_started"
	// TypeAgentThinking carries visible reasoning progress; at least one per run.
	TypeAgentThinking Type = "agent_thinking"
	// TypeToolExecuting announces a tool invocation.
	TypeToolExecuting Type = "tool_executing"
	// TypeToolCompleted carries a tool result (success or structured failure).
	TypeToolCompleted Type = "tool_completed"
	// TypeAgentCompleted is emitted exactly once, last, with the final response.
	TypeAgentCompleted Type = "agent_completed"
	// TypeError carries a user-safe failure notice.
	TypeError Type = "error"
)

// MinThinkingContentLen is the minimum length of agent_thinking content.
// Shorter thinking payloads are placeholders, which the protocol forbids.
const MinThinkingContentLen = 10

// MinCompletionContentLen is the minimum length of a substantive
// agent_completed response.
const MinCompletionContentLen = 50

// IsLifecycle reports whether the type is one of the five canonical agent
// lifecycle events.
func (t Type) IsLifecycle() bool {
	switch t {
	case TypeAgentStarted, TypeAgentThinking, TypeToolExecuting, TypeToolCompleted, TypeAgentCompleted:
		return true
	}
	return false
}

// Event is a single server-to-client WebSocket event. Events are created at
// emission time, serialized immediately, and never persisted (they may be
// mirrored to the audit trail when the owning context enables it).
//
// Every event's UserID/ThreadID must equal the owning context's identifiers;
// the session registry refuses to route anything else.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Seq       uint64    `json:"seq"`
	Content   string    `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Scope carries the identifiers shared by every event of a run.
type Scope struct {
	UserID    string
	ThreadID  string
	RunID     string
	RequestID string
}

// SeqCounter provides monotonic event sequence numbering within a run.
type SeqCounter struct {
	counter atomic.Uint64
}

// Next returns the next sequence number.
func (s *SeqCounter) Next() uint64 {
	return s.counter.Add(1)
}

func newEvent(scope Scope, eventType Type, now time.Time) Event {
	return Event{
		ID:        id.NewEventID(),
		Type:      eventType,
		UserID:    scope.UserID,
		ThreadID:  scope.ThreadID,
		RunID:     scope.RunID,
		RequestID: scope.RequestID,
		Timestamp: now.UTC(),
	}
}

// NewAgentStarted constructs the run-opening event.
func NewAgentStarted(scope Scope, content string, now time.Time) Event {
	e := newEvent(scope, TypeAgentStarted, now)
	e.Content = content
	return e
}

// NewAgentThinking constructs a reasoning progress event.
func NewAgentThinking(scope Scope, content string, now time.Time) Event {
	e := newEvent(scope, TypeAgentThinking, now)
	e.Content = content
	return e
}

// NewToolExecuting constructs a tool invocation announcement.
func NewToolExecuting(scope Scope, toolName, content string, now time.Time) Event {
	e := newEvent(scope, TypeToolExecuting, now)
	e.ToolName = toolName
	e.Content = content
	return e
}

// NewToolCompleted constructs a tool result event. errMsg, when non-empty,
// must already be user-safe.
func NewToolCompleted(scope Scope, toolName, result, errMsg string, now time.Time) Event {
	e := newEvent(scope, TypeToolCompleted, now)
	e.ToolName = toolName
	e.Result = result
	e.Error = errMsg
	return e
}

// NewAgentCompleted constructs the terminal completion event. degraded marks
// a reduced-fidelity result; it is never silently omitted.
func NewAgentCompleted(scope Scope, content string, degraded bool, now time.Time) Event {
	e := newEvent(scope, TypeAgentCompleted, now)
	e.Content = content
	e.Degraded = degraded
	return e
}

// NewError constructs a user-safe error event. message must come from
// errors.FormatForClient or equivalent sanitization.
func NewError(scope Scope, message string, now time.Time) Event {
	e := newEvent(scope, TypeError, now)
	e.Error = message
	return e
}

// Validate checks structural completeness of an event before it is routed.
func (e Event) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("event %s has no user_id", e.ID)
	}
	if e.ThreadID == "" {
		return fmt.Errorf("event %s has no thread_id", e.ID)
	}
	switch e.Type {
	case TypeAgentStarted:
		if strings.TrimSpace(e.Content) == "" {
			return fmt.Errorf("agent_started event must announce that processing began")
		}
	case TypeAgentThinking:
		if len(strings.TrimSpace(e.Content)) <= MinThinkingContentLen {
			return fmt.Errorf("agent_thinking content too short (%d chars); placeholder thinking is a protocol violation", len(strings.TrimSpace(e.Content)))
		}
	case TypeToolExecuting:
		if e.ToolName == "" {
			return fmt.Errorf("tool_executing event must identify the tool")
		}
	case TypeToolCompleted:
		if e.ToolName == "" {
			return fmt.Errorf("tool_completed event must identify the tool")
		}
		if e.Result == "" && e.Error == "" {
			return fmt.Errorf("tool_completed event must carry a result or a structured failure")
		}
	case TypeAgentCompleted:
		if strings.TrimSpace(e.Content) == "" {
			return fmt.Errorf("agent_completed event must carry a final response")
		}
	case TypeError:
		if e.Error == "" {
			return fmt.Errorf("error event must carry a message")
		}
	default:
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	return nil
}

// Marshal serializes an event for the wire.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", e.ID, err)
	}
	return data, nil
}
