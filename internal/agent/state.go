// Package agent runs the supervisor loop for one request: it drives the
// model, dispatches tools, and emits the canonical lifecycle event sequence
// onto the owning context's channel. Every run ends with a terminal event,
// no matter what fails along the way.
package agent

// RunState is the executor's position in the run state machine.
type RunState string

const (
	StateIdle          RunState = "idle"
	StateStarted       RunState = "started"
	StateThinking      RunState = "thinking"
	StateToolExecuting RunState = "tool_executing"
	StateToolCompleted RunState = "tool_completed"
	StateCompleted     RunState = "completed"
	StateError         RunState = "error"
	StateFallback      RunState = "fallback"
)

// validTransitions maps each state to its permitted successors. ERROR is
// reachable from any non-terminal state; FALLBACK only from ERROR.
var validTransitions = map[RunState][]RunState{
	StateIdle:          {StateStarted, StateError},
	StateStarted:       {StateThinking, StateError},
	StateThinking:      {StateThinking, StateToolExecuting, StateCompleted, StateError},
	StateToolExecuting: {StateToolCompleted, StateError},
	StateToolCompleted: {StateThinking, StateToolExecuting, StateCompleted, StateError},
	StateError:         {StateFallback, StateCompleted},
	StateFallback:      {StateCompleted},
	StateCompleted:     {},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to RunState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the run.
func (s RunState) Terminal() bool { return s == StateCompleted }
