// Package llmtest provides scriptable model clients for tests.
package llmtest

import (
	"context"
	"sync"

	"zen/internal/llm"
)

// Step is one scripted turn: either a response or an error.
type Step struct {
	Response llm.Response
	Err      error
}

// Fake replays a fixed sequence of steps. Once the script runs out it
// repeats the final step, so retry loops always have something to observe.
type Fake struct {
	mu    sync.Mutex
	steps []Step
	calls int
}

// New creates a fake that replays steps in order.
func New(steps ...Step) *Fake {
	return &Fake{steps: steps}
}

// Invoke returns the next scripted step.
func (f *Fake) Invoke(_ context.Context, _ llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	if idx < 0 {
		return llm.Response{}, nil
	}
	step := f.steps[idx]
	return step.Response, step.Err
}

// Calls reports how many invocations the fake has served.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
