package tooldispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zen/internal/cache"
	zenerrors "zen/internal/errors"
	"zen/internal/event"
	"zen/internal/store"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type failingTool struct{}

func (failingTool) Name() string        { return "flaky_op" }
func (failingTool) Description() string { return "always fails" }
func (failingTool) Execute(context.Context, Invocation) (string, error) {
	return "", fmt.Errorf("backend exploded: secret deadbeef")
}

func newTestDispatcher(t *testing.T, c cache.Cache) (*Dispatcher, *recordingEmitter) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, store.NewMemory()))
	require.NoError(t, reg.Register(failingTool{}))

	emitter := &recordingEmitter{}
	factory := NewFactory(reg, c, nil)
	scope := event.Scope{UserID: "user-alice", ThreadID: "thread-1", RunID: "run-1"}
	return factory.New(scope, emitter, 2), emitter
}

func TestExecuteEmitsLifecycleEvents(t *testing.T) {
	d, emitter := newTestDispatcher(t, nil)

	result, err := d.Execute(context.Background(), "calculator", `{"expression": "40 + 2"}`)
	require.NoError(t, err)
	assert.Equal(t, "42", result.Content)

	types := emitter.types()
	require.Equal(t, []event.Type{event.TypeToolExecuting, event.TypeToolCompleted}, types)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	for _, ev := range emitter.events {
		assert.Equal(t, "user-alice", ev.UserID)
		assert.Equal(t, "thread-1", ev.ThreadID)
		assert.Equal(t, "calculator", ev.ToolName)
	}
	assert.Equal(t, "42", emitter.events[1].Result)
}

func TestExecuteFailureEmitsStructuredResult(t *testing.T) {
	d, emitter := newTestDispatcher(t, nil)

	_, err := d.Execute(context.Background(), "flaky_op", `{}`)
	require.Error(t, err)
	assert.True(t, zenerrors.IsToolExecution(err))

	types := emitter.types()
	require.Equal(t, []event.Type{event.TypeToolExecuting, event.TypeToolCompleted}, types,
		"a failed tool still gets a tool_completed event")

	emitter.mu.Lock()
	failed := emitter.events[1]
	emitter.mu.Unlock()
	assert.NotEmpty(t, failed.Error)
	assert.NotContains(t, failed.Error, "deadbeef", "internal details must not reach the client")
}

func TestExecuteUnknownTool(t *testing.T) {
	d, emitter := newTestDispatcher(t, nil)

	_, err := d.Execute(context.Background(), "teleporter", `{}`)
	require.Error(t, err)
	assert.True(t, zenerrors.IsToolExecution(err))
	assert.Empty(t, emitter.types(), "no events for a tool that never started")
}

func TestMalformedArgumentsAreRepaired(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	// Trailing comma and single quotes, the way models actually mangle JSON.
	result, err := d.Execute(context.Background(), "calculator", `{'expression': '6 * 7',}`)
	require.NoError(t, err)
	assert.Equal(t, "42", result.Content)
}

func TestUnrepairableArgumentsFail(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	_, err := d.Execute(context.Background(), "calculator", `]]][[[`)
	require.Error(t, err)
	assert.True(t, zenerrors.IsToolExecution(err))
}

func TestCacheableToolResultsAreCached(t *testing.T) {
	c, err := cache.NewLRU(16, time.Minute)
	require.NoError(t, err)
	d, _ := newTestDispatcher(t, c)

	first, err := d.Execute(context.Background(), "web_search", `{"query": "golang"}`)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := d.Execute(context.Background(), "web_search", `{"query": "golang"}`)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
}

func TestCachedResultsAreScopedPerUser(t *testing.T) {
	c, err := cache.NewLRU(16, time.Minute)
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, store.NewMemory()))
	factory := NewFactory(reg, c, nil)

	alice := factory.New(event.Scope{UserID: "user-alice", ThreadID: "t-a"}, &recordingEmitter{}, 1)
	bob := factory.New(event.Scope{UserID: "user-bob", ThreadID: "t-b"}, &recordingEmitter{}, 1)

	_, err = alice.Execute(context.Background(), "web_search", `{"query": "shared"}`)
	require.NoError(t, err)

	result, err := bob.Execute(context.Background(), "web_search", `{"query": "shared"}`)
	require.NoError(t, err)
	assert.False(t, result.Cached, "one user's cached result must not be served to another")
}

func TestNonCacheableToolNeverCached(t *testing.T) {
	c, err := cache.NewLRU(16, time.Minute)
	require.NoError(t, err)
	d, _ := newTestDispatcher(t, c)

	first, err := d.Execute(context.Background(), "calculator", `{"expression": "1 + 1"}`)
	require.NoError(t, err)
	second, err := d.Execute(context.Background(), "calculator", `{"expression": "1 + 1"}`)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.False(t, second.Cached)
}

func TestHistoryLookupIsScopedToInvokingUser(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	aliceSess, err := st.Session(ctx, "user-alice", "thread-a")
	require.NoError(t, err)
	require.NoError(t, aliceSess.AppendMessage(ctx, store.Message{Role: "user", Content: "alice secret plans"}))

	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, st))
	factory := NewFactory(reg, nil, nil)
	bob := factory.New(event.Scope{UserID: "user-bob", ThreadID: "thread-a"}, &recordingEmitter{}, 1)

	result, err := bob.Execute(ctx, "history_lookup", `{}`)
	require.NoError(t, err)
	assert.NotContains(t, result.Content, "alice secret plans",
		"history is keyed by user as well as thread")
}

func TestCalculatorEvaluation(t *testing.T) {
	calc := &Calculator{}
	tests := []struct {
		expr string
		want string
	}{
		{"40 + 2", "42"},
		{"2 * 3 + 4", "10"},
		{"10 - 4 / 2", "8"},
		{"calculate 100 / 4", "25"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := calc.Execute(context.Background(), Invocation{Args: map[string]any{"expression": tt.expr}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := calc.Execute(context.Background(), Invocation{Args: map[string]any{"expression": "1 / 0"}})
	assert.Error(t, err)
	_, err = calc.Execute(context.Background(), Invocation{Args: map[string]any{"expression": "no numbers here"}})
	assert.Error(t, err)
}
