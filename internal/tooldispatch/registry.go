// Package tooldispatch executes tools on behalf of agent runs, announcing
// each invocation and its outcome on the run's event stream. Dispatchers
// are created per execution context and share nothing mutable.
package tooldispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Invocation carries one tool call's inputs, scoped to the calling context.
type Invocation struct {
	UserID   string
	ThreadID string
	Args     map[string]any
}

// Tool is a single executable capability.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, inv Invocation) (string, error)
}

// Cacheable is implemented by tools whose results may be served from cache.
// Tools without it are never cached.
type Cacheable interface {
	CacheTTLSeconds() int
}

// Registry holds the available tools. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names fail.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", name)
	}
	return tool, nil
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
