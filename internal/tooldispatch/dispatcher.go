package tooldispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/semaphore"

	"zen/internal/cache"
	zenerrors "zen/internal/errors"
	"zen/internal/event"
	"zen/internal/logging"
	"zen/internal/utils/id"
)

// Emitter publishes events onto the owning run's stream. The agent executor
// implements it; tests use fakes.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// Result is one completed tool execution.
type Result struct {
	Tool     string
	Content  string
	Cached   bool
	Duration time.Duration
}

// Factory builds per-context dispatchers over shared immutable collaborators
// (registry, cache). The cache itself is safe to share; dispatcher state is
// not, so every run gets its own instance.
type Factory struct {
	registry *Registry
	cache    cache.Cache
	logger   logging.Logger
}

// NewFactory creates a dispatcher factory. cache may be nil to disable
// result caching.
func NewFactory(registry *Registry, c cache.Cache, logger logging.Logger) *Factory {
	return &Factory{registry: registry, cache: c, logger: logging.OrNop(logger)}
}

// New creates a dispatcher for one run. maxConcurrent bounds simultaneous
// tool calls within the context, per its tier's resource allocation.
func (f *Factory) New(scope event.Scope, emitter Emitter, maxConcurrent int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		registry: f.registry,
		cache:    f.cache,
		logger:   f.logger,
		scope:    scope,
		emitter:  emitter,
		slots:    semaphore.NewWeighted(int64(maxConcurrent)),
		now:      time.Now,
	}
}

// Dispatcher executes tools for exactly one execution context.
type Dispatcher struct {
	registry *Registry
	cache    cache.Cache
	logger   logging.Logger
	scope    event.Scope
	emitter  Emitter
	slots    *semaphore.Weighted
	now      func() time.Time
}

// Execute runs the named tool with raw JSON arguments from the model,
// emitting tool_executing before and tool_completed after. Malformed
// argument JSON is repaired before parsing. Failures come back as
// ToolExecutionError with a structured tool_completed event already
// emitted.
func (d *Dispatcher) Execute(ctx context.Context, toolName, rawArgs string) (Result, error) {
	tool, err := d.registry.Get(toolName)
	if err != nil {
		return Result{}, &zenerrors.ToolExecutionError{Tool: toolName, Err: err}
	}

	args, err := d.parseArgs(rawArgs)
	if err != nil {
		return Result{}, &zenerrors.ToolExecutionError{Tool: toolName, Err: err}
	}

	if err := d.slots.Acquire(ctx, 1); err != nil {
		return Result{}, &zenerrors.ToolExecutionError{Tool: toolName, Err: err}
	}
	defer d.slots.Release(1)

	executing := event.NewToolExecuting(d.scope, toolName,
		fmt.Sprintf("Executing %s", toolName), d.now())
	if err := d.emitter.Emit(ctx, executing); err != nil {
		d.logger.Warn("tool_executing emission failed for %s: %v", toolName, err)
	}

	start := d.now()
	content, cached, execErr := d.run(ctx, tool, args, rawArgs)
	elapsed := d.now().Sub(start)

	if execErr != nil {
		failed := event.NewToolCompleted(d.scope, toolName, "",
			fmt.Sprintf("Tool %s did not complete successfully.", toolName), d.now())
		if err := d.emitter.Emit(ctx, failed); err != nil {
			d.logger.Warn("tool_completed emission failed for %s: %v", toolName, err)
		}
		return Result{}, &zenerrors.ToolExecutionError{Tool: toolName, Err: execErr}
	}

	completed := event.NewToolCompleted(d.scope, toolName, content, "", d.now())
	if err := d.emitter.Emit(ctx, completed); err != nil {
		d.logger.Warn("tool_completed emission failed for %s: %v", toolName, err)
	}

	d.logger.Debug("tool %s completed in %s (cached=%v run=%s)",
		toolName, elapsed, cached, id.RunIDFromContext(ctx))
	return Result{Tool: toolName, Content: content, Cached: cached, Duration: elapsed}, nil
}

func (d *Dispatcher) run(ctx context.Context, tool Tool, args map[string]any, rawArgs string) (string, bool, error) {
	cacheable, canCache := tool.(Cacheable)
	var key string
	if canCache && d.cache != nil {
		key = d.cacheKey(tool.Name(), rawArgs)
		if value, found, err := d.cache.Get(ctx, key); err == nil && found {
			return value, true, nil
		}
	}

	content, err := tool.Execute(ctx, Invocation{
		UserID:   d.scope.UserID,
		ThreadID: d.scope.ThreadID,
		Args:     args,
	})
	if err != nil {
		return "", false, err
	}

	if canCache && d.cache != nil {
		ttl := time.Duration(cacheable.CacheTTLSeconds()) * time.Second
		if err := d.cache.Set(ctx, key, content, ttl); err != nil {
			d.logger.Debug("result caching skipped for %s: %v", tool.Name(), err)
		}
	}
	return content, false, nil
}

// parseArgs decodes model-supplied JSON, repairing it first when the model
// produced something almost-JSON.
func (d *Dispatcher) parseArgs(rawArgs string) (map[string]any, error) {
	if rawArgs == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(rawArgs)
	if err != nil {
		return nil, fmt.Errorf("tool arguments are not valid JSON and could not be repaired")
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("tool arguments are not valid JSON after repair")
	}
	d.logger.Info("repaired malformed tool arguments for user=%s", d.scope.UserID)
	return args, nil
}

// cacheKey scopes cached results to the owning user so one user's tool
// output can never be served to another.
func (d *Dispatcher) cacheKey(toolName, rawArgs string) string {
	sum := sha256.Sum256([]byte(rawArgs))
	return fmt.Sprintf("tool:%s:%s:%s", d.scope.UserID, toolName, hex.EncodeToString(sum[:8]))
}
