package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"zen/internal/audit"
	zenerrors "zen/internal/errors"
	"zen/internal/event"
	"zen/internal/llm"
	"zen/internal/logging"
	"zen/internal/registry"
	"zen/internal/store"
	"zen/internal/tooldispatch"
	"zen/internal/usercontext"
	"zen/internal/utils/id"
)

const (
	defaultMaxTurns = 6

	// realWorkFloor is the wall-clock duration below which a completed run
	// is flagged as suspiciously fast. Observed and reported, not enforced.
	realWorkFloor = 2 * time.Second
)

// slaBudgets are soft per-event deadlines measured from run start. Breaches
// are instrumented, never fatal.
var slaBudgets = map[event.Type]time.Duration{
	event.TypeAgentStarted:   5 * time.Second,
	event.TypeAgentThinking:  10 * time.Second,
	event.TypeToolExecuting:  15 * time.Second,
	event.TypeToolCompleted:  20 * time.Second,
	event.TypeAgentCompleted: 30 * time.Second,
}

// Executor supervises agent runs. It is safe for concurrent use; all
// per-run state lives in the runner created for each Run call.
type Executor struct {
	llm         llm.Client
	dispatchers *tooldispatch.Factory
	sessions    registry.SessionRegistry
	store       store.Store

	logger   logging.Logger
	metrics  Metrics
	recorder audit.Recorder
	retry    zenerrors.RetryConfig
	maxTurns int
	now      func() time.Time
	// degradedDeps reports currently-degraded dependency names so final
	// answers can say so instead of claiming full fidelity.
	degradedDeps func() []string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the component logger.
func WithExecutorLogger(logger logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the instrumentation sink.
func WithMetrics(m Metrics) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithRecorder sets the audit recorder for contexts with auditing enabled.
func WithRecorder(r audit.Recorder) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithRetryConfig overrides the model/tool retry policy.
func WithRetryConfig(cfg zenerrors.RetryConfig) ExecutorOption {
	return func(e *Executor) { e.retry = cfg }
}

// WithMaxTurns bounds model/tool round trips per run.
func WithMaxTurns(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithDegradedDeps wires a probe reporting degraded dependency names.
func WithDegradedDeps(probe func() []string) ExecutorOption {
	return func(e *Executor) { e.degradedDeps = probe }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor wires the supervisor over its collaborators.
func NewExecutor(client llm.Client, dispatchers *tooldispatch.Factory, sessions registry.SessionRegistry, st store.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		llm:          client,
		dispatchers:  dispatchers,
		sessions:     sessions,
		store:        st,
		logger:       logging.Nop(),
		metrics:      nopMetrics{},
		recorder:     audit.Nop{},
		retry:        zenerrors.DefaultRetryConfig(),
		maxTurns:     defaultMaxTurns,
		now:          time.Now,
		degradedDeps: func() []string { return nil },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunResult summarizes one finished run.
type RunResult struct {
	RunID     string
	Content   string
	Degraded  bool
	Failed    bool
	Turns     int
	ToolCalls int
	Duration  time.Duration
}

// runner carries the mutable state of one run.
type runner struct {
	exec     *Executor
	scope    event.Scope
	seq      event.SeqCounter
	state    RunState
	start    time.Time
	terminal bool
	notes    []string // honest degradation notes for the final answer
}

// Emit implements tooldispatch.Emitter.
func (r *runner) Emit(ctx context.Context, ev event.Event) error { return r.emit(ctx, ev) }

func (r *runner) emit(ctx context.Context, ev event.Event) error {
	ev.Seq = r.seq.Next()

	// Terminal events must reach the client even when the run's context was
	// cancelled; a cancelled ctx would make a live channel refuse the send.
	if ev.Type == event.TypeAgentCompleted || ev.Type == event.TypeError {
		ctx = context.WithoutCancel(ctx)
	}

	if budget, ok := slaBudgets[ev.Type]; ok {
		if elapsed := r.exec.now().Sub(r.start); elapsed > budget {
			r.exec.metrics.SLABreached(string(ev.Type))
			r.exec.logger.Warn("soft SLA breach: %s at %s into run %s (budget %s)",
				ev.Type, elapsed, r.scope.RunID, budget)
		}
	}

	err := r.exec.sessions.RouteEvent(ctx, ev)
	switch {
	case err == nil:
	case zenerrors.IsChannelTimeout(err):
		// Slow client; the event is lost to this connection, the run goes on.
		r.exec.logger.Warn("event %s delivery timed out for run %s", ev.Type, r.scope.RunID)
	default:
		return err
	}

	r.exec.metrics.EventEmitted(string(ev.Type))
	if ev.Type == event.TypeAgentCompleted {
		r.terminal = true
	}
	return nil
}

func (r *runner) transition(to RunState) {
	if !CanTransition(r.state, to) {
		r.exec.logger.Error("illegal run state transition %s -> %s on run %s", r.state, to, r.scope.RunID)
	}
	r.state = to
}

func (r *runner) note(note string) {
	for _, existing := range r.notes {
		if existing == note {
			return
		}
	}
	r.notes = append(r.notes, note)
}

// Run executes one agent request end to end. By the time it returns, a
// terminal agent_completed event has been emitted for the run (degraded
// when anything along the way had to be skipped or faked down, and clearly
// marked as such).
func (e *Executor) Run(ctx context.Context, uc usercontext.UserExecutionContext, prompt string) (RunResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return RunResult{}, fmt.Errorf("prompt is required")
	}
	if !uc.Active() {
		return RunResult{}, fmt.Errorf("context %s is not active", uc.ContextID)
	}
	if uc.Expired(e.now()) {
		return RunResult{}, &zenerrors.ContextExpiredError{ContextID: uc.ContextID, ExpiredAt: uc.ExpiresAt}
	}

	scope := event.Scope{
		UserID:    uc.UserID,
		ThreadID:  uc.ThreadID,
		RunID:     uc.RunID,
		RequestID: uc.RequestID,
	}
	r := &runner{exec: e, scope: scope, state: StateIdle, start: e.now()}

	// Stamp the run identity onto the context so downstream components
	// (dispatcher logs, store calls) can attribute their work to this run.
	ctx = id.WithUserID(ctx, uc.UserID)
	ctx = id.WithThreadID(ctx, uc.ThreadID)
	ctx = id.WithRunID(ctx, uc.RunID)
	ctx = id.WithRequestID(ctx, uc.RequestID)

	ctx, span := startRunSpan(ctx, traceSpanRun, scope)
	defer span.End()

	e.metrics.RunStarted(uc.UserID)
	if uc.AuditEnabled {
		e.recorder.Record(audit.Entry{
			EventType: "run_started",
			Data:      map[string]any{"run_id": uc.RunID, "user_id": uc.UserID, "thread_id": uc.ThreadID},
		})
	}

	result := e.execute(ctx, r, uc, prompt)

	// A run must never end without a terminal event.
	if !r.terminal {
		r.note("the run was interrupted before a full answer was produced")
		fallback := e.fallbackContent(prompt, r.notes)
		if err := r.emit(ctx, event.NewAgentCompleted(scope, fallback, true, e.now())); err != nil {
			e.logger.Error("terminal event emission failed for run %s: %v", uc.RunID, err)
		}
		result.Degraded = true
		if result.Content == "" {
			result.Content = fallback
		}
	}

	result.RunID = uc.RunID
	result.Duration = e.now().Sub(r.start)
	e.metrics.RunFinished(result.Duration, result.Degraded, result.Failed)
	if result.Duration < realWorkFloor {
		e.metrics.FastRun(result.Duration)
		e.logger.Debug("run %s completed in %s, below the real-work floor", uc.RunID, result.Duration)
	}
	markSpanResult(span, nil)
	span.SetAttributes(attribute.Bool(traceAttrDegraded, result.Degraded))

	if uc.AuditEnabled {
		e.recorder.Record(audit.Entry{
			EventType: "run_completed",
			Data: map[string]any{
				"run_id":   uc.RunID,
				"degraded": result.Degraded,
				"failed":   result.Failed,
				"duration": result.Duration.String(),
			},
		})
	}
	return result, nil
}

func (e *Executor) execute(ctx context.Context, r *runner, uc usercontext.UserExecutionContext, prompt string) RunResult {
	var result RunResult

	r.transition(StateStarted)
	if err := r.emit(ctx, event.NewAgentStarted(r.scope,
		"Your request has been received and AI processing has started.", e.now())); err != nil {
		e.logger.Error("agent_started emission failed for run %s: %v", uc.RunID, err)
	}

	session, history := e.openSession(ctx, r, uc, prompt)
	if session != nil {
		defer session.Close()
	}

	dispatcher := e.dispatchers.New(r.scope, r, uc.Resources.MaxConcurrent)

	req := llm.Request{
		UserID:   uc.UserID,
		ThreadID: uc.ThreadID,
		Prompt:   prompt,
		History:  history,
	}

	for turn := 1; turn <= e.maxTurns; turn++ {
		if ctx.Err() != nil {
			e.logger.Info("run %s cancelled at turn %d", uc.RunID, turn)
			r.note("the request was cancelled before completion")
			result.Failed = true
			result.Degraded = true
			result.Turns = turn - 1
			return result
		}
		result.Turns = turn

		resp, err := e.invokeModel(ctx, r, req, turn)
		if err != nil {
			return e.failRun(ctx, r, prompt, result, err)
		}

		r.transition(StateThinking)
		thinking := resp.Thinking
		if len(strings.TrimSpace(thinking)) <= event.MinThinkingContentLen {
			thinking = fmt.Sprintf("Reviewing the model output for turn %d and deciding whether tools are needed to answer %q.", turn, truncate(prompt, 80))
		}
		if err := r.emit(ctx, event.NewAgentThinking(r.scope, thinking, e.now())); err != nil {
			e.logger.Error("agent_thinking emission failed for run %s: %v", uc.RunID, err)
		}

		if len(resp.ToolCalls) > 0 {
			req.ToolResults = e.runTools(ctx, r, dispatcher, resp.ToolCalls, &result)
			continue
		}

		if strings.TrimSpace(resp.Content) != "" {
			return e.completeRun(ctx, r, session, resp.Content, result)
		}

		// Neither tools nor content: treat as a wasted turn.
		e.logger.Warn("model returned an empty turn for run %s (turn %d)", uc.RunID, turn)
	}

	r.note("the turn budget ran out before the model produced a final answer")
	return result
}

// openSession opens the per-context history handle and records the user's
// message. Store failures degrade the run instead of failing it.
func (e *Executor) openSession(ctx context.Context, r *runner, uc usercontext.UserExecutionContext, prompt string) (store.Session, []llm.Message) {
	session, err := e.store.Session(ctx, uc.UserID, uc.ThreadID)
	if err != nil {
		e.logger.Warn("store session unavailable for run %s: %v", uc.RunID, err)
		r.note("conversation history was unavailable")
		return nil, nil
	}

	var history []llm.Message
	stored, err := session.History(ctx)
	if err != nil {
		e.logger.Warn("history read failed for run %s: %v", uc.RunID, err)
		r.note("earlier conversation turns could not be loaded")
	} else {
		history = make([]llm.Message, 0, len(stored))
		for _, msg := range stored {
			history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
		}
	}

	if err := session.AppendMessage(ctx, store.Message{
		Role:      "user",
		Content:   prompt,
		Timestamp: e.now(),
	}); err != nil {
		e.logger.Warn("failed to persist user message for run %s: %v", uc.RunID, err)
	}
	return session, history
}

func (e *Executor) invokeModel(ctx context.Context, r *runner, req llm.Request, turn int) (llm.Response, error) {
	llmCtx, span := startRunSpan(ctx, traceSpanLLMGenerate, r.scope, attribute.Int(traceAttrTurn, turn))
	defer span.End()

	resp, err := zenerrors.RetryWithResultAndLog(llmCtx, e.retry, func(ctx context.Context) (llm.Response, error) {
		return e.llm.Invoke(ctx, req)
	}, e.logger)
	markSpanResult(span, err)
	return resp, err
}

// runTools executes the model's tool calls, retrying transient failures.
// A tool that stays down does not kill the run; its absence is recorded and
// the final answer is marked degraded.
func (e *Executor) runTools(ctx context.Context, r *runner, dispatcher *tooldispatch.Dispatcher, calls []llm.ToolCall, result *RunResult) map[string]string {
	results := make(map[string]string, len(calls))
	for _, call := range calls {
		r.transition(StateToolExecuting)
		result.ToolCalls++

		toolCtx, span := startRunSpan(ctx, traceSpanToolExecute, r.scope,
			attribute.String(traceAttrToolName, call.Name))

		start := e.now()
		var res tooldispatch.Result
		err := zenerrors.RetryWithLog(toolCtx, e.retry, func(ctx context.Context) error {
			var execErr error
			res, execErr = dispatcher.Execute(ctx, call.Name, call.Arguments)
			return execErr
		}, e.logger)
		elapsed := e.now().Sub(start)
		markSpanResult(span, err)
		span.End()

		e.metrics.ToolExecuted(call.Name, elapsed, err == nil)
		r.transition(StateToolCompleted)

		if err != nil {
			e.logger.Warn("tool %s failed for run %s after retries: %v", call.Name, r.scope.RunID, err)
			r.note(fmt.Sprintf("the %s tool was unavailable", call.Name))
			results[call.Name] = "unavailable"
			continue
		}
		results[call.Name] = res.Content
	}
	return results
}

// completeRun emits the terminal event. Any degradation that happened along
// the way is stated in the answer and flagged on the event; a degraded
// result is never passed off as full fidelity.
func (e *Executor) completeRun(ctx context.Context, r *runner, session store.Session, content string, result RunResult) RunResult {
	for _, dep := range e.degradedDeps() {
		r.note(fmt.Sprintf("the %s backend is currently degraded", dep))
	}

	degraded := len(r.notes) > 0
	if degraded {
		content = fmt.Sprintf("%s\n\nNote: parts of this answer are reduced fidelity: %s.",
			content, strings.Join(r.notes, "; "))
	}
	if len(content) <= event.MinCompletionContentLen {
		e.logger.Warn("final answer for run %s is unusually short (%d chars)", r.scope.RunID, len(content))
	}

	r.transition(StateCompleted)
	if err := r.emit(ctx, event.NewAgentCompleted(r.scope, content, degraded, e.now())); err != nil {
		e.logger.Error("agent_completed emission failed for run %s: %v", r.scope.RunID, err)
	}

	if session != nil {
		if err := session.AppendMessage(ctx, store.Message{
			Role:      "assistant",
			Content:   content,
			Timestamp: e.now(),
		}); err != nil {
			e.logger.Warn("failed to persist assistant reply for run %s: %v", r.scope.RunID, err)
		}
	}

	result.Content = content
	result.Degraded = degraded
	return result
}

// failRun handles an unrecoverable model failure: a user-safe error event,
// then a fallback completion that is explicit about being degraded.
func (e *Executor) failRun(ctx context.Context, r *runner, prompt string, result RunResult, cause error) RunResult {
	e.logger.Error("run %s failed: %v", r.scope.RunID, cause)
	r.transition(StateError)

	if err := r.emit(ctx, event.NewError(r.scope, zenerrors.FormatForClient(cause), e.now())); err != nil {
		e.logger.Error("error event emission failed for run %s: %v", r.scope.RunID, err)
	}

	r.transition(StateFallback)
	r.note("the language model could not be reached")
	fallback := e.fallbackContent(prompt, r.notes)

	r.transition(StateCompleted)
	if err := r.emit(ctx, event.NewAgentCompleted(r.scope, fallback, true, e.now())); err != nil {
		e.logger.Error("fallback completion emission failed for run %s: %v", r.scope.RunID, err)
	}

	result.Content = fallback
	result.Degraded = true
	result.Failed = true
	return result
}

// fallbackContent states plainly what happened and what was not done. It
// never pretends the work succeeded.
func (e *Executor) fallbackContent(prompt string, notes []string) string {
	reason := "an internal problem interrupted processing"
	if len(notes) > 0 {
		reason = strings.Join(notes, "; ")
	}
	return fmt.Sprintf(
		"I was unable to fully process your request %q because %s. No complete analysis was performed, so please retry in a moment or rephrase the request.",
		truncate(prompt, 120), reason)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
