package usercontext

import (
	"fmt"
	"sync"
	"time"

	"zen/internal/audit"
	zenerrors "zen/internal/errors"
	"zen/internal/logging"
	"zen/internal/tier"
	"zen/internal/utils/id"
)

// ViolationContextNotFound is reported by security validation and
// termination for unknown context ids.
const ViolationContextNotFound = "context_not_found"

// Factory creates and tracks UserExecutionContext instances, enforcing the
// per-tier quota, lifetime and security policy. All mutating operations are
// serialized by a single factory lock; reads go through snapshots.
type Factory struct {
	mu       sync.RWMutex
	policies tier.Table
	contexts map[string]*UserExecutionContext
	byUser   map[string]map[string]struct{}

	logger   logging.Logger
	security logging.Logger
	recorder audit.Recorder
	now      func() time.Time
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(f *Factory) { f.logger = logging.OrNop(logger) }
}

// WithSecurityLogger sets the logger used for isolation and policy
// violations.
func WithSecurityLogger(logger logging.Logger) Option {
	return func(f *Factory) { f.security = logging.OrNop(logger) }
}

// WithRecorder sets the audit recorder used for tiers with audit logging
// enabled.
func WithRecorder(recorder audit.Recorder) Option {
	return func(f *Factory) { f.recorder = recorder }
}

// WithClock overrides the time source. Tests use this to control expiry.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// NewFactory builds a factory over a validated policy table.
func NewFactory(policies tier.Table, opts ...Option) (*Factory, error) {
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tier policy table: %w", err)
	}
	f := &Factory{
		policies: policies,
		contexts: make(map[string]*UserExecutionContext),
		byUser:   make(map[string]map[string]struct{}),
		logger:   logging.Nop(),
		security: logging.Nop(),
		recorder: audit.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CreateOptions carries optional attributes for a new context.
type CreateOptions struct {
	SessionID         string
	WebSocketClientID string
	Metadata          map[string]string
}

// CreateUserContext creates a new ACTIVE context for the user. An expired-
// context reclamation pass runs first; if the user still holds the tier's
// maximum of ACTIVE contexts, creation fails with QuotaExceededError.
func (f *Factory) CreateUserContext(userID string, t tier.Tier, opts CreateOptions) (UserExecutionContext, error) {
	if userID == "" {
		return UserExecutionContext{}, fmt.Errorf("user id is required")
	}
	policy, err := f.policies.Get(t)
	if err != nil {
		return UserExecutionContext{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.reclaimExpiredLocked(userID, now)

	active := len(f.byUser[userID])
	if active >= policy.MaxConcurrentContexts {
		f.security.Warn("quota exceeded: user=%s tier=%s active=%d limit=%d",
			userID, t, active, policy.MaxConcurrentContexts)
		return UserExecutionContext{}, &zenerrors.QuotaExceededError{
			UserID: userID,
			Tier:   string(t),
			Limit:  policy.MaxConcurrentContexts,
		}
	}

	ctx := &UserExecutionContext{
		ContextID:         id.NewContextID(),
		UserID:            userID,
		ThreadID:          id.NewThreadID(),
		RunID:             id.NewRunID(),
		RequestID:         id.NewRequestID(),
		WebSocketClientID: opts.WebSocketClientID,
		SessionID:         opts.SessionID,
		Tier:              t,
		SecurityLevel:     policy.IsolationLevel,
		Resources:         policy.Resources,
		CreatedAt:         now,
		ExpiresAt:         now.Add(policy.MaxLifetime()),
		IsolationLevel:    policy.IsolationLevel,
		AuditEnabled:      policy.AuditLoggingEnabled,
		EncryptionEnabled: policy.EncryptionRequired,
		Status:            StatusActive,
		Metadata:          opts.Metadata,
	}

	f.contexts[ctx.ContextID] = ctx
	if f.byUser[userID] == nil {
		f.byUser[userID] = make(map[string]struct{})
	}
	f.byUser[userID][ctx.ContextID] = struct{}{}

	f.logger.Info("context created: id=%s user=%s thread=%s tier=%s expires=%s",
		ctx.ContextID, userID, ctx.ThreadID, t, ctx.ExpiresAt.Format(time.RFC3339))
	if ctx.AuditEnabled {
		f.recorder.Record(audit.Entry{
			EventType: "context_created",
			Timestamp: now,
			Data: map[string]any{
				"context_id": ctx.ContextID,
				"user_id":    userID,
				"thread_id":  ctx.ThreadID,
				"tier":       string(t),
			},
		})
	}
	return ctx.clone(), nil
}

// ValidationResult reports the outcome of a security validation query.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// ValidateContextSecurity checks a context against its tier policy. Unknown
// ids yield a context_not_found violation rather than an error; this is a
// query, not a command.
func (f *Factory) ValidateContextSecurity(contextID string) ValidationResult {
	f.mu.RLock()
	ctx, ok := f.contexts[contextID]
	var snapshot UserExecutionContext
	if ok {
		snapshot = ctx.clone()
	}
	f.mu.RUnlock()

	if !ok {
		return ValidationResult{Violations: []string{ViolationContextNotFound}}
	}

	policy, err := f.policies.Get(snapshot.Tier)
	if err != nil {
		return ValidationResult{Violations: []string{"unknown_tier"}}
	}

	var violations []string
	if snapshot.Expired(f.now()) {
		violations = append(violations, "expired")
	}
	r, limit := snapshot.Resources, policy.Resources
	if r.MemoryMB > limit.MemoryMB || r.CPUCores > limit.CPUCores ||
		r.StorageMB > limit.StorageMB || r.NetworkKbps > limit.NetworkKbps ||
		r.MaxConcurrent > limit.MaxConcurrent {
		violations = append(violations, "resource_allocation_exceeds_tier_policy")
	}
	if policy.EncryptionRequired && !snapshot.EncryptionEnabled {
		violations = append(violations, "encryption_required_but_disabled")
	}
	return ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// ExtendContextLifetime pushes the context's expiry out by the requested
// duration, clamped so total lifetime never exceeds the tier maximum. The
// extension is capped, not rejected. Returns false only for unknown ids.
func (f *Factory) ExtendContextLifetime(contextID string, extension time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, ok := f.contexts[contextID]
	if !ok {
		return false
	}
	policy, err := f.policies.Get(ctx.Tier)
	if err != nil {
		return false
	}

	requested := ctx.ExpiresAt.Add(extension)
	max := ctx.CreatedAt.Add(policy.MaxLifetime())
	if requested.After(max) {
		requested = max
	}
	ctx.ExpiresAt = requested
	f.logger.Debug("context lifetime extended: id=%s new_expiry=%s", contextID, requested.Format(time.RFC3339))
	return true
}

// TerminationResult reports the outcome of a termination request.
type TerminationResult struct {
	Terminated bool   `json:"terminated"`
	Reason     string `json:"reason"`
}

// TerminateContext marks the context TERMINATED and removes it from all
// indices synchronously. Terminating an unknown (or already-terminated)
// context is safe and reports terminated=false.
func (f *Factory) TerminateContext(contextID string, reason audit.TerminationReason) TerminationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminateLocked(contextID, reason, f.now())
}

func (f *Factory) terminateLocked(contextID string, reason audit.TerminationReason, now time.Time) TerminationResult {
	ctx, ok := f.contexts[contextID]
	if !ok {
		return TerminationResult{Terminated: false, Reason: ViolationContextNotFound}
	}

	ctx.Status = StatusTerminated
	delete(f.contexts, contextID)
	if set := f.byUser[ctx.UserID]; set != nil {
		delete(set, contextID)
		if len(set) == 0 {
			delete(f.byUser, ctx.UserID)
		}
	}

	f.logger.Info("context terminated: id=%s user=%s reason=%s", contextID, ctx.UserID, reason)
	if ctx.AuditEnabled {
		f.recorder.Record(audit.Entry{
			EventType: "context_terminated",
			Timestamp: now,
			Data: map[string]any{
				"context_id": contextID,
				"user_id":    ctx.UserID,
				"thread_id":  ctx.ThreadID,
				"reason":     string(reason),
			},
		})
	}
	return TerminationResult{Terminated: true, Reason: string(reason)}
}

// reclaimExpiredLocked terminates the user's expired contexts so their quota
// slots become available again.
func (f *Factory) reclaimExpiredLocked(userID string, now time.Time) {
	for ctxID := range f.byUser[userID] {
		if ctx := f.contexts[ctxID]; ctx != nil && ctx.Expired(now) {
			f.terminateLocked(ctxID, audit.ReasonExpired, now)
		}
	}
}

// Sweep terminates every expired context across all users and returns how
// many were reclaimed.
func (f *Factory) Sweep() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	var reclaimed int
	for ctxID, ctx := range f.contexts {
		if ctx.Expired(now) {
			f.terminateLocked(ctxID, audit.ReasonExpired, now)
			reclaimed++
		}
	}
	if reclaimed > 0 {
		f.logger.Info("expiry sweep reclaimed %d contexts", reclaimed)
	}
	return reclaimed
}

// AnomalyReport is the result of a diagnostic sweep. It is a monitoring
// signal, not a blocking gate.
type AnomalyReport struct {
	ExpiredButActive     []string `json:"expired_but_active"`
	ResourceViolations   []string `json:"resource_violations"`
	SecurityViolations   []string `json:"security_violations"`
	UnusualUsagePatterns []string `json:"unusual_usage_patterns"`
}

// DetectContextAnomalies scans all tracked contexts for policy drift.
func (f *Factory) DetectContextAnomalies() AnomalyReport {
	f.mu.RLock()
	snapshots := make([]UserExecutionContext, 0, len(f.contexts))
	for _, ctx := range f.contexts {
		snapshots = append(snapshots, ctx.clone())
	}
	perUser := make(map[string]int, len(f.byUser))
	for userID, set := range f.byUser {
		perUser[userID] = len(set)
	}
	f.mu.RUnlock()

	now := f.now()
	var report AnomalyReport
	for _, ctx := range snapshots {
		policy, err := f.policies.Get(ctx.Tier)
		if err != nil {
			report.SecurityViolations = append(report.SecurityViolations, ctx.ContextID)
			continue
		}
		if ctx.Active() && ctx.Expired(now) {
			report.ExpiredButActive = append(report.ExpiredButActive, ctx.ContextID)
		}
		r, limit := ctx.Resources, policy.Resources
		if r.MemoryMB > limit.MemoryMB || r.CPUCores > limit.CPUCores ||
			r.StorageMB > limit.StorageMB || r.NetworkKbps > limit.NetworkKbps {
			report.ResourceViolations = append(report.ResourceViolations, ctx.ContextID)
		}
		if policy.EncryptionRequired && !ctx.EncryptionEnabled {
			report.SecurityViolations = append(report.SecurityViolations, ctx.ContextID)
		}
		if policy.MaxConcurrentContexts > 1 && perUser[ctx.UserID] >= policy.MaxConcurrentContexts {
			pattern := fmt.Sprintf("user %s holds all %d concurrent context slots", ctx.UserID, policy.MaxConcurrentContexts)
			if !contains(report.UnusualUsagePatterns, pattern) {
				report.UnusualUsagePatterns = append(report.UnusualUsagePatterns, pattern)
			}
		}
	}
	return report
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Get returns a snapshot of the context, if tracked.
func (f *Factory) Get(contextID string) (UserExecutionContext, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ctx, ok := f.contexts[contextID]
	if !ok {
		return UserExecutionContext{}, false
	}
	return ctx.clone(), true
}

// ActiveCount returns the user's current number of tracked contexts.
func (f *Factory) ActiveCount(userID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byUser[userID])
}

// ContextsForUser returns snapshots of the user's tracked contexts.
func (f *Factory) ContextsForUser(userID string) []UserExecutionContext {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]UserExecutionContext, 0, len(f.byUser[userID]))
	for ctxID := range f.byUser[userID] {
		if ctx := f.contexts[ctxID]; ctx != nil {
			out = append(out, ctx.clone())
		}
	}
	return out
}
