package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"zen/internal/channel"
	zenerrors "zen/internal/errors"
	"zen/internal/event"
	"zen/internal/logging"
	"zen/internal/usercontext"
)

// DefaultBufferLimit bounds the per-binding queue of events awaiting a
// channel. Past the limit, new events are dropped with a warning.
const DefaultBufferLimit = 256

type bindingKey struct {
	userID   string
	threadID string
}

type binding struct {
	contextID string
	channel   channel.EventChannel
	pending   []event.Event
	// flushing holds concurrent routes in the pending queue while Bind
	// drains buffered events, preserving per-channel FIFO across a rebind.
	flushing bool
}

// InMemory is the single-node SessionRegistry. Mutations take the registry
// lock; thread ownership, once assigned, is never reassigned to a different
// user even after release.
type InMemory struct {
	mu          sync.RWMutex
	bindings    map[bindingKey]*binding
	threadOwner map[string]string

	bufferLimit int
	logger      logging.Logger
	security    logging.Logger
	violations  atomic.Uint64
	dropped     atomic.Uint64
}

// InMemoryOption configures an InMemory registry.
type InMemoryOption func(*InMemory)

// WithBufferLimit overrides the pending-event cap per binding.
func WithBufferLimit(n int) InMemoryOption {
	return func(r *InMemory) {
		if n > 0 {
			r.bufferLimit = n
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) InMemoryOption {
	return func(r *InMemory) { r.logger = logging.OrNop(logger) }
}

// WithSecurityLogger sets the logger that records isolation violations.
func WithSecurityLogger(logger logging.Logger) InMemoryOption {
	return func(r *InMemory) { r.security = logging.OrNop(logger) }
}

// NewInMemory creates an empty registry.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	r := &InMemory{
		bindings:    make(map[bindingKey]*binding),
		threadOwner: make(map[string]string),
		bufferLimit: DefaultBufferLimit,
		logger:      logging.Nop(),
		security:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind associates the context with the channel, replacing a prior binding
// for the same (user, thread). Pending events buffered while no channel was
// bound are flushed to the new channel in their original order.
func (r *InMemory) Bind(ctx usercontext.UserExecutionContext, ch channel.EventChannel) error {
	if ctx.UserID == "" || ctx.ThreadID == "" {
		return fmt.Errorf("binding requires both user and thread identifiers")
	}

	r.mu.Lock()
	if owner, claimed := r.threadOwner[ctx.ThreadID]; claimed && owner != ctx.UserID {
		r.mu.Unlock()
		r.violations.Add(1)
		r.security.Error("thread ownership violation: thread=%s owner=%s attempted_by=%s",
			ctx.ThreadID, owner, ctx.UserID)
		return &zenerrors.ThreadOwnershipViolationError{
			ThreadID: ctx.ThreadID,
			OwnerID:  owner,
			UserID:   ctx.UserID,
		}
	}
	r.threadOwner[ctx.ThreadID] = ctx.UserID

	key := bindingKey{userID: ctx.UserID, threadID: ctx.ThreadID}
	prior := r.bindings[key]
	b := &binding{contextID: ctx.ContextID, channel: ch}
	var flush []event.Event
	if prior != nil {
		flush = prior.pending
	}
	b.flushing = len(flush) > 0
	r.bindings[key] = b
	r.mu.Unlock()

	if prior != nil && prior.channel != nil && prior.channel != ch {
		// Stale connection; its in-flight events stay with it.
		_ = prior.channel.Close()
	}

	r.logger.Info("bound channel %s to user=%s thread=%s context=%s",
		ch.ClientID(), ctx.UserID, ctx.ThreadID, ctx.ContextID)

	// Drain buffered events in order. Events routed concurrently queue up in
	// b.pending while flushing is set, so the loop repeats until the queue is
	// empty and direct delivery can resume.
	for len(flush) > 0 {
		for i, pending := range flush {
			if err := ch.Send(context.Background(), pending); err != nil {
				r.logger.Warn("flush of buffered event %s failed: %v", pending.ID, err)
				r.mu.Lock()
				if r.bindings[key] == b {
					b.pending = append(append([]event.Event{}, flush[i:]...), b.pending...)
					b.flushing = false
				}
				r.mu.Unlock()
				return nil
			}
		}
		r.mu.Lock()
		if r.bindings[key] != b {
			r.mu.Unlock()
			return nil
		}
		flush = b.pending
		b.pending = nil
		if len(flush) == 0 {
			b.flushing = false
		}
		r.mu.Unlock()
	}
	return nil
}

// RouteEvent delivers the event to its owner's channel. Events whose thread
// belongs to a different user are rejected and counted; they are never
// delivered anywhere else.
func (r *InMemory) RouteEvent(ctx context.Context, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("refusing to route invalid event: %w", err)
	}

	r.mu.Lock()
	owner, claimed := r.threadOwner[ev.ThreadID]
	if claimed && owner != ev.UserID {
		r.mu.Unlock()
		r.violations.Add(1)
		r.security.Error("isolation violation: event %s for user=%s targets thread=%s owned by %s",
			ev.ID, ev.UserID, ev.ThreadID, owner)
		return &zenerrors.IsolationViolationError{
			UserID:    ev.UserID,
			OwnerID:   owner,
			ThreadID:  ev.ThreadID,
			Operation: "route_event",
		}
	}

	key := bindingKey{userID: ev.UserID, threadID: ev.ThreadID}
	b := r.bindings[key]
	if b == nil || b.channel == nil || b.flushing {
		r.bufferLocked(key, ev)
		r.mu.Unlock()
		return nil
	}
	ch := b.channel
	r.mu.Unlock()

	err := ch.Send(ctx, ev)
	if err == nil {
		return nil
	}
	if zenerrors.IsChannelClosed(err) {
		// Delivery deferred until the client reconnects and rebinds.
		r.buffer(key, ev)
		return nil
	}
	return err
}

// CheckAccess gates thread-scoped operations. Unknown threads are simply not
// accessible; threads owned by someone else raise an isolation violation.
func (r *InMemory) CheckAccess(userID, threadID string) (bool, error) {
	r.mu.RLock()
	owner, claimed := r.threadOwner[threadID]
	r.mu.RUnlock()

	if !claimed {
		return false, nil
	}
	if owner != userID {
		r.violations.Add(1)
		r.security.Error("isolation violation: user=%s attempted access to thread=%s owned by %s",
			userID, threadID, owner)
		return false, &zenerrors.IsolationViolationError{
			UserID:    userID,
			OwnerID:   owner,
			ThreadID:  threadID,
			Operation: "check_access",
		}
	}
	return true, nil
}

// Release drops the binding and closes its channel, but only while ch is
// still the bound channel: a handler whose connection was replaced by a
// reconnect must not tear down its successor's binding. A nil ch releases
// unconditionally. The thread's ownership record is kept either way, so the
// thread id can never be claimed by another user.
func (r *InMemory) Release(userID, threadID string, ch channel.EventChannel) {
	key := bindingKey{userID: userID, threadID: threadID}

	r.mu.Lock()
	b := r.bindings[key]
	if b == nil || (ch != nil && b.channel != ch) {
		r.mu.Unlock()
		return
	}
	delete(r.bindings, key)
	r.mu.Unlock()

	if b.channel != nil {
		_ = b.channel.Close()
		r.logger.Info("released binding user=%s thread=%s", userID, threadID)
	}
}

// IsolationViolations returns the rejected cross-user attempt count.
func (r *InMemory) IsolationViolations() uint64 {
	return r.violations.Load()
}

// DroppedEvents returns how many events were discarded because their
// binding's buffer was full.
func (r *InMemory) DroppedEvents() uint64 {
	return r.dropped.Load()
}

// ActiveBindings returns the number of live (user, thread) bindings.
func (r *InMemory) ActiveBindings() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

func (r *InMemory) buffer(key bindingKey, ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufferLocked(key, ev)
}

// bufferLocked queues the event for the key. Callers hold r.mu.
func (r *InMemory) bufferLocked(key bindingKey, ev event.Event) {
	b := r.bindings[key]
	if b == nil {
		b = &binding{}
		r.bindings[key] = b
	}
	if len(b.pending) >= r.bufferLimit {
		r.dropped.Add(1)
		r.logger.Warn("dropping event %s for user=%s thread=%s: buffer full (%d)",
			ev.ID, key.userID, key.threadID, r.bufferLimit)
		return
	}
	b.pending = append(b.pending, ev)
}
