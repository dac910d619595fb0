// Package registry is the single source of truth mapping (user_id,
// thread_id) to a context and its event channel, and the enforcement point
// that refuses to deliver events or grant thread access across users.
package registry

import (
	"context"

	"zen/internal/channel"
	"zen/internal/event"
	"zen/internal/usercontext"
)

// SessionRegistry binds execution contexts to event channels and routes
// events, never across user boundaries. Implementations must be safe for
// concurrent use.
type SessionRegistry interface {
	// Bind atomically associates the context's (user, thread) key with the
	// channel, replacing any prior binding for the same key. Binding a
	// thread owned by a different user fails with
	// ThreadOwnershipViolationError.
	Bind(ctx usercontext.UserExecutionContext, ch channel.EventChannel) error

	// RouteEvent delivers the event to the channel bound to its
	// (user_id, thread_id). Unbound events are buffered up to a limit and
	// redelivered on the next Bind; they are never handed to another
	// user's channel.
	RouteEvent(ctx context.Context, ev event.Event) error

	// CheckAccess reports whether the user may operate on the thread. An
	// attempt on a thread owned by someone else returns
	// IsolationViolationError.
	CheckAccess(userID, threadID string) (bool, error)

	// Release drops the binding and closes its channel, but only while ch
	// is still the bound channel; a nil ch releases unconditionally.
	// Thread ownership is retained: a released thread still cannot be
	// claimed by another user.
	Release(userID, threadID string, ch channel.EventChannel)

	// IsolationViolations returns the number of cross-user attempts
	// detected and rejected since startup.
	IsolationViolations() uint64
}
