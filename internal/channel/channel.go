// Package channel provides the outbound event transport bound to a single
// (user, thread) pair. The WebSocket implementation owns its connection's
// write side; nothing else may write to the underlying conn.
package channel

import (
	"context"

	"zen/internal/event"
)

// EventChannel delivers events to one connected client. Implementations must
// be safe for concurrent Send calls and must fail with typed errors
// (ChannelClosedError, ChannelTimeoutError) rather than blocking forever:
// the caller decides whether to buffer, reconnect, or degrade.
type EventChannel interface {
	// Send serializes and transmits the event, preserving call order.
	Send(ctx context.Context, ev event.Event) error
	// Close releases the transport. Safe to call more than once.
	Close() error
	// Done is closed when the channel can no longer deliver.
	Done() <-chan struct{}
	// ClientID identifies the connection for logging.
	ClientID() string
}
