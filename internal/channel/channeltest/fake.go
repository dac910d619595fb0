// Package channeltest provides an in-memory EventChannel for tests.
package channeltest

import (
	"context"
	"sync"

	zenerrors "zen/internal/errors"
	"zen/internal/event"
)

// Fake is an EventChannel that records everything sent through it. Failure
// modes are injectable so callers can exercise delivery error paths without
// a network.
type Fake struct {
	mu       sync.Mutex
	clientID string
	userID   string
	threadID string
	events   []event.Event
	failWith error
	done     chan struct{}
	closed   bool
}

// New creates a fake channel owned by the given user and thread.
func New(clientID, userID, threadID string) *Fake {
	return &Fake{
		clientID: clientID,
		userID:   userID,
		threadID: threadID,
		done:     make(chan struct{}),
	}
}

// Send records the event, or returns the injected failure. Like the real
// channel, a cancelled context refuses the send.
func (f *Fake) Send(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &zenerrors.ChannelClosedError{UserID: f.userID, ThreadID: f.threadID}
	}
	if f.failWith != nil {
		return f.failWith
	}
	f.events = append(f.events, ev)
	return nil
}

// Close marks the channel closed. Idempotent.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

// Done reports closure.
func (f *Fake) Done() <-chan struct{} { return f.done }

// ClientID returns the fake's connection identifier.
func (f *Fake) ClientID() string { return f.clientID }

// FailWith makes subsequent sends return err. Pass nil to heal.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

// Events returns a copy of everything delivered so far.
func (f *Fake) Events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Event, len(f.events))
	copy(out, f.events)
	return out
}

// EventTypes returns the delivered event types in order.
func (f *Fake) EventTypes() []event.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Type, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
