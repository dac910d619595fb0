// Package storetest provides store fakes with injectable failures.
package storetest

import (
	"context"
	"sync"

	"zen/internal/store"
)

// Failing wraps a Store and fails all operations with the injected error
// while one is set. With no error set it delegates transparently.
type Failing struct {
	mu      sync.Mutex
	inner   store.Store
	failErr error
}

// NewFailing wraps inner.
func NewFailing(inner store.Store) *Failing {
	return &Failing{inner: inner}
}

// FailWith makes subsequent operations return err. Pass nil to heal.
func (f *Failing) FailWith(err error) {
	f.mu.Lock()
	f.failErr = err
	f.mu.Unlock()
}

func (f *Failing) current() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failErr
}

// Session fails with the injected error, or delegates. Sessions handed out
// while healthy also check the injected error on every call.
func (f *Failing) Session(ctx context.Context, userID, threadID string) (store.Session, error) {
	if err := f.current(); err != nil {
		return nil, err
	}
	inner, err := f.inner.Session(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	return &failingSession{parent: f, inner: inner}, nil
}

type failingSession struct {
	parent *Failing
	inner  store.Session
}

func (s *failingSession) AppendMessage(ctx context.Context, msg store.Message) error {
	if err := s.parent.current(); err != nil {
		return err
	}
	return s.inner.AppendMessage(ctx, msg)
}

func (s *failingSession) History(ctx context.Context) ([]store.Message, error) {
	if err := s.parent.current(); err != nil {
		return nil, err
	}
	return s.inner.History(ctx)
}

func (s *failingSession) Close() error { return s.inner.Close() }
