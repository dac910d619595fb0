package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-process Store. History lives in per-(user, thread)
// buckets; every Session call hands out a fresh handle scoped to exactly
// one bucket.
type Memory struct {
	mu      sync.RWMutex
	buckets map[bucketKey][]Message
}

type bucketKey struct {
	userID   string
	threadID string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[bucketKey][]Message)}
}

// Session opens a handle onto the (user, thread) bucket.
func (m *Memory) Session(_ context.Context, userID, threadID string) (Session, error) {
	if userID == "" || threadID == "" {
		return nil, fmt.Errorf("session requires both user and thread identifiers")
	}
	return &memorySession{
		store: m,
		key:   bucketKey{userID: userID, threadID: threadID},
	}, nil
}

type memorySession struct {
	store  *Memory
	key    bucketKey
	mu     sync.Mutex
	closed bool
}

func (s *memorySession) AppendMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("session for thread %s is closed", s.key.threadID)
	}

	s.store.mu.Lock()
	s.store.buckets[s.key] = append(s.store.buckets[s.key], msg)
	s.store.mu.Unlock()
	return nil
}

func (s *memorySession) History(_ context.Context) ([]Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("session for thread %s is closed", s.key.threadID)
	}

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	bucket := s.store.buckets[s.key]
	out := make([]Message, len(bucket))
	copy(out, bucket)
	return out, nil
}

// Close invalidates this handle only; other handles and the stored history
// are unaffected.
func (s *memorySession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
