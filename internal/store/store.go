// Package store is the persistence port for conversation history. Handles
// are strictly per-context: two users' concurrent runs never share a live
// session object.
package store

import (
	"context"
	"time"
)

// Message is one persisted conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a per-context handle onto one thread's history. Each handle is
// independently closeable; use after Close fails.
type Session interface {
	AppendMessage(ctx context.Context, msg Message) error
	History(ctx context.Context) ([]Message, error)
	Close() error
}

// Store opens per-context sessions. Implementations must guarantee that a
// session only ever exposes data belonging to its own (user, thread).
type Store interface {
	Session(ctx context.Context, userID, threadID string) (Session, error)
}
