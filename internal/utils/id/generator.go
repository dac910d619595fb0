package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Identifiers are prefixed for display and time-ordered (UUIDv7) so registry
// listings sort by creation time.

// NewContextID generates a new execution context identifier.
func NewContextID() string { return newIdentifier("ctx") }

// NewThreadID generates a new conversation thread identifier.
func NewThreadID() string { return newIdentifier("thread") }

// NewRunID generates a new agent run identifier.
func NewRunID() string { return newIdentifier("run") }

// NewRequestID generates a new request identifier.
func NewRequestID() string { return newIdentifier("req") }

// NewEventID generates a new event identifier.
func NewEventID() string { return newIdentifier("evt") }

func newIdentifier(prefix string) string {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		// rand.Read on the local entropy pool does not fail in practice; this
		// branch keeps identifier generation total.
		var fallback [16]byte
		_, _ = rand.Read(fallback[:])
		return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(fallback[:]))
	}
	return fmt.Sprintf("%s-%s", prefix, uuidv7.String())
}
