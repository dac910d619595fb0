// Package audit records context lifecycle and security events for tiers
// that have audit logging enabled.
package audit

import (
	"sync"
	"time"

	"zen/internal/logging"
)

// TerminationReason enumerates why a context was terminated.
type TerminationReason string

const (
	ReasonUserRequest   TerminationReason = "user_request"
	ReasonExpired       TerminationReason = "expired"
	ReasonErrorRecovery TerminationReason = "error_recovery"
	ReasonAdminAction   TerminationReason = "admin_action"
)

// Valid reports whether the reason is one of the enumerated values.
func (r TerminationReason) Valid() bool {
	switch r {
	case ReasonUserRequest, ReasonExpired, ReasonErrorRecovery, ReasonAdminAction:
		return true
	}
	return false
}

// Entry is a single audit trail record.
type Entry struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Recorder accepts audit entries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(entry Entry)
}

// Trail is an in-memory recorder with bounded retention. Oldest entries are
// dropped once the cap is reached.
type Trail struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
	logger  logging.Logger
}

// NewTrail creates a trail retaining up to maxEntries records.
func NewTrail(maxEntries int, logger logging.Logger) *Trail {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Trail{
		cap:    maxEntries,
		logger: logging.OrNop(logger),
	}
}

// Record appends an entry, evicting the oldest when full.
func (t *Trail) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	t.mu.Lock()
	if len(t.entries) >= t.cap {
		t.entries = t.entries[1:]
	}
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	t.logger.Info("audit: %s data=%v", entry.EventType, entry.Data)
}

// Entries returns a copy of the recorded entries, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ByType returns recorded entries matching the given event type.
func (t *Trail) ByType(eventType string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Nop is a recorder that discards everything.
type Nop struct{}

func (Nop) Record(Entry) {}
