// Package usercontext provides per-user isolated execution contexts and the
// factory that enforces tier quotas and lifetime policy over them.
package usercontext

import (
	"time"

	"zen/internal/tier"
)

// Status is the lifecycle state of an execution context.
type Status string

const (
	StatusCreating   Status = "creating"
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
)

// UserExecutionContext is an isolated execution environment for one user.
// UserID is fixed at creation and never changes; ThreadID and RunID are
// globally unique and never reassigned to a different user.
//
// Contexts are handed out by value. The factory keeps the only mutable copy;
// everything callers see is a snapshot.
type UserExecutionContext struct {
	ContextID         string                  `json:"context_id"`
	UserID            string                  `json:"user_id"`
	ThreadID          string                  `json:"thread_id"`
	RunID             string                  `json:"run_id"`
	RequestID         string                  `json:"request_id"`
	WebSocketClientID string                  `json:"websocket_client_id,omitempty"`
	SessionID         string                  `json:"session_id,omitempty"`
	Tier              tier.Tier               `json:"tier"`
	SecurityLevel     string                  `json:"security_level"`
	Resources         tier.ResourceAllocation `json:"resources"`
	CreatedAt         time.Time               `json:"created_at"`
	ExpiresAt         time.Time               `json:"expires_at"`
	IsolationLevel    string                  `json:"isolation_level"`
	AuditEnabled      bool                    `json:"audit_logging_enabled"`
	EncryptionEnabled bool                    `json:"encryption_enabled"`
	Status            Status                  `json:"status"`
	Metadata          map[string]string       `json:"metadata,omitempty"`
}

// Expired reports whether the context outlived its expiry at the given time.
func (c UserExecutionContext) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Active reports whether the context is in the ACTIVE state.
func (c UserExecutionContext) Active() bool {
	return c.Status == StatusActive
}

func (c UserExecutionContext) clone() UserExecutionContext {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
