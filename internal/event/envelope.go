package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Client-to-server message types accepted over the WebSocket.
const (
	ClientTypeChatMessage = "chat_message"
	ClientTypeUserMessage = "user_message"
	ClientTypePing        = "ping"
)

// MaxClientContentLen caps inbound message content to keep a single client
// from monopolizing the agent loop with oversized payloads.
const MaxClientContentLen = 32 * 1024

// ClientMessage is the inbound WebSocket envelope. Identity fields in the
// payload are advisory only; the authenticated connection identity always
// wins, and a mismatch is rejected before any agent work starts.
type ClientMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ParseClientMessage decodes and validates an inbound frame against the
// authenticated user. It returns a user-safe error on rejection.
func ParseClientMessage(data []byte, authenticatedUserID string) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed message: not valid JSON")
	}
	if err := msg.Validate(authenticatedUserID); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

// Validate checks the envelope against the connection's authenticated user.
func (m ClientMessage) Validate(authenticatedUserID string) error {
	switch m.Type {
	case ClientTypeChatMessage, ClientTypeUserMessage:
	case ClientTypePing:
		return nil
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unsupported message type: %q", m.Type)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("message content is required")
	}
	if len(m.Content) > MaxClientContentLen {
		return fmt.Errorf("message content exceeds %d bytes", MaxClientContentLen)
	}
	if m.UserID != "" && m.UserID != authenticatedUserID {
		return fmt.Errorf("message user does not match the authenticated connection")
	}
	return nil
}

// IsPing reports whether the message is a keepalive frame that needs no
// agent processing.
func (m ClientMessage) IsPing() bool { return m.Type == ClientTypePing }
