package event

import (
	"strings"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		userID  string
		wantErr bool
	}{
		{
			name:   "valid chat message",
			data:   `{"type":"chat_message","content":"hello there"}`,
			userID: "user-alice",
		},
		{
			name:   "valid user message with matching identity",
			data:   `{"type":"user_message","content":"hi","user_id":"user-alice"}`,
			userID: "user-alice",
		},
		{
			name:   "ping needs no content",
			data:   `{"type":"ping"}`,
			userID: "user-alice",
		},
		{
			name:    "not json",
			data:    `{"type":`,
			userID:  "user-alice",
			wantErr: true,
		},
		{
			name:    "missing type",
			data:    `{"content":"hello"}`,
			userID:  "user-alice",
			wantErr: true,
		},
		{
			name:    "unsupported type",
			data:    `{"type":"admin_command","content":"drop"}`,
			userID:  "user-alice",
			wantErr: true,
		},
		{
			name:    "empty content",
			data:    `{"type":"chat_message","content":"   "}`,
			userID:  "user-alice",
			wantErr: true,
		},
		{
			name:    "spoofed user identity",
			data:    `{"type":"chat_message","content":"hi","user_id":"user-bob"}`,
			userID:  "user-alice",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tt.data), tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseClientMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOversizedContentRejected(t *testing.T) {
	msg := ClientMessage{
		Type:    ClientTypeChatMessage,
		Content: strings.Repeat("a", MaxClientContentLen+1),
	}
	if err := msg.Validate("user-alice"); err == nil {
		t.Error("oversized content should be rejected")
	}
}

func TestRejectionMessagesAreUserSafe(t *testing.T) {
	_, err := ParseClientMessage([]byte(`not json at all`), "user-alice")
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, leak := range []string{"unmarshal", "syntax", "invalid character"} {
		if strings.Contains(strings.ToLower(err.Error()), leak) {
			t.Errorf("rejection message leaks internals: %q", err.Error())
		}
	}
}
