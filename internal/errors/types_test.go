package errors

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "explicit transient error",
			err:      NewTransientError(errors.New("test"), "transient"),
			expected: true,
		},
		{
			name:     "explicit permanent error",
			err:      NewPermanentError(errors.New("test"), "permanent"),
			expected: false,
		},
		{
			name:     "channel closed",
			err:      &ChannelClosedError{UserID: "u1", ThreadID: "t1"},
			expected: true,
		},
		{
			name:     "channel timeout",
			err:      &ChannelTimeoutError{UserID: "u1", ThreadID: "t1", Timeout: time.Second},
			expected: true,
		},
		{
			name:     "quota exceeded is never retried",
			err:      &QuotaExceededError{UserID: "u1", Tier: "free", Limit: 1},
			expected: false,
		},
		{
			name:     "isolation violation is never retried",
			err:      &IsolationViolationError{UserID: "u1", OwnerID: "u2", ThreadID: "t1", Operation: "send"},
			expected: false,
		},
		{
			name:     "expired context is never retried",
			err:      &ContextExpiredError{ContextID: "ctx-1", ExpiredAt: time.Now()},
			expected: false,
		},
		{
			name:     "tool error with transient cause",
			err:      &ToolExecutionError{Tool: "web_search", Err: fmt.Errorf("dial tcp 127.0.0.1:9200: connect: connection refused")},
			expected: true,
		},
		{
			name:     "tool error with permanent cause",
			err:      &ToolExecutionError{Tool: "kb_lookup", Err: NewPermanentError(errors.New("bad args"), "invalid parameters")},
			expected: false,
		},
		{
			name:     "connection refused string",
			err:      fmt.Errorf("dial tcp 127.0.0.1:6379: connect: connection refused"),
			expected: true,
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("context deadline exceeded"),
			expected: true,
		},
		{
			name:     "syscall connection refused",
			err:      syscall.ECONNREFUSED,
			expected: true,
		},
		{
			name:     "plain error",
			err:      errors.New("something odd"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"explicit permanent", NewPermanentError(errors.New("test"), "permanent"), true},
		{"explicit transient", NewTransientError(errors.New("test"), "transient"), false},
		{"quota exceeded", &QuotaExceededError{UserID: "u", Tier: "free", Limit: 1}, true},
		{"thread ownership violation", &ThreadOwnershipViolationError{ThreadID: "t", OwnerID: "a", UserID: "b"}, true},
		{"context expired", &ContextExpiredError{ContextID: "ctx", ExpiredAt: time.Now()}, true},
		{"tool not found string", fmt.Errorf("tool not found: bogus"), true},
		{"permission denied string", fmt.Errorf("permission denied"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.expected {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"transient", NewTransientError(errors.New("x"), "t"), ErrorTypeTransient},
		{"permanent", NewPermanentError(errors.New("x"), "p"), ErrorTypePermanent},
		{"degraded", NewDegradedError(errors.New("x"), "d", "fallback"), ErrorTypeDegraded},
		{"channel closed", &ChannelClosedError{}, ErrorTypeTransient},
		{"isolation violation", &IsolationViolationError{}, ErrorTypePermanent},
		{"unknown defaults to permanent", errors.New("mystery"), ErrorTypePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorType(tt.err); got != tt.expected {
				t.Errorf("GetErrorType(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestQuotaExceededMessage(t *testing.T) {
	err := &QuotaExceededError{UserID: "user-1", Tier: "free", Limit: 2}
	if !strings.Contains(err.Error(), "Maximum concurrent contexts") {
		t.Errorf("quota message must name the concurrency limit: %q", err.Error())
	}
}

func TestFormatForClientNeverLeaksInternals(t *testing.T) {
	internal := fmt.Errorf("pq: connection to db-internal-7.prod:5432 refused, pool=sess_8891")

	tests := []struct {
		name string
		err  error
	}{
		{"raw infrastructure error", internal},
		{"wrapped tool error", &ToolExecutionError{Tool: "kb_lookup", Err: internal}},
		{"isolation violation", &IsolationViolationError{UserID: "a", OwnerID: "b", ThreadID: "thread-9", Operation: "read"}},
		{"channel timeout", &ChannelTimeoutError{UserID: "a", ThreadID: "thread-9", Timeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatForClient(tt.err)
			if msg == "" {
				t.Fatal("client-facing message must not be empty")
			}
			for _, leak := range []string{"db-internal", "sess_8891", "thread-9", "pq:"} {
				if strings.Contains(msg, leak) {
					t.Errorf("client message leaks internal detail %q: %q", leak, msg)
				}
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	baseErr := errors.New("base error")

	t.Run("transient wraps", func(t *testing.T) {
		if !errors.Is(NewTransientError(baseErr, "m"), baseErr) {
			t.Error("TransientError should wrap base error")
		}
	})
	t.Run("permanent wraps", func(t *testing.T) {
		if !errors.Is(NewPermanentError(baseErr, "m"), baseErr) {
			t.Error("PermanentError should wrap base error")
		}
	})
	t.Run("degraded wraps", func(t *testing.T) {
		if !errors.Is(NewDegradedError(baseErr, "m", "f"), baseErr) {
			t.Error("DegradedError should wrap base error")
		}
	})
	t.Run("tool error wraps", func(t *testing.T) {
		wrapped := &ToolExecutionError{Tool: "x", Err: baseErr}
		if !errors.Is(wrapped, baseErr) {
			t.Error("ToolExecutionError should wrap base error")
		}
	})
}

func TestDomainPredicatesSeeThroughWrapping(t *testing.T) {
	quota := &QuotaExceededError{UserID: "u", Tier: "free", Limit: 1}
	wrapped := fmt.Errorf("create context: %w", quota)
	if !IsQuotaExceeded(wrapped) {
		t.Error("IsQuotaExceeded must unwrap")
	}

	iso := fmt.Errorf("route: %w", &ThreadOwnershipViolationError{ThreadID: "t", OwnerID: "a", UserID: "b"})
	if !IsIsolationViolation(iso) {
		t.Error("IsIsolationViolation must unwrap ownership violations")
	}
}
