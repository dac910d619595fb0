package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrorType classifies errors for retry and degradation decisions.
type ErrorType int

const (
	// ErrorTypeTransient - retry-able errors
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - non-retry-able errors
	ErrorTypePermanent
	// ErrorTypeDegraded - can continue with reduced functionality
	ErrorTypeDegraded
)

// QuotaExceededError reports that a user already holds the maximum number of
// concurrent execution contexts allowed by their tier. Recoverable by the
// caller once an existing context is terminated or expires.
type QuotaExceededError struct {
	UserID string
	Tier   string
	Limit  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Maximum concurrent contexts (%d) reached for user %s on tier %s", e.Limit, e.UserID, e.Tier)
}

// IsolationViolationError reports an attempted cross-user access to a thread
// or context. Always fatal to the offending request and logged as a security
// event; never downgraded.
type IsolationViolationError struct {
	UserID    string // requesting user
	OwnerID   string // actual owner
	ThreadID  string
	Operation string
}

func (e *IsolationViolationError) Error() string {
	return fmt.Sprintf("isolation violation: user %s attempted %q on thread %s owned by %s",
		e.UserID, e.Operation, e.ThreadID, e.OwnerID)
}

// ThreadOwnershipViolationError reports an attempt to bind a channel to a
// thread owned by a different user.
type ThreadOwnershipViolationError struct {
	ThreadID string
	OwnerID  string
	UserID   string
}

func (e *ThreadOwnershipViolationError) Error() string {
	return fmt.Sprintf("thread ownership violation: thread %s belongs to %s, bind attempted by %s",
		e.ThreadID, e.OwnerID, e.UserID)
}

// ContextExpiredError reports that an execution context outlived its
// expiry. The caller must obtain a fresh context.
type ContextExpiredError struct {
	ContextID string
	ExpiredAt time.Time
}

func (e *ContextExpiredError) Error() string {
	return fmt.Sprintf("context %s expired at %s", e.ContextID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// ChannelClosedError reports a send on a closed event channel. Recoverable
// via reconnection; must not abort the agent run.
type ChannelClosedError struct {
	UserID   string
	ThreadID string
}

func (e *ChannelClosedError) Error() string {
	return fmt.Sprintf("event channel closed for user %s thread %s", e.UserID, e.ThreadID)
}

// ChannelTimeoutError reports a send that did not complete within the channel
// write deadline.
type ChannelTimeoutError struct {
	UserID   string
	ThreadID string
	Timeout  time.Duration
}

func (e *ChannelTimeoutError) Error() string {
	return fmt.Sprintf("event channel send timed out after %s for user %s thread %s", e.Timeout, e.UserID, e.ThreadID)
}

// ToolExecutionError wraps a tool-specific failure. Retryable when the
// underlying cause is transient.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// TransientError marks an error as explicitly retry-able.
type TransientError struct {
	Err     error
	Message string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks an error as explicitly non-retry-able.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError marks an error where the run can continue with reduced
// functionality. FallbackContent carries the reduced-fidelity substitute.
type DegradedError struct {
	Err             error
	FallbackContent string
	Message         string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// NewTransientError creates a new transient error with a caller-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a new permanent error with a caller-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError creates a new degraded error with fallback content.
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, FallbackContent: fallback}
}

// IsQuotaExceeded reports whether err is (or wraps) a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var target *QuotaExceededError
	return errors.As(err, &target)
}

// IsIsolationViolation reports whether err is a cross-user access violation of
// either flavor (isolation or thread ownership).
func IsIsolationViolation(err error) bool {
	var iso *IsolationViolationError
	var own *ThreadOwnershipViolationError
	return errors.As(err, &iso) || errors.As(err, &own)
}

// IsContextExpired reports whether err is (or wraps) a ContextExpiredError.
func IsContextExpired(err error) bool {
	var target *ContextExpiredError
	return errors.As(err, &target)
}

// IsChannelClosed reports whether err is (or wraps) a ChannelClosedError.
func IsChannelClosed(err error) bool {
	var target *ChannelClosedError
	return errors.As(err, &target)
}

// IsChannelTimeout reports whether err is (or wraps) a ChannelTimeoutError.
func IsChannelTimeout(err error) bool {
	var target *ChannelTimeoutError
	return errors.As(err, &target)
}

// IsToolExecution reports whether err is (or wraps) a ToolExecutionError.
func IsToolExecution(err error) bool {
	var target *ToolExecutionError
	return errors.As(err, &target)
}

// IsTransient checks if an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Security and policy violations are never retried.
	if IsIsolationViolation(err) || IsQuotaExceeded(err) || IsContextExpired(err) {
		return false
	}

	// Transport failures recover via reconnection or the write going through
	// on a later attempt.
	if IsChannelClosed(err) || IsChannelTimeout(err) {
		return true
	}

	// Tool failures inherit the classification of their cause.
	var toolErr *ToolExecutionError
	if errors.As(err, &toolErr) && toolErr.Err != nil {
		return IsTransient(toolErr.Err)
	}

	if isNetworkError(err) || isSyscallError(err) {
		return true
	}

	return false
}

// IsPermanent checks if an error is non-retry-able.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if IsIsolationViolation(err) || IsQuotaExceeded(err) || IsContextExpired(err) {
		return true
	}

	lowerErr := strings.ToLower(err.Error())
	permanentPatterns := []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"tool not found",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}

	return false
}

// IsDegraded checks if an error allows degraded service.
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// GetErrorType classifies an error.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	// Default to permanent to avoid infinite retries.
	return ErrorTypePermanent
}

// FormatForClient converts an error into a user-safe message. The returned
// string never contains stack traces, internal identifiers, exception type
// names or configuration values; it is the only error text allowed to cross
// the WebSocket boundary.
func FormatForClient(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case IsQuotaExceeded(err):
		// Quota messages are caller-actionable and intentionally verbatim.
		return err.Error()
	case IsIsolationViolation(err):
		return "Access denied."
	case IsContextExpired(err):
		return "Your session has expired. Please start a new session."
	case IsChannelClosed(err), IsChannelTimeout(err):
		return "Connection interrupted. Please reconnect to continue."
	case IsToolExecution(err):
		return "A tool used by the assistant failed. The response may be incomplete."
	}

	var degradedErr *DegradedError
	if errors.As(err, &degradedErr) && degradedErr.Message != "" {
		return degradedErr.Message
	}

	if IsTransient(err) {
		return "The service is temporarily unavailable. Please try again shortly."
	}

	return "An internal error occurred while processing your request."
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
		"temporarily unavailable",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
