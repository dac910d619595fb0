package id

import "context"

type contextKey string

const (
	userKey    contextKey = "zen_user_id"
	threadKey  contextKey = "zen_thread_id"
	runKey     contextKey = "zen_run_id"
	requestKey contextKey = "zen_request_id"
)

// IDs captures the identifiers propagated across execution boundaries.
type IDs struct {
	UserID    string
	ThreadID  string
	RunID     string
	RequestID string
}

// WithUserID stores the authenticated user identifier on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// WithThreadID stores the conversation thread identifier on the context.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	if threadID == "" {
		return ctx
	}
	return context.WithValue(ctx, threadKey, threadID)
}

// WithRunID stores the current run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// WithRequestID stores the originating request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKey, requestID)
}

// UserIDFromContext returns the user identifier stored on the context, if any.
func UserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userKey)
}

// ThreadIDFromContext returns the thread identifier stored on the context, if any.
func ThreadIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, threadKey)
}

// RunIDFromContext returns the run identifier stored on the context, if any.
func RunIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, runKey)
}

// RequestIDFromContext returns the request identifier stored on the context, if any.
func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestKey)
}

// FromContext collects every propagated identifier from the context.
func FromContext(ctx context.Context) IDs {
	return IDs{
		UserID:    UserIDFromContext(ctx),
		ThreadID:  ThreadIDFromContext(ctx),
		RunID:     RunIDFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
	}
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
