// Package util provides small helpers shared by the support chat packages.
package util

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// NewTimeoutContext derives a context from the background context that expires after timeout.
func NewTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewContextWithTraceID attaches a fresh trace id to parent. The gateway gives
// every inbound event its own trace id so all log lines it causes can be joined.
func NewContextWithTraceID(parent context.Context) context.Context {
	return ContextWithTraceID(parent, uuid.NewString())
}

// ContextWithTraceID attaches the given trace id to parent.
func ContextWithTraceID(parent context.Context, traceID string) context.Context {
	return context.WithValue(parent, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace id of ctx, or "" when none is set.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
