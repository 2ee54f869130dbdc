package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	clipIndexKey contextKey = "clip_index"
	userIDKey    contextKey = "user_id"
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
	sweepKey     contextKey = "sweep"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithClipIndex annotates context with the 1-based clip index being produced.
func WithClipIndex(ctx context.Context, index int) context.Context {
	if index <= 0 {
		return ctx
	}
	return context.WithValue(ctx, clipIndexKey, index)
}

// ClipIndexFromContext returns the clip index if present.
func ClipIndexFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(clipIndexKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithUserID annotates context with the acting user.
func WithUserID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext extracts the acting user if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(userIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSessionID annotates context with the caller's session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSweep annotates context with the maintenance sweep name.
func WithSweep(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, sweepKey, name)
}

// SweepFromContext returns the maintenance sweep name if present.
func SweepFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sweepKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
