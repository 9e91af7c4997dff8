// Package core provides the request context helpers shared by the malja proxy pipeline
// and the option functions for customizing log entries.
//
// Setters return a shallow copy of the request carrying the new context. Modifiers assign
// the copy back through the pointer (`*req = *core.ContextWithMode(req, mode)`) so martian
// keeps tracking the same request.
package core

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	// RequestIDKey holds the request ID (uuid.UUID), shared by the request, its response and the navigation record
	RequestIDKey contextKey = "RequestID"
	// MetadataKey holds the request metadata (map[string]any)
	MetadataKey contextKey = "Metadata"
	// ModeKey holds the request mode (string), e.g. "navigate"
	ModeKey contextKey = "Mode"
	// InterceptKey holds the flag (bool) set for in scope requests the offline worker may answer
	InterceptKey contextKey = "Intercept"
	// SkipKey holds the flag (bool) set for requests the response modifiers should ignore
	SkipKey contextKey = "Skip"
	// RequestTimeKey holds the time (time.Time) the request entered the pipeline
	RequestTimeKey contextKey = "RequestTime"
	// ResponseTimeKey holds the time (time.Time) the response entered the pipeline
	ResponseTimeKey contextKey = "ResponseTime"
)

func withValue[T any](req *http.Request, key contextKey, value T) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), key, value))
}

func valueFrom[T any](ctx context.Context, key contextKey) (T, bool) {
	value, ok := ctx.Value(key).(T)
	return value, ok
}

func ContextWithRequestID(req *http.Request, requestID uuid.UUID) *http.Request {
	return withValue(req, RequestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return valueFrom[uuid.UUID](ctx, RequestIDKey)
}

// ContextWithMetadata stores the metadata map. The map is shared, later writes by other modifiers are visible to every holder
func ContextWithMetadata(req *http.Request, metadata map[string]any) *http.Request {
	return withValue(req, MetadataKey, metadata)
}

func MetadataFromContext(ctx context.Context) (map[string]any, bool) {
	return valueFrom[map[string]any](ctx, MetadataKey)
}

func ContextWithMode(req *http.Request, mode string) *http.Request {
	return withValue(req, ModeKey, mode)
}

func ModeFromContext(ctx context.Context) (string, bool) {
	return valueFrom[string](ctx, ModeKey)
}

func ContextWithInterceptFlag(req *http.Request, intercept bool) *http.Request {
	return withValue(req, InterceptKey, intercept)
}

func InterceptFlagFromContext(ctx context.Context) (bool, bool) {
	return valueFrom[bool](ctx, InterceptKey)
}

func ContextWithRequestTime(req *http.Request, requestTime time.Time) *http.Request {
	return withValue(req, RequestTimeKey, requestTime)
}

func RequestTimeFromContext(ctx context.Context) (time.Time, bool) {
	return valueFrom[time.Time](ctx, RequestTimeKey)
}

func ContextWithResponseTime(req *http.Request, responseTime time.Time) *http.Request {
	return withValue(req, ResponseTimeKey, responseTime)
}

func ResponseTimeFromContext(ctx context.Context) (time.Time, bool) {
	return valueFrom[time.Time](ctx, ResponseTimeKey)
}

func ContextWithSkipFlag(req *http.Request, skip bool) *http.Request {
	return withValue(req, SkipKey, skip)
}

func SkipFlagFromContext(ctx context.Context) (bool, bool) {
	return valueFrom[bool](ctx, SkipKey)
}
