// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if m, ok := ctx.Value(missionCtxKey{}).(missionInfo); ok {
		fields = append(fields, zap.String("mission.id", m.id))
		if m.attempt > 0 {
			fields = append(fields, zap.Int("mission.attempt", m.attempt))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type missionCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

type missionInfo struct {
	id      string
	attempt int
}

// WithMission tags the context with a mission and, when attempt > 0, the
// build attempt number.
func WithMission(ctx context.Context, missionID string, attempt int) context.Context {
	return context.WithValue(ctx, missionCtxKey{}, missionInfo{id: missionID, attempt: attempt})
}

// MissionFromContext returns the mission ID and attempt stored in ctx.
func MissionFromContext(ctx context.Context) (string, int) {
	if m, ok := ctx.Value(missionCtxKey{}).(missionInfo); ok {
		return m.id, m.attempt
	}
	return "", 0
}

// WithRequestID adds an HTTP request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
