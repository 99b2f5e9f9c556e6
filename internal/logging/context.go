// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runIDCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation fields from ctx: the active span and
// the run ID.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	return fields
}

// WithRunID tags ctx with the current run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// RunIDFromContext returns the run ID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
