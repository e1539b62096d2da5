package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestIDKey struct{}
type storeKey struct{}
type operationKey struct{}

// WithRequestID stores a request id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// WithStore stores the store name an operation targets.
func WithStore(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, storeKey{}, name)
}

// WithOperation stores the pipeline operation name (create, merge, ...).
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// StoreFromContext returns the store name, or "".
func StoreFromContext(ctx context.Context) string {
	name, _ := ctx.Value(storeKey{}).(string)
	return name
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if name := StoreFromContext(ctx); name != "" {
		fields = append(fields, zap.String("store.name", name))
	}
	if op, _ := ctx.Value(operationKey{}).(string); op != "" {
		fields = append(fields, zap.String("operation", op))
	}
	return fields
}
