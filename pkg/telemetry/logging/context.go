package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// BatchIndexKey is the context key for the position of an item in a batch.
	BatchIndexKey contextKey = "batch_index"

	// SnapshotVersionKey is the context key for the rule snapshot version
	// an evaluation runs against.
	SnapshotVersionKey contextKey = "snapshot_version"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithBatchIndex adds a batch position to the context.
func WithBatchIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, BatchIndexKey, index)
}

// GetBatchIndex retrieves the batch position from the context.
func GetBatchIndex(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(BatchIndexKey).(int)
	return index, ok
}

// WithSnapshotVersion adds a rule snapshot version to the context.
func WithSnapshotVersion(ctx context.Context, version uint64) context.Context {
	return context.WithValue(ctx, SnapshotVersionKey, version)
}

// GetSnapshotVersion retrieves the rule snapshot version from the context.
func GetSnapshotVersion(ctx context.Context) (uint64, bool) {
	version, ok := ctx.Value(SnapshotVersionKey).(uint64)
	return version, ok
}

// extractContextFields returns the log attributes carried by ctx as
// key-value pairs.
func extractContextFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var fields []any

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if index, ok := GetBatchIndex(ctx); ok {
		fields = append(fields, "batch_index", index)
	}
	if version, ok := GetSnapshotVersion(ctx); ok {
		fields = append(fields, "snapshot_version", version)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}

	return fields
}
