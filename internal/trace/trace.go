// Package trace provides request-scoped identifiers and loggers.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

// HeaderKey is the HTTP header carrying an inbound trace id.
const HeaderKey = "X-Trace-Id"

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// NewID creates a 128-bit hex trace id.
func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext extracts the trace id, empty when absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceCtxKey).(string)
	return id
}

// WithContext injects a trace id into the context.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceCtxKey, id)
}

// EnsureContext returns the existing trace id or attaches a fresh one.
func EnsureContext(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithContext(ctx, id), id
}

// Logger returns a slog.Logger annotated with the context's trace id.
func Logger(ctx context.Context) *slog.Logger {
	id := FromContext(ctx)
	if id == "" {
		return slog.Default()
	}
	return slog.Default().With("trace_id", id)
}
