// Package logging provides the process logger and request/sweep id propagation.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	requestIDKey contextKey = "requestId"
	sweepIDKey   contextKey = "sweepId"
)

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSweepID tags a context with the id of the healing sweep it belongs to.
func WithSweepID(ctx context.Context, sweepID string) context.Context {
	return context.WithValue(ctx, sweepIDKey, sweepID)
}

// GetSweepID returns the sweep id or "".
func GetSweepID(ctx context.Context) string {
	if id, ok := ctx.Value(sweepIDKey).(string); ok {
		return id
	}
	return ""
}
