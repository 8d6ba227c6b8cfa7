// Package dispatch routes operations through a fixed interceptor chain:
// authorization, timing/diagnostic logging, then the handler, with a
// failure-logging wrapper around the handler call. Requirements are attached
// to operations when they are registered; the chain is composed once at
// startup.
package dispatch

import "context"

type ctxKey int

const (
	userIDKey ctxKey = iota
	callerKey
)

// Caller describes where a request came from, for diagnostic logging. The
// transport layer fills it in; absent values fall back to placeholders.
type Caller struct {
	RemoteAddr string
	Name       string
	Host       string
}

// WithUserID installs the authenticated user id for the in-flight request.
// An empty id means unauthenticated.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the current user id, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithCaller installs caller metadata for the in-flight request.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller metadata, with placeholders for any
// value the transport did not resolve.
func CallerFromContext(ctx context.Context) Caller {
	c, ok := ctx.Value(callerKey).(Caller)
	if !ok {
		c = Caller{}
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = "Unknown"
	}
	if c.Name == "" {
		c.Name = "Anonymous"
	}
	if c.Host == "" {
		c.Host = "Unknown"
	}
	return c
}
