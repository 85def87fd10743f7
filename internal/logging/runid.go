// Package logging carries the run ID that ties together the log lines of one
// sync, batch or on-demand.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type runIDKey struct{}

// NewRunID returns a random 8-character hex ID.
func NewRunID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRunID returns ctx carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run ID of ctx, or "" when there is none.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// EnsureRunID returns ctx unchanged when it already carries a run ID and a
// child with a fresh one otherwise.
func EnsureRunID(ctx context.Context) context.Context {
	if RunID(ctx) != "" {
		return ctx
	}
	return WithRunID(ctx, NewRunID())
}
