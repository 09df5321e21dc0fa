package plugins

import (
	"context"

	"github.com/conduitbot/conduit/pkg/models"
)

// CommandInvocation identifies the chat a command was issued from. Command
// handlers that act on the caller's session read it from the context.
type CommandInvocation struct {
	LauncherType models.LauncherType
	LauncherID   string
	SenderID     string
}

type invocationKey struct{}

// WithInvocation attaches the caller identity for a command execution.
func WithInvocation(ctx context.Context, inv CommandInvocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the caller identity, if the executor attached one.
func InvocationFrom(ctx context.Context) (CommandInvocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(CommandInvocation)
	return inv, ok
}
