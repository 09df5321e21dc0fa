package plugins

import (
	"context"
	"fmt"
	"sync"
)

// CommandReturnType tags one value streamed by a command handler.
type CommandReturnType string

const (
	CommandReturnText        CommandReturnType = "text"
	CommandReturnImageURL    CommandReturnType = "image_url"
	CommandReturnImageBase64 CommandReturnType = "image_base64"
	CommandReturnFileURL     CommandReturnType = "file_url"
	CommandReturnError       CommandReturnType = "error"
)

// CommandReturn is one streamed command result value.
type CommandReturn struct {
	Type  CommandReturnType
	Text  string
	URL   string
	Name  string
	Error error
}

// Command is a named command a plugin exposes.
type Command struct {
	Plugin      string
	Name        string
	Description string
	// Handler streams return values through the yield callback; returning
	// an error aborts the stream.
	Handler func(ctx context.Context, args []string, yield func(CommandReturn)) error
}

// Handler processes one plugin event emission.
type Handler func(ctx context.Context, ec *EventContext)

// Host dispatches events and commands to loaded plugins.
type Host interface {
	// EmitEvent runs the event through every handler a bound plugin
	// registered, in registration order, and returns the mutated context.
	// boundPlugins nil means all plugins.
	EmitEvent(ctx context.Context, event *Event, boundPlugins []string) (*EventContext, error)

	// ListCommands returns commands exposed by the bound plugins.
	ListCommands(boundPlugins []string) []Command

	// ExecuteCommand runs a command by name, streaming return values.
	ExecuteCommand(ctx context.Context, name string, args []string, boundPlugins []string, yield func(CommandReturn)) error
}

// InProcessHost is the builtin Host implementation backing internal
// plugins. External plugin processes attach through the same registration
// surface.
type InProcessHost struct {
	mu       sync.RWMutex
	handlers map[EventName][]registeredHandler
	commands map[string]Command
}

type registeredHandler struct {
	plugin  string
	handler Handler
}

// NewInProcessHost creates an empty host.
func NewInProcessHost() *InProcessHost {
	return &InProcessHost{
		handlers: make(map[EventName][]registeredHandler),
		commands: make(map[string]Command),
	}
}

// RegisterHandler subscribes a plugin to an event.
func (h *InProcessHost) RegisterHandler(plugin string, name EventName, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = append(h.handlers[name], registeredHandler{plugin: plugin, handler: handler})
}

// RegisterCommand exposes a command.
func (h *InProcessHost) RegisterCommand(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[cmd.Name] = cmd
}

func (h *InProcessHost) EmitEvent(ctx context.Context, event *Event, boundPlugins []string) (*EventContext, error) {
	allowed := boundSet(boundPlugins)
	ec := &EventContext{Event: event}

	h.mu.RLock()
	handlers := append([]registeredHandler(nil), h.handlers[event.Name]...)
	h.mu.RUnlock()

	for _, rh := range handlers {
		if allowed != nil && !allowed[rh.plugin] {
			continue
		}
		select {
		case <-ctx.Done():
			return ec, ctx.Err()
		default:
		}
		rh.handler(ctx, ec)
	}
	return ec, nil
}

func (h *InProcessHost) ListCommands(boundPlugins []string) []Command {
	allowed := boundSet(boundPlugins)
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Command, 0, len(h.commands))
	for _, cmd := range h.commands {
		if allowed != nil && !allowed[cmd.Plugin] {
			continue
		}
		out = append(out, cmd)
	}
	return out
}

func (h *InProcessHost) ExecuteCommand(ctx context.Context, name string, args []string, boundPlugins []string, yield func(CommandReturn)) error {
	allowed := boundSet(boundPlugins)
	h.mu.RLock()
	cmd, ok := h.commands[name]
	h.mu.RUnlock()
	if !ok || (allowed != nil && !allowed[cmd.Plugin]) {
		return fmt.Errorf("command not found: %s", name)
	}
	return cmd.Handler(ctx, args, yield)
}

func boundSet(bound []string) map[string]bool {
	if bound == nil {
		return nil
	}
	set := make(map[string]bool, len(bound))
	for _, b := range bound {
		set[b] = true
	}
	return set
}
