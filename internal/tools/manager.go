// Package tools aggregates LLM-callable tools from pluggable loaders and
// dispatches calls by name.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/conduitbot/conduit/pkg/models"
)

// ErrToolNotFound is returned when no loader owns the named tool.
var ErrToolNotFound = errors.New("tool not found")

// ExecutionError wraps a failure inside a tool run; the runner feeds it
// back to the model instead of aborting the turn.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Loader contributes tools from one origin (internal, plugin, MCP).
type Loader interface {
	// Origin labels the loader's tools.
	Origin() models.ToolOrigin

	// Tools lists the tools permitted by filter. A nil filter means all;
	// non-nil filters name the plugins or MCP servers to include and are
	// ignored by loaders the filter does not apply to.
	Tools(ctx context.Context, filter []string) ([]models.LLMFunction, error)

	// HasTool reports whether this loader owns the named tool.
	HasTool(name string) bool

	// Execute runs the named tool with decoded arguments.
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}

// Manager unions tools across loaders and routes execution to the first
// loader owning a name. Loaders are queried in registration order.
type Manager struct {
	loaders []Loader
}

// NewManager creates a Manager over the given loaders.
func NewManager(loaders ...Loader) *Manager {
	return &Manager{loaders: loaders}
}

// AddLoader appends a loader.
func (m *Manager) AddLoader(l Loader) {
	m.loaders = append(m.loaders, l)
}

// GetAllTools returns the union of tools the filters permit. pluginFilter
// applies to plugin loaders, mcpFilter to MCP loaders; nil means all.
func (m *Manager) GetAllTools(ctx context.Context, pluginFilter, mcpFilter []string) ([]models.LLMFunction, error) {
	var out []models.LLMFunction
	for _, l := range m.loaders {
		var filter []string
		switch l.Origin() {
		case models.ToolOriginPlugin:
			filter = pluginFilter
		case models.ToolOriginMCP:
			filter = mcpFilter
		}
		tools, err := l.Tools(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list %s tools: %w", l.Origin(), err)
		}
		out = append(out, tools...)
	}
	return out, nil
}

// Execute runs a tool by name. Argument JSON is validated against the
// tool's parameter schema before dispatch.
func (m *Manager) Execute(ctx context.Context, name string, argsJSON string) (any, error) {
	for _, l := range m.loaders {
		if !l.HasTool(name) {
			continue
		}
		args := map[string]any{}
		if argsJSON != "" {
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return nil, &ExecutionError{Tool: name, Cause: fmt.Errorf("decode arguments: %w", err)}
			}
		}
		if fn, ok := m.findFunction(ctx, l, name); ok {
			if err := ValidateArguments(fn.Parameters, args); err != nil {
				return nil, &ExecutionError{Tool: name, Cause: err}
			}
		}
		result, err := l.Execute(ctx, name, args)
		if err != nil {
			return nil, &ExecutionError{Tool: name, Cause: err}
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

func (m *Manager) findFunction(ctx context.Context, l Loader, name string) (models.LLMFunction, bool) {
	tools, err := l.Tools(ctx, nil)
	if err != nil {
		return models.LLMFunction{}, false
	}
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return models.LLMFunction{}, false
}
