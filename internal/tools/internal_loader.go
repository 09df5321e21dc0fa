package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/conduitbot/conduit/pkg/models"
)

// InternalTool is a tool implemented inside the process.
type InternalTool struct {
	Function models.LLMFunction
	Handler  func(ctx context.Context, args map[string]any) (any, error)
}

// InternalLoader serves tools registered in-process.
type InternalLoader struct {
	mu    sync.RWMutex
	tools map[string]InternalTool
}

// NewInternalLoader creates an empty internal loader.
func NewInternalLoader() *InternalLoader {
	return &InternalLoader{tools: make(map[string]InternalTool)}
}

// Register adds a tool, forcing its origin to internal.
func (l *InternalLoader) Register(t InternalTool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.Function.Origin = models.ToolOriginInternal
	l.tools[t.Function.Name] = t
}

func (l *InternalLoader) Origin() models.ToolOrigin { return models.ToolOriginInternal }

func (l *InternalLoader) Tools(ctx context.Context, filter []string) ([]models.LLMFunction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.LLMFunction, 0, len(l.tools))
	for _, t := range l.tools {
		out = append(out, t.Function)
	}
	return out, nil
}

func (l *InternalLoader) HasTool(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tools[name]
	return ok
}

func (l *InternalLoader) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	l.mu.RLock()
	t, ok := l.tools[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Handler(ctx, args)
}
