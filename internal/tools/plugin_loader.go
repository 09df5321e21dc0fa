package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/conduitbot/conduit/pkg/models"
)

// PluginLoader serves tools contributed by loaded plugins. Tool names are
// prefixed "plugin-{plugin}-{tool}" so they stay globally unique.
type PluginLoader struct {
	mu      sync.RWMutex
	byName  map[string]pluginTool
	plugins map[string][]string
}

type pluginTool struct {
	plugin   string
	function models.LLMFunction
	handler  func(ctx context.Context, args map[string]any) (any, error)
}

// NewPluginLoader creates an empty plugin loader.
func NewPluginLoader() *PluginLoader {
	return &PluginLoader{
		byName:  make(map[string]pluginTool),
		plugins: make(map[string][]string),
	}
}

// QualifiedName builds the globally unique name of a plugin tool.
func QualifiedName(plugin, tool string) string {
	return "plugin-" + plugin + "-" + tool
}

// Register adds a tool on behalf of a plugin. The function name is
// rewritten to its qualified form.
func (l *PluginLoader) Register(plugin string, fn models.LLMFunction, handler func(ctx context.Context, args map[string]any) (any, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := QualifiedName(plugin, fn.Name)
	fn.Name = name
	fn.Origin = models.ToolOriginPlugin
	l.byName[name] = pluginTool{plugin: plugin, function: fn, handler: handler}
	l.plugins[plugin] = append(l.plugins[plugin], name)
}

// RemovePlugin drops every tool a plugin registered.
func (l *PluginLoader) RemovePlugin(plugin string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range l.plugins[plugin] {
		delete(l.byName, name)
	}
	delete(l.plugins, plugin)
}

func (l *PluginLoader) Origin() models.ToolOrigin { return models.ToolOriginPlugin }

func (l *PluginLoader) Tools(ctx context.Context, filter []string) ([]models.LLMFunction, error) {
	allowed := filterSet(filter)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.LLMFunction
	for _, t := range l.byName {
		if allowed != nil && !allowed[t.plugin] {
			continue
		}
		out = append(out, t.function)
	}
	return out, nil
}

func (l *PluginLoader) HasTool(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byName[name]
	return ok
}

func (l *PluginLoader) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	l.mu.RLock()
	t, ok := l.byName[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.handler(ctx, args)
}

func filterSet(filter []string) map[string]bool {
	if filter == nil {
		return nil
	}
	set := make(map[string]bool, len(filter))
	for _, f := range filter {
		set[f] = true
	}
	return set
}
