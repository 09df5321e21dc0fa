package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/conduitbot/conduit/pkg/models"
)

// MCPClient is the narrow surface the loader needs from an MCP session.
// The transport (stdio, SSE) lives outside the core.
type MCPClient interface {
	// ListTools returns the tools the server exposes.
	ListTools(ctx context.Context) ([]models.LLMFunction, error)

	// CallTool invokes a tool on the server.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// MCPLoader serves tools exposed by connected MCP servers.
type MCPLoader struct {
	mu      sync.RWMutex
	servers map[string]MCPClient
	// owner maps tool name to server name; refreshed on each Tools call.
	owner map[string]string
}

// NewMCPLoader creates an empty MCP loader.
func NewMCPLoader() *MCPLoader {
	return &MCPLoader{
		servers: make(map[string]MCPClient),
		owner:   make(map[string]string),
	}
}

// AddServer attaches a connected MCP server under a name.
func (l *MCPLoader) AddServer(name string, client MCPClient) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.servers[name] = client
}

// RemoveServer detaches a server and forgets its tools.
func (l *MCPLoader) RemoveServer(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.servers, name)
	for tool, owner := range l.owner {
		if owner == name {
			delete(l.owner, tool)
		}
	}
}

func (l *MCPLoader) Origin() models.ToolOrigin { return models.ToolOriginMCP }

func (l *MCPLoader) Tools(ctx context.Context, filter []string) ([]models.LLMFunction, error) {
	allowed := filterSet(filter)

	l.mu.RLock()
	servers := make(map[string]MCPClient, len(l.servers))
	for name, c := range l.servers {
		servers[name] = c
	}
	l.mu.RUnlock()

	var out []models.LLMFunction
	for name, client := range servers {
		if allowed != nil && !allowed[name] {
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools from mcp server %s: %w", name, err)
		}
		l.mu.Lock()
		for i := range tools {
			tools[i].Origin = models.ToolOriginMCP
			l.owner[tools[i].Name] = name
		}
		l.mu.Unlock()
		out = append(out, tools...)
	}
	return out, nil
}

func (l *MCPLoader) HasTool(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.owner[name]
	return ok
}

func (l *MCPLoader) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	l.mu.RLock()
	server, ok := l.owner[name]
	client := l.servers[server]
	l.mu.RUnlock()
	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return client.CallTool(ctx, name, args)
}
