// Package runners implements the external app-platform runners: HTTP
// clients for Dify, Dashscope, n8n and Langflow that trade a user message
// for a single assistant reply. Remote session state is correlated by the
// local conversation UUID.
package runners

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conduitbot/conduit/internal/agent"
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/pkg/models"
)

const defaultAppTimeout = 60 * time.Second

// clientPool reuses one appClient per endpoint so remote session bindings
// survive across turns of the same pipeline.
type clientPool struct {
	mu      sync.Mutex
	clients map[config.AppAPIConfig]*appClient
}

func newClientPool() *clientPool {
	return &clientPool{clients: make(map[config.AppAPIConfig]*appClient)}
}

func (p *clientPool) get(cfg config.AppAPIConfig) *appClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[cfg]
	if !ok {
		c = newAppClient(cfg)
		p.clients[cfg] = c
	}
	return c
}

// appClient is the shared HTTP plumbing of the external runners.
type appClient struct {
	http *http.Client

	// remote maps local conversation UUIDs to remote session identifiers
	// handed out by the app platform.
	mu     sync.Mutex
	remote map[string]string
}

func newAppClient(cfg config.AppAPIConfig) *appClient {
	timeout := defaultAppTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &appClient{
		http:   &http.Client{Timeout: timeout},
		remote: make(map[string]string),
	}
}

func (c *appClient) remoteSession(conversationUUID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote[conversationUUID]
}

func (c *appClient) bindRemoteSession(conversationUUID, remoteID string) {
	if conversationUUID == "" || remoteID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote[conversationUUID] = remoteID
}

// postJSON performs one JSON round trip. Non-2xx responses become errors
// carrying a body excerpt.
func (c *appClient) postJSON(ctx context.Context, url string, headers map[string]string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := strings.TrimSpace(string(data))
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return fmt.Errorf("app api returned %d: %s", resp.StatusCode, excerpt)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// singleReply wraps one assistant message (or an error) into the runner
// stream contract.
func singleReply(content string, err error) <-chan agent.Item {
	out := make(chan agent.Item, 1)
	if err != nil {
		out <- agent.Item{Err: err}
	} else {
		out <- agent.Item{Message: &models.Message{Role: models.RoleAssistant, Content: content}}
	}
	close(out)
	return out
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
