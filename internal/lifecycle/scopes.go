// Package lifecycle tags long-lived tasks with cancellation scopes so whole
// subsystems (platform adapters, plugins, providers) can be torn down as a
// unit without stopping the application.
package lifecycle

import (
	"context"
	"sync"
)

// Scope names a cancellation domain.
type Scope string

const (
	ScopeApplication Scope = "application"
	ScopePlatform    Scope = "platform"
	ScopePlugin      Scope = "plugin"
	ScopeProvider    Scope = "provider"
)

// Manager owns one context per scope, all derived from a root context.
// Cancelling a scope cancels every task started under it; cancelling the
// root cancels everything.
type Manager struct {
	mu     sync.Mutex
	root   context.Context
	cancel context.CancelFunc
	scopes map[Scope]*scopeState
	wg     sync.WaitGroup
}

type scopeState struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager rooted at parent.
func NewManager(parent context.Context) *Manager {
	root, cancel := context.WithCancel(parent)
	return &Manager{
		root:   root,
		cancel: cancel,
		scopes: make(map[Scope]*scopeState),
	}
}

// Context returns the context for a scope, creating it on first use.
func (m *Manager) Context(scope Scope) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(scope).ctx
}

func (m *Manager) stateLocked(scope Scope) *scopeState {
	st, ok := m.scopes[scope]
	if !ok || st.ctx.Err() != nil {
		ctx, cancel := context.WithCancel(m.root)
		st = &scopeState{ctx: ctx, cancel: cancel}
		m.scopes[scope] = st
	}
	return st
}

// Go runs fn as a task under the given scope. The task must return promptly
// once its context is cancelled.
func (m *Manager) Go(scope Scope, fn func(ctx context.Context)) {
	m.mu.Lock()
	ctx := m.stateLocked(scope).ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(ctx)
	}()
}

// CancelScope cancels every task tagged with the scope. A later Go or
// Context call on the same scope starts a fresh domain.
func (m *Manager) CancelScope(scope Scope) {
	m.mu.Lock()
	st, ok := m.scopes[scope]
	if ok {
		delete(m.scopes, scope)
	}
	m.mu.Unlock()
	if ok {
		st.cancel()
	}
}

// Shutdown cancels everything and waits for all tasks to return.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until all started tasks have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
