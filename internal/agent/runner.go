// Package agent contains the response runners: the local tool-calling
// agent and the HTTP clients for external app platforms. A runner turns
// one prepared request into a finite stream of provider messages or
// streaming chunks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/pkg/models"
)

// ErrRunnerNotFound is returned for an unregistered runner name.
var ErrRunnerNotFound = errors.New("runner not found")

// Item is one yield of a runner: a full message, a streaming chunk, or a
// terminal error. Exactly one field is set.
type Item struct {
	Message *models.Message
	Chunk   *models.MessageChunk
	Err     error
}

// Request is everything a runner needs for one turn. Prompt, History and
// UserMessage are already ordered; the runner never reorders them.
type Request struct {
	Model       *provider.RuntimeModel
	Prompt      []models.Message
	History     []models.Message
	UserMessage models.Message

	Tools       []models.LLMFunction
	Streaming   bool
	RemoveThink bool
	MaxRounds   int

	// KnowledgeBaseUUID enables retrieval augmentation; QueryText is the
	// plain text of the inbound chain used as the retrieval query.
	KnowledgeBaseUUID string
	QueryText         string

	// ConversationUUID correlates stateful external app platforms.
	ConversationUUID string

	// App carries the endpoint settings for external app-platform runners;
	// the local agent ignores it.
	App config.AppAPIConfig

	ExtraArgs map[string]any
}

// Runner produces the response stream for one request. The returned
// channel is closed when the run finishes; an Err item is terminal.
type Runner interface {
	Name() string
	Run(ctx context.Context, req *Request) (<-chan Item, error)
}

// Registry maps pipeline runner names to implementations.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(rn Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[rn.Name()] = rn
}

func (r *Registry) Get(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunnerNotFound, name)
	}
	return rn, nil
}
