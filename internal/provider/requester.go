// Package provider defines the LLM requester seam and the runtime model
// registry shared by the pipeline and the agent runner.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/pkg/models"
)

// Ability names a model capability flag.
const (
	AbilityFuncCall = "func_call"
	AbilityVision   = "vision"
)

// RuntimeModel is a configured model bound to a requester.
type RuntimeModel struct {
	UUID      string
	Name      string
	Requester string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration

	abilities map[string]bool
}

// NewRuntimeModel builds a RuntimeModel from config.
func NewRuntimeModel(cfg config.ModelConfig) *RuntimeModel {
	abilities := make(map[string]bool, len(cfg.Abilities))
	for _, a := range cfg.Abilities {
		abilities[a] = true
	}
	return &RuntimeModel{
		UUID:      cfg.UUID,
		Name:      cfg.Name,
		Requester: cfg.Requester,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		abilities: abilities,
	}
}

// HasAbility reports whether the model declares the capability.
func (m *RuntimeModel) HasAbility(name string) bool {
	return m.abilities[name]
}

// Requester speaks one LLM API dialect.
type Requester interface {
	// Name identifies the requester ("openai", "anthropic", ...).
	Name() string

	// Initialize prepares clients; called once at startup.
	Initialize(ctx context.Context) error

	// InvokeLLM performs a non-streaming completion.
	InvokeLLM(ctx context.Context, model *RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (*models.Message, error)
}

// StreamingRequester is implemented by requesters that can stream chunks.
// Chunk content and tool-call arguments are cumulative; the terminal chunk
// has IsFinal set.
type StreamingRequester interface {
	Requester
	InvokeLLMStream(ctx context.Context, model *RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (<-chan *models.MessageChunk, error)
}

// Manager resolves model UUIDs to runtime models and their requesters.
type Manager struct {
	mu         sync.RWMutex
	models     map[string]*RuntimeModel
	requesters map[string]Requester
}

// NewManager builds a Manager over the configured models.
func NewManager(modelCfgs []config.ModelConfig) *Manager {
	m := &Manager{
		models:     make(map[string]*RuntimeModel, len(modelCfgs)),
		requesters: make(map[string]Requester),
	}
	for _, cfg := range modelCfgs {
		m.models[cfg.UUID] = NewRuntimeModel(cfg)
	}
	return m
}

// RegisterRequester makes a requester available by name.
func (m *Manager) RegisterRequester(r Requester) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requesters[r.Name()] = r
}

// GetModel resolves a model UUID.
func (m *Manager) GetModel(uuid string) (*RuntimeModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[uuid]
	if !ok {
		return nil, ErrModelNotFound
	}
	return model, nil
}

// RequesterFor returns the requester bound to the model.
func (m *Manager) RequesterFor(model *RuntimeModel) (Requester, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requesters[model.Requester]
	if !ok {
		return nil, NewError(KindNotFound, "no requester registered for "+model.Requester, nil)
	}
	return r, nil
}
