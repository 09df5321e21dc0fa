package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/pkg/models"
)

// Store persists conversation turns. Implementations must be safe for
// concurrent use.
type Store interface {
	// AppendMessages records committed turn messages for a conversation.
	AppendMessages(ctx context.Context, conversationID string, msgs []models.Message) error

	// GetMessages returns up to limit most recent messages, oldest first.
	// limit <= 0 means all.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// Manager owns all sessions, keyed "{launcher_type}_{launcher_id}".
// Sessions are created lazily and live for the process lifetime.
type Manager struct {
	sessionConcurrency int
	store              Store

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. sessionConcurrency bounds concurrent
// pipeline runs per session; store may be nil for in-memory-only history.
func NewManager(sessionConcurrency int, store Store) *Manager {
	if sessionConcurrency <= 0 {
		sessionConcurrency = 1
	}
	return &Manager{
		sessionConcurrency: sessionConcurrency,
		store:              store,
		sessions:           make(map[string]*Session),
	}
}

// GetSession returns the session for the launcher, creating it on first use.
func (m *Manager) GetSession(launcherType models.LauncherType, launcherID string) *Session {
	key := Key(launcherType, launcherID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := &Session{
		LauncherType: launcherType,
		LauncherID:   launcherID,
		CreatedAt:    time.Now(),
		sem:          make(chan struct{}, m.sessionConcurrency),
	}
	m.sessions[key] = s
	return s
}

// GetConversation returns the session's active conversation, creating a new
// one when none exists or the active one is bound to a different pipeline.
// The conversation pointer and the session's conversation list are updated
// atomically.
func (m *Manager) GetConversation(session *Session, prompt []config.PromptMessage, pipelineUUID, botUUID string, tools []models.LLMFunction) *Conversation {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.current != nil && session.current.PipelineUUID == pipelineUUID {
		return session.current
	}
	conv := newConversation(pipelineUUID, botUUID, prompt, tools)
	session.conversations = append(session.conversations, conv)
	session.current = conv
	return conv
}

// ResetConversation detaches the active conversation so the next query
// starts fresh. The old conversation stays in the history list.
func (m *Manager) ResetConversation(session *Session) {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.current = nil
}

// CommitTurn appends msgs to the conversation and persists them when a
// store is configured. Store failures do not roll back the in-memory
// history; the turn already happened.
func (m *Manager) CommitTurn(ctx context.Context, conv *Conversation, msgs []models.Message) error {
	conv.Append(msgs...)
	if m.store == nil {
		return nil
	}
	return m.store.AppendMessages(ctx, conv.UUID, msgs)
}
