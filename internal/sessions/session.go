// Package sessions owns per-sender sessions and their conversations.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/pkg/models"
)

// Key builds the canonical session key "{launcher_type}_{launcher_id}".
func Key(launcherType models.LauncherType, launcherID string) string {
	return string(launcherType) + "_" + launcherID
}

// Session is the persistent per-(launcher, id) context. It bounds
// concurrent pipeline runs with a semaphore and aggregates conversations.
type Session struct {
	LauncherType models.LauncherType
	LauncherID   string
	CreatedAt    time.Time

	sem chan struct{}

	mu            sync.Mutex
	conversations []*Conversation
	current       *Conversation
}

// Acquire takes a semaphore slot, queueing until one frees or ctx ends.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a semaphore slot.
func (s *Session) Release() {
	<-s.sem
}

// Key returns the session's canonical key.
func (s *Session) Key() string {
	return Key(s.LauncherType, s.LauncherID)
}

// Current returns the active conversation, which may be nil.
func (s *Session) Current() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Conversations returns a snapshot of all conversations, oldest first.
func (s *Session) Conversations() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conversation(nil), s.conversations...)
}

// Conversation is a bounded provider-message history bound to a
// (pipeline, bot) pair. Remote stateful runners correlate their own session
// state through UUID.
type Conversation struct {
	UUID         string
	PipelineUUID string
	BotUUID      string
	Prompt       []config.PromptMessage
	Tools        []models.LLMFunction
	CreatedAt    time.Time
	UpdatedAt    time.Time

	mu       sync.Mutex
	messages []models.Message
}

func newConversation(pipelineUUID, botUUID string, prompt []config.PromptMessage, tools []models.LLMFunction) *Conversation {
	now := time.Now()
	return &Conversation{
		UUID:         uuid.NewString(),
		PipelineUUID: pipelineUUID,
		BotUUID:      botUUID,
		Prompt:       append([]config.PromptMessage(nil), prompt...),
		Tools:        append([]models.LLMFunction(nil), tools...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Messages returns a copy of the history so callers can mutate freely.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// Len returns the current history length.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Append commits messages to the history. Only called after a successful
// turn; failed turns leave the history untouched.
func (c *Conversation) Append(msgs ...models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	c.UpdatedAt = time.Now()
}

// Truncate drops the oldest messages down to max entries. Leading tool
// messages left orphaned by the cut are dropped too, so the history always
// starts at a user or assistant message.
func (c *Conversation) Truncate(max int) {
	if max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) <= max {
		return
	}
	trimmed := c.messages[len(c.messages)-max:]
	for len(trimmed) > 0 && trimmed[0].Role == models.RoleTool {
		trimmed = trimmed[1:]
	}
	c.messages = append([]models.Message(nil), trimmed...)
}
