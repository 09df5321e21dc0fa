// Package plugins models the in-process plugin event bus the pipeline
// consumes. Plugin installation and the host protocol live outside the core.
package plugins

import (
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/pkg/models"
)

// EventName identifies a plugin event variant.
type EventName string

const (
	// PersonNormalMessageReceived fires before a private chat message is
	// handed to the runner.
	PersonNormalMessageReceived EventName = "PersonNormalMessageReceived"

	// GroupNormalMessageReceived fires before a group chat message is
	// handed to the runner.
	GroupNormalMessageReceived EventName = "GroupNormalMessageReceived"

	// PromptPreProcessing fires after the preprocessor assembled the
	// prompt and history; handlers may rewrite both.
	PromptPreProcessing EventName = "PromptPreProcessing"

	// NormalMessageResponded fires when the wrapper converts an assistant
	// response; handlers may replace the outgoing chain.
	NormalMessageResponded EventName = "NormalMessageResponded"
)

// Event is the payload handed to plugin handlers. Fields are populated per
// event variant; handlers mutate the context, not the event.
type Event struct {
	Name EventName

	// Sender and message fields, set for message events.
	LauncherType models.LauncherType
	LauncherID   string
	SenderID     string
	Text         string
	Chain        models.MessageChain

	// Prompt fields, set for PromptPreProcessing.
	DefaultPrompt []config.PromptMessage
	Prompt        []config.PromptMessage
	History       []models.Message

	// Response fields, set for NormalMessageResponded.
	ResponseText string
}

// EventContext collects handler-side mutations of one event emission.
type EventContext struct {
	Event *Event

	// PreventDefault suppresses the core's default handling.
	PreventDefault bool

	// ReplyChain, when set, is sent back to the originating chat.
	ReplyChain models.MessageChain

	// Alter replaces the user message text when non-nil.
	Alter *string
}

// SetAlter records a replacement for the user message content.
func (c *EventContext) SetAlter(text string) {
	c.Alter = &text
}
