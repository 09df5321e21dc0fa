package models

import "strings"

// Role is a provider-side message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleCommand   Role = "command"
	RolePlugin    Role = "plugin"
)

// ContentPartType identifies a multi-part content variant.
type ContentPartType string

const (
	PartText        ContentPartType = "text"
	PartImageURL    ContentPartType = "image_url"
	PartImageBase64 ContentPartType = "image_base64"
	PartFileURL     ContentPartType = "file_url"
)

// ContentPart is one part of a multi-part message content.
type ContentPart struct {
	Type ContentPartType `json:"type"`
	// Text is set for text parts.
	Text string `json:"text,omitempty"`
	// URL is set for image_url and file_url parts.
	URL string `json:"url,omitempty"`
	// Base64 is set for image_base64 parts.
	Base64 string `json:"base64,omitempty"`
	// Name is set for file_url parts.
	Name string `json:"name,omitempty"`
}

// FunctionCall is the function payload of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is an LLM request to execute a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is the LLM-side message model shared by requesters, the runner
// and conversation history.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	// Reasoning carries provider reasoning_content when surfaced separately.
	Reasoning string `json:"reasoning,omitempty"`
}

// PlainText returns the message's textual content: Content when set,
// otherwise the concatenation of text parts in order.
func (m *Message) PlainText() string {
	if m.Content != "" {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// MessageChunk is a streaming increment of a Message. Content and tool-call
// arguments are cumulative across chunks of the same sequence.
type MessageChunk struct {
	Message
	IsFinal     bool `json:"is_final"`
	MsgSequence int  `json:"msg_sequence"`
}

// UserTextMessage builds a plain user message.
func UserTextMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}
