// Package pipeline implements the query lifecycle: admission, the stage
// engine, and the fan-out contract between stages.
package pipeline

import (
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/internal/sessions"
	"github.com/conduitbot/conduit/pkg/models"
)

// Reserved variable keys carried on every query.
const (
	VarSessionID        = "session_id"
	VarConversationID   = "conversation_id"
	VarMsgCreateTime    = "msg_create_time"
	VarUserMessageText  = "user_message_text"
	VarBoundPlugins     = "_pipeline_bound_plugins"
	VarBoundMCPServers  = "_pipeline_bound_mcp_servers"
)

// Response is one entry of a query's response list: a provider message, a
// streaming chunk, or a chain that bypasses conversion in the wrapper.
type Response struct {
	Message *models.Message
	Chunk   *models.MessageChunk
	Chain   models.MessageChain
}

// IsFinalChunk reports whether this response is a terminal stream chunk.
// Non-chunk responses count as final.
func (r *Response) IsFinalChunk() bool {
	if r.Chunk != nil {
		return r.Chunk.IsFinal
	}
	return true
}

// Query is one complete request lifecycle triggered by a single inbound
// message event. Fields are set by the named stages only; see the stage
// implementations for the mutation order.
type Query struct {
	ID uint64

	// Intake.
	LauncherType models.LauncherType
	LauncherID   string
	SenderID     string
	Event        *models.MessageEvent
	Chain        models.MessageChain
	Adapter      platform.Adapter
	BotUUID      string
	PipelineUUID string

	// PreProcessor.
	Session      *sessions.Session
	Conversation *sessions.Conversation
	Prompt       []config.PromptMessage
	Messages     []models.Message
	UserMessage  *models.Message
	UseFuncs     []models.LLMFunction
	UseModelUUID string
	Variables    map[string]any

	// Processor / runner. Grows as the runner fans out.
	RespMessages []Response

	// Wrapper. Parallel to RespMessages; entry i is delivered exactly once.
	RespChains []models.MessageChain

	// RespMessageID correlates streaming chunk updates on the platform.
	RespMessageID string

	currentStage string
}

// LastResponse returns the most recent response entry, or nil.
func (q *Query) LastResponse() *Response {
	if len(q.RespMessages) == 0 {
		return nil
	}
	return &q.RespMessages[len(q.RespMessages)-1]
}

// LastChain returns the most recent wrapped chain, or nil.
func (q *Query) LastChain() models.MessageChain {
	if len(q.RespChains) == 0 {
		return nil
	}
	return q.RespChains[len(q.RespChains)-1]
}

// SetVariable initializes the variables map lazily and sets a key.
func (q *Query) SetVariable(key string, value any) {
	if q.Variables == nil {
		q.Variables = make(map[string]any)
	}
	q.Variables[key] = value
}

// StringSliceVariable reads a []string variable, tolerating []any values.
func (q *Query) StringSliceVariable(key string) []string {
	v, ok := q.Variables[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
