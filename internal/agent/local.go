package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conduitbot/conduit/internal/kb"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/internal/tools"
	"github.com/conduitbot/conduit/pkg/models"
)

const defaultMaxRounds = 10

// LocalRunner drives a configured model through rounds of assistant and
// tool messages until the model stops calling tools.
type LocalRunner struct {
	providers *provider.Manager
	tools     *tools.Manager
	knowledge *kb.Service
	log       *observability.Logger
}

// NewLocalRunner wires the local agent. knowledge may be nil when no
// bases are configured.
func NewLocalRunner(providers *provider.Manager, toolMgr *tools.Manager, knowledge *kb.Service, log *observability.Logger) *LocalRunner {
	return &LocalRunner{providers: providers, tools: toolMgr, knowledge: knowledge, log: log}
}

func (r *LocalRunner) Name() string { return "local-agent" }

// Run executes the agent loop. Items arrive in production order; the
// channel closes when the turn finishes or a terminal error is emitted.
func (r *LocalRunner) Run(ctx context.Context, req *Request) (<-chan Item, error) {
	requester, err := r.providers.RequesterFor(req.Model)
	if err != nil {
		return nil, err
	}

	out := make(chan Item)
	go func() {
		defer close(out)
		r.run(ctx, requester, req, out)
	}()
	return out, nil
}

func (r *LocalRunner) run(ctx context.Context, requester provider.Requester, req *Request, out chan<- Item) {
	convo := make([]models.Message, 0, len(req.Prompt)+len(req.History)+2)
	convo = append(convo, req.Prompt...)
	convo = append(convo, req.History...)
	convo = append(convo, req.UserMessage)
	convo = r.augment(ctx, req, convo)

	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	streamer, canStream := requester.(provider.StreamingRequester)
	streaming := req.Streaming && canStream

	for round := 0; ; round++ {
		if round >= maxRounds {
			emit(ctx, out, Item{Err: fmt.Errorf("agent exceeded %d tool rounds", maxRounds)})
			return
		}

		var msg *models.Message
		var err error
		if streaming {
			msg, err = r.invokeStream(ctx, streamer, req, convo, out)
		} else {
			msg, err = requester.InvokeLLM(ctx, req.Model, convo, req.Tools, req.ExtraArgs)
			if err == nil {
				applyThink(msg, req.RemoveThink)
				if !emit(ctx, out, Item{Message: msg}) {
					return
				}
			}
		}
		if err != nil {
			emit(ctx, out, Item{Err: err})
			return
		}

		convo = append(convo, *msg)
		if len(msg.ToolCalls) == 0 {
			return
		}

		for _, call := range msg.ToolCalls {
			toolMsg := r.dispatchTool(ctx, call)
			if !emit(ctx, out, Item{Message: &toolMsg}) {
				return
			}
			convo = append(convo, toolMsg)
		}
	}
}

// invokeStream forwards cumulative chunks and returns the final chunk's
// message as the round result.
func (r *LocalRunner) invokeStream(ctx context.Context, requester provider.StreamingRequester, req *Request, convo []models.Message, out chan<- Item) (*models.Message, error) {
	stream, err := requester.InvokeLLMStream(ctx, req.Model, convo, req.Tools, req.ExtraArgs)
	if err != nil {
		return nil, err
	}
	var final *models.Message
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		applyThink(&chunk.Message, req.RemoveThink)
		if chunk.IsFinal {
			msg := chunk.Message
			final = &msg
		}
		if !emit(ctx, out, Item{Chunk: chunk}) {
			return nil, ctx.Err()
		}
	}
	if final == nil {
		return nil, fmt.Errorf("stream from %s ended without a final chunk", req.Model.Name)
	}
	return final, nil
}

// augment appends retrieved context as an extra user message after the
// prompt, history and user message. Retrieval failures degrade to an
// unaugmented request.
func (r *LocalRunner) augment(ctx context.Context, req *Request, convo []models.Message) []models.Message {
	if req.KnowledgeBaseUUID == "" || r.knowledge == nil {
		return convo
	}
	results, err := r.knowledge.Retrieve(ctx, req.KnowledgeBaseUUID, req.QueryText)
	if err != nil {
		r.log.Warn(ctx, "knowledge retrieval failed",
			"base", req.KnowledgeBaseUUID, "error", err)
		return convo
	}
	if len(results) == 0 {
		return convo
	}
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Text
	}
	return append(convo, models.Message{
		Role:    models.RoleUser,
		Content: "Relevant context:\n" + strings.Join(texts, "\n"),
	})
}

// dispatchTool runs one tool call and always produces a tool message;
// failures are fed back to the model as content.
func (r *LocalRunner) dispatchTool(ctx context.Context, call models.ToolCall) models.Message {
	msg := models.Message{Role: models.RoleTool, ToolCallID: call.ID}
	result, err := r.tools.Execute(ctx, call.Function.Name, call.Function.Arguments)
	if err != nil {
		r.log.Warn(ctx, "tool call failed", "tool", call.Function.Name, "error", err)
		msg.Content = "err: " + err.Error()
		return msg
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		msg.Content = "err: " + err.Error()
		return msg
	}
	msg.Content = string(encoded)
	return msg
}

// emit sends an item unless the run was cancelled.
func emit(ctx context.Context, out chan<- Item, item Item) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
