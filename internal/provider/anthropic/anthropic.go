// Package anthropic implements the Messages-API requester with streaming
// and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/pkg/models"
)

const defaultMaxTokens = 2048

// Requester speaks the Anthropic Messages dialect. Clients are cached per
// model entry.
type Requester struct {
	log *observability.Logger

	mu      sync.Mutex
	clients map[string]anthropicsdk.Client
}

func NewRequester(log *observability.Logger) *Requester {
	return &Requester{log: log, clients: make(map[string]anthropicsdk.Client)}
}

func (r *Requester) Name() string { return "anthropic" }

func (r *Requester) Initialize(context.Context) error { return nil }

func (r *Requester) client(model *provider.RuntimeModel) anthropicsdk.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[model.UUID]; ok {
		return c
	}
	options := []option.RequestOption{option.WithAPIKey(model.APIKey)}
	if strings.TrimSpace(model.BaseURL) != "" {
		options = append(options, option.WithBaseURL(model.BaseURL))
	}
	c := anthropicsdk.NewClient(options...)
	r.clients[model.UUID] = c
	return c
}

func (r *Requester) InvokeLLM(ctx context.Context, model *provider.RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx, model)
	defer cancel()

	params, err := buildParams(model, messages, tools, extra)
	if err != nil {
		return nil, err
	}
	client := r.client(model)
	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}

	msg := models.Message{Role: models.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.AsText().Text
		case "thinking":
			msg.Reasoning += block.AsThinking().Thinking
		case "tool_use":
			toolUse := block.AsToolUse()
			args, err := json.Marshal(toolUse.Input)
			if err != nil {
				return nil, fmt.Errorf("decode tool use input: %w", err)
			}
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:   toolUse.ID,
				Type: "function",
				Function: models.FunctionCall{
					Name:      toolUse.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return &msg, nil
}

// InvokeLLMStream emits cumulative chunks with MsgSequence starting at 1;
// the terminal chunk repeats the full message with IsFinal set.
func (r *Requester) InvokeLLMStream(ctx context.Context, model *provider.RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (<-chan *models.MessageChunk, error) {
	streamCtx, cancel := withTimeout(ctx, model)

	params, err := buildParams(model, messages, tools, extra)
	if err != nil {
		cancel()
		return nil, err
	}
	client := r.client(model)
	stream := client.Messages.NewStreaming(streamCtx, params)

	out := make(chan *models.MessageChunk)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		acc := models.Message{Role: models.RoleAssistant}
		var pendingTool *models.ToolCall
		seq := 0

		emit := func(isFinal bool) bool {
			seq++
			msg := acc
			if pendingTool != nil {
				msg.ToolCalls = append(append([]models.ToolCall(nil), acc.ToolCalls...), *pendingTool)
			}
			chunk := &models.MessageChunk{Message: msg, MsgSequence: seq, IsFinal: isFinal}
			select {
			case out <- chunk:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					pendingTool = &models.ToolCall{
						ID:       toolUse.ID,
						Type:     "function",
						Function: models.FunctionCall{Name: toolUse.Name},
					}
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				changed := false
				switch delta.Type {
				case "text_delta":
					acc.Content += delta.Text
					changed = delta.Text != ""
				case "thinking_delta":
					acc.Reasoning += delta.Thinking
					changed = delta.Thinking != ""
				case "input_json_delta":
					if pendingTool != nil {
						pendingTool.Function.Arguments += delta.PartialJSON
						changed = delta.PartialJSON != ""
					}
				}
				if changed && !emit(false) {
					return
				}
			case "content_block_stop":
				if pendingTool != nil {
					acc.ToolCalls = append(acc.ToolCalls, *pendingTool)
					pendingTool = nil
				}
			}
		}
		if err := stream.Err(); err != nil {
			r.log.Error(streamCtx, "messages stream failed", "model", model.Name, "error", err)
		}
		emit(true)
	}()
	return out, nil
}

func withTimeout(ctx context.Context, model *provider.RuntimeModel) (context.Context, context.CancelFunc) {
	timeout := model.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// buildParams splits system messages into the System field and converts
// the rest into alternating user and assistant turns.
func buildParams(model *provider.RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (anthropicsdk.MessageNewParams, error) {
	maxTokens := int64(defaultMaxTokens)
	if v, ok := extra["max_tokens"].(int); ok && v > 0 {
		maxTokens = int64(v)
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model.Name),
		MaxTokens: maxTokens,
	}

	var system []anthropicsdk.TextBlockParam
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			system = append(system, anthropicsdk.TextBlockParam{Type: "text", Text: msg.PlainText()})

		case models.RoleAssistant:
			var content []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					return params, provider.NewError(provider.KindBadRequest,
						"invalid tool call input for "+tc.Function.Name, err)
				}
				content = append(content, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(content) > 0 {
				params.Messages = append(params.Messages, anthropicsdk.NewAssistantMessage(content...))
			}

		case models.RoleTool:
			params.Messages = append(params.Messages, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, strings.HasPrefix(msg.Content, "err: "))))

		default:
			var content []anthropicsdk.ContentBlockParamUnion
			if text := msg.PlainText(); text != "" {
				content = append(content, anthropicsdk.NewTextBlock(text))
			}
			for _, p := range msg.Parts {
				if p.Type == models.PartImageBase64 {
					content = append(content, anthropicsdk.NewImageBlockBase64("image/jpeg",
						strings.TrimPrefix(p.Base64, "base64://")))
				}
			}
			if len(content) > 0 {
				params.Messages = append(params.Messages, anthropicsdk.NewUserMessage(content...))
			}
		}
	}
	params.System = system

	for _, fn := range tools {
		encoded, err := json.Marshal(fn.Parameters)
		if err != nil {
			return params, provider.NewError(provider.KindBadRequest, "invalid tool schema for "+fn.Name, err)
		}
		var schema anthropicsdk.ToolInputSchemaParam
		if err := json.Unmarshal(encoded, &schema); err != nil {
			return params, provider.NewError(provider.KindBadRequest, "invalid tool schema for "+fn.Name, err)
		}
		tool := anthropicsdk.ToolUnionParamOfTool(schema, fn.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropicsdk.String(fn.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

// wrapErr tags API failures with recoverable error kinds.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.KindTimeout, "message request timed out", err)
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return provider.NewError(provider.KindAuth, apiErr.Error(), err)
		case apiErr.StatusCode == http.StatusNotFound:
			return provider.NewError(provider.KindNotFound, apiErr.Error(), err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return provider.NewError(provider.KindRateLimit, apiErr.Error(), err)
		case apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Error(), "prompt is too long"):
			return provider.NewError(provider.KindContextTooLong, apiErr.Error(), err)
		case apiErr.StatusCode == http.StatusBadRequest:
			return provider.NewError(provider.KindBadRequest, apiErr.Error(), err)
		}
	}
	return err
}
