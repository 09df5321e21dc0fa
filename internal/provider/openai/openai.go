// Package openai implements the OpenAI ChatCompletion requester, including
// streaming and tool calling, against any OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/pkg/models"
)

const (
	maxRetries = 3
	retryDelay = time.Second
)

// Requester speaks the ChatCompletion dialect. Clients are cached per
// model because key and endpoint vary per model entry.
type Requester struct {
	log *observability.Logger

	mu      sync.Mutex
	clients map[string]*goopenai.Client
}

func NewRequester(log *observability.Logger) *Requester {
	return &Requester{log: log, clients: make(map[string]*goopenai.Client)}
}

func (r *Requester) Name() string { return "openai" }

func (r *Requester) Initialize(context.Context) error { return nil }

func (r *Requester) client(model *provider.RuntimeModel) *goopenai.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[model.UUID]; ok {
		return c
	}
	cfg := goopenai.DefaultConfig(model.APIKey)
	if model.BaseURL != "" {
		cfg.BaseURL = model.BaseURL
	}
	c := goopenai.NewClientWithConfig(cfg)
	r.clients[model.UUID] = c
	return c
}

func (r *Requester) InvokeLLM(ctx context.Context, model *provider.RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (*models.Message, error) {
	ctx, cancel := r.withTimeout(ctx, model)
	defer cancel()

	req := r.buildRequest(model, messages, tools, extra)
	client := r.client(model)

	var resp goopenai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, wrapErr(ctx.Err())
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		resp, err = client.CreateChatCompletion(ctx, req)
		if err == nil || !isRetryable(err) {
			break
		}
		r.log.Warn(ctx, "chat completion retrying", "model", model.Name, "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewError(provider.KindBadRequest, "completion returned no choices", nil)
	}
	msg := fromChatMessage(resp.Choices[0].Message)
	return &msg, nil
}

// InvokeLLMStream emits cumulative chunks. MsgSequence starts at 1; the
// terminal chunk repeats the accumulated message with IsFinal set.
func (r *Requester) InvokeLLMStream(ctx context.Context, model *provider.RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) (<-chan *models.MessageChunk, error) {
	streamCtx, cancel := r.withTimeout(ctx, model)

	req := r.buildRequest(model, messages, tools, extra)
	req.Stream = true
	stream, err := r.client(model).CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, wrapErr(err)
	}

	out := make(chan *models.MessageChunk)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		acc := models.Message{Role: models.RoleAssistant}
		toolArgs := map[int]*models.ToolCall{}
		seq := 0

		emit := func(isFinal bool) bool {
			seq++
			msg := acc
			msg.ToolCalls = orderedToolCalls(toolArgs)
			chunk := &models.MessageChunk{Message: msg, MsgSequence: seq, IsFinal: isFinal}
			select {
			case out <- chunk:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(true)
				return
			}
			if err != nil {
				r.log.Error(streamCtx, "chat completion stream failed", "model", model.Name, "error", err)
				emit(true)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			acc.Content += delta.Content
			acc.Reasoning += delta.ReasoningContent
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				call, ok := toolArgs[index]
				if !ok {
					call = &models.ToolCall{Type: "function"}
					toolArgs[index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Function.Name = tc.Function.Name
				}
				call.Function.Arguments += tc.Function.Arguments
			}
			if !emit(false) {
				return
			}
		}
	}()
	return out, nil
}

func (r *Requester) withTimeout(ctx context.Context, model *provider.RuntimeModel) (context.Context, context.CancelFunc) {
	timeout := model.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Requester) buildRequest(model *provider.RuntimeModel, messages []models.Message, tools []models.LLMFunction, extra map[string]any) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    model.Name,
		Messages: toChatMessages(messages),
	}
	for _, fn := range tools {
		req.Tools = append(req.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	if v, ok := extra["temperature"].(float64); ok {
		req.Temperature = float32(v)
	}
	if v, ok := extra["max_tokens"].(int); ok {
		req.MaxTokens = v
	}
	return req
}

func toChatMessages(messages []models.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		cm := goopenai.ChatCompletionMessage{Role: chatRole(msg.Role)}
		switch {
		case len(msg.Parts) > 0:
			cm.MultiContent = toChatParts(msg.Parts)
		default:
			cm.Content = msg.Content
		}
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		cm.ToolCallID = msg.ToolCallID
		out = append(out, cm)
	}
	return out
}

func toChatParts(parts []models.ContentPart) []goopenai.ChatMessagePart {
	out := make([]goopenai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case models.PartText:
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case models.PartImageURL:
			out = append(out, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: p.URL, Detail: goopenai.ImageURLDetailAuto},
			})
		case models.PartImageBase64:
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    "data:image/jpeg;base64," + strings.TrimPrefix(p.Base64, "base64://"),
					Detail: goopenai.ImageURLDetailAuto,
				},
			})
		case models.PartFileURL:
			// File URLs have no part type in this dialect; degrade to text.
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: "Attached file " + p.Name + ": " + p.URL,
			})
		}
	}
	return out
}

func chatRole(role models.Role) string {
	switch role {
	case models.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case models.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	case models.RoleTool:
		return goopenai.ChatMessageRoleTool
	default:
		return goopenai.ChatMessageRoleUser
	}
}

func fromChatMessage(cm goopenai.ChatCompletionMessage) models.Message {
	msg := models.Message{
		Role:      models.RoleAssistant,
		Content:   cm.Content,
		Reasoning: cm.ReasoningContent,
	}
	for _, tc := range cm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}

func orderedToolCalls(calls map[int]*models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	max := -1
	for i := range calls {
		if i > max {
			max = i
		}
	}
	out := make([]models.ToolCall, 0, len(calls))
	for i := 0; i <= max; i++ {
		if c, ok := calls[i]; ok {
			out = append(out, *c)
		}
	}
	return out
}

func isRetryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}

// wrapErr tags API failures with recoverable error kinds.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.KindTimeout, "completion timed out", err)
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return provider.NewError(provider.KindAuth, apiErr.Message, err)
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			return provider.NewError(provider.KindNotFound, apiErr.Message, err)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return provider.NewError(provider.KindRateLimit, apiErr.Message, err)
		case apiErr.HTTPStatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, "context length"):
			return provider.NewError(provider.KindContextTooLong, apiErr.Message, err)
		case apiErr.HTTPStatusCode == http.StatusBadRequest:
			return provider.NewError(provider.KindBadRequest, apiErr.Message, err)
		}
	}
	return err
}
