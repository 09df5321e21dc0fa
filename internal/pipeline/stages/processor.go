package stages

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/conduitbot/conduit/internal/agent"
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/plugins"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/pkg/models"
)

// MessageProcessor is the generator stage: it dispatches a query to the
// command handler or the chat runner and yields one result per produced
// response, so every response message travels the tail of the pipeline on
// its own.
type MessageProcessor struct {
	base
}

func NewMessageProcessor(deps Deps) *MessageProcessor {
	return &MessageProcessor{base{deps: deps}}
}

func (s *MessageProcessor) Name() string { return "MessageProcessor" }

func (s *MessageProcessor) Process(ctx context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	text := q.UserMessage.PlainText()

	if prefix, ok := s.matchPrefix(text); ok {
		out := make(chan *pipeline.StageResult)
		go func() {
			defer close(out)
			s.runCommand(ctx, q, strings.TrimPrefix(text, prefix), out)
		}()
		return pipeline.StageOutput{Stream: out}, nil
	}

	out := make(chan *pipeline.StageResult)
	go func() {
		defer close(out)
		s.runChat(ctx, q, out)
	}()
	return pipeline.StageOutput{Stream: out}, nil
}

func (s *MessageProcessor) matchPrefix(text string) (string, bool) {
	if !s.cfg.Trigger.Prefix.Enabled {
		return "", false
	}
	for _, p := range s.cfg.Trigger.Prefix.Prefixes {
		if p != "" && strings.HasPrefix(text, p) {
			return p, true
		}
	}
	return "", false
}

// runCommand executes a plugin command and yields one command-role message
// per streamed return value.
func (s *MessageProcessor) runCommand(ctx context.Context, q *pipeline.Query, invocation string, out chan<- *pipeline.StageResult) {
	fields := strings.Fields(invocation)
	if len(fields) == 0 {
		s.yield(ctx, out, s.errorNotice(q, "empty command"))
		return
	}
	name, args := fields[0], fields[1:]

	ctx = plugins.WithInvocation(ctx, plugins.CommandInvocation{
		LauncherType: q.LauncherType,
		LauncherID:   q.LauncherID,
		SenderID:     q.SenderID,
	})
	err := s.deps.Plugins.ExecuteCommand(ctx, name, args,
		allIfEmpty(q.StringSliceVariable(pipeline.VarBoundPlugins)),
		func(cr plugins.CommandReturn) {
			msg := commandReturnMessage(cr)
			q.RespMessages = append(q.RespMessages, pipeline.Response{Message: &msg})
			s.yield(ctx, out, &pipeline.StageResult{Type: pipeline.Continue, NewQuery: q})
		})
	if err != nil {
		s.yield(ctx, out, s.errorNotice(q, err.Error()))
	}
}

func commandReturnMessage(cr plugins.CommandReturn) models.Message {
	msg := models.Message{Role: models.RoleCommand}
	switch cr.Type {
	case plugins.CommandReturnText:
		msg.Content = cr.Text
	case plugins.CommandReturnImageURL:
		msg.Parts = []models.ContentPart{{Type: models.PartImageURL, URL: cr.URL}}
	case plugins.CommandReturnImageBase64:
		msg.Parts = []models.ContentPart{{Type: models.PartImageBase64, Base64: cr.Text}}
	case plugins.CommandReturnFileURL:
		msg.Parts = []models.ContentPart{{Type: models.PartFileURL, URL: cr.URL, Name: cr.Name}}
	case plugins.CommandReturnError:
		msg.Content = "err: " + cr.Error.Error()
	}
	return msg
}

// runChat fires the message-received hook, then drives the configured
// runner and yields one result per produced message or chunk. A successful
// turn commits the user message and all non-chunk responses to the
// conversation.
func (s *MessageProcessor) runChat(ctx context.Context, q *pipeline.Query, out chan<- *pipeline.StageResult) {
	eventName := plugins.PersonNormalMessageReceived
	if q.LauncherType == models.LauncherGroup {
		eventName = plugins.GroupNormalMessageReceived
	}
	ec, err := s.deps.Plugins.EmitEvent(ctx, &plugins.Event{
		Name:         eventName,
		LauncherType: q.LauncherType,
		LauncherID:   q.LauncherID,
		SenderID:     q.SenderID,
		Text:         q.UserMessage.PlainText(),
		Chain:        q.Chain,
	}, allIfEmpty(q.StringSliceVariable(pipeline.VarBoundPlugins)))
	if err != nil {
		s.yield(ctx, out, s.errorResult(q, err))
		return
	}
	if ec.PreventDefault {
		if len(ec.ReplyChain) > 0 {
			q.RespMessages = append(q.RespMessages, pipeline.Response{Chain: ec.ReplyChain})
			s.yield(ctx, out, &pipeline.StageResult{Type: pipeline.Continue, NewQuery: q})
		}
		return
	}
	if ec.Alter != nil {
		q.UserMessage.Content = *ec.Alter
		q.UserMessage.Parts = nil
		q.SetVariable(pipeline.VarUserMessageText, *ec.Alter)
	}

	runnerName := s.cfg.AI.Runner.Runner
	runner, err := s.deps.Runners.Get(runnerName)
	if err != nil {
		s.yield(ctx, out, s.errorResult(q, err))
		return
	}

	req := &agent.Request{
		Prompt:            promptMessages(q.Prompt),
		History:           q.Messages,
		UserMessage:       *q.UserMessage,
		Tools:             q.UseFuncs,
		Streaming:         q.Adapter != nil && q.Adapter.IsStreamOutputSupported(),
		RemoveThink:       s.cfg.Trigger.Misc.RemoveThink,
		MaxRounds:         s.cfg.AI.LocalAgent.MaxRounds,
		KnowledgeBaseUUID: s.cfg.KnowledgeBaseUUID,
		QueryText:         q.Chain.PlainText(),
		App:               s.appConfig(runnerName),
	}
	if q.Conversation != nil {
		req.ConversationUUID = q.Conversation.UUID
	}
	if runnerName == "local-agent" {
		if q.UseModelUUID == "" {
			s.yield(ctx, out, s.errorResult(q, provider.ErrModelNotFound))
			return
		}
		model, err := s.deps.Providers.GetModel(q.UseModelUUID)
		if err != nil {
			s.yield(ctx, out, s.errorResult(q, err))
			return
		}
		req.Model = model
	}
	q.RespMessageID = uuid.NewString()

	stream, err := runner.Run(ctx, req)
	if err != nil {
		s.yield(ctx, out, s.errorResult(q, err))
		return
	}

	var turn []models.Message
	for item := range stream {
		switch {
		case item.Err != nil:
			s.yield(ctx, out, s.errorResult(q, item.Err))
			return
		case item.Chunk != nil:
			q.RespMessages = append(q.RespMessages, pipeline.Response{Chunk: item.Chunk})
		case item.Message != nil:
			q.RespMessages = append(q.RespMessages, pipeline.Response{Message: item.Message})
			turn = append(turn, *item.Message)
		default:
			continue
		}
		if !s.yield(ctx, out, &pipeline.StageResult{Type: pipeline.Continue, NewQuery: q}) {
			return
		}
	}

	if q.Conversation != nil {
		committed := append([]models.Message{*q.UserMessage}, turn...)
		if err := s.deps.Sessions.CommitTurn(ctx, q.Conversation, committed); err != nil {
			s.deps.Log.Error(ctx, "failed to persist conversation turn",
				"conversation", q.Conversation.UUID, "error", err)
		}
	}
}

func (s *MessageProcessor) appConfig(runnerName string) config.AppAPIConfig {
	switch runnerName {
	case "dify-service-api":
		return s.cfg.AI.Dify
	case "dashscope-app-api":
		return s.cfg.AI.Dashscope
	case "n8n-service-api":
		return s.cfg.AI.N8N
	case "langflow-api":
		return s.cfg.AI.Langflow
	default:
		return config.AppAPIConfig{}
	}
}

// yield hands one result to the engine and blocks until the tail sub-run
// for it completed, so the query is never mutated while later stages read
// it.
func (s *MessageProcessor) yield(ctx context.Context, out chan<- *pipeline.StageResult, result *pipeline.StageResult) bool {
	result.Done = make(chan struct{})
	select {
	case out <- result:
	case <-ctx.Done():
		return false
	}
	select {
	case <-result.Done:
		return true
	case <-ctx.Done():
		return false
	}
}

// errorResult converts a runner or hook failure into an interrupt whose
// user notice honours the hide-exception setting.
func (s *MessageProcessor) errorResult(q *pipeline.Query, err error) *pipeline.StageResult {
	notice := "Request failed"
	if !s.cfg.Output.Misc.HideException {
		notice = err.Error()
	}
	return &pipeline.StageResult{
		Type:        pipeline.Interrupt,
		NewQuery:    q,
		UserNotice:  notice,
		ErrorNotice: err,
	}
}

func (s *MessageProcessor) errorNotice(q *pipeline.Query, notice string) *pipeline.StageResult {
	return &pipeline.StageResult{
		Type:       pipeline.Interrupt,
		NewQuery:   q,
		UserNotice: notice,
	}
}

func promptMessages(prompt []config.PromptMessage) []models.Message {
	out := make([]models.Message, 0, len(prompt))
	for _, p := range prompt {
		role := models.Role(p.Role)
		if role == "" {
			role = models.RoleSystem
		}
		out = append(out, models.Message{Role: role, Content: p.Content})
	}
	return out
}
