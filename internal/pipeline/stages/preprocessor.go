package stages

import (
	"context"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/plugins"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/pkg/models"
)

// PreProcessor resolves the session and conversation, snapshots history
// into the query, selects the model and tool set, and converts the inbound
// chain into the user provider-message.
type PreProcessor struct {
	base
}

func NewPreProcessor(deps Deps) *PreProcessor {
	return &PreProcessor{base{deps: deps}}
}

func (s *PreProcessor) Name() string { return "PreProcessor" }

func (s *PreProcessor) Process(ctx context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	q.Session = s.deps.Sessions.GetSession(q.LauncherType, q.LauncherID)

	var model *provider.RuntimeModel
	if s.cfg.AI.Runner.Runner == "local-agent" {
		m, err := s.deps.Providers.GetModel(s.cfg.AI.LocalAgent.Model)
		if err != nil {
			s.deps.Log.Warn(ctx, "configured model not found, leaving query unbound",
				"model", s.cfg.AI.LocalAgent.Model, "pipeline", s.cfg.UUID)
		} else {
			model = m
			q.UseModelUUID = m.UUID
		}
	}

	if q.StringSliceVariable(pipeline.VarBoundPlugins) == nil {
		q.SetVariable(pipeline.VarBoundPlugins, s.cfg.BoundPlugins)
	}
	if q.StringSliceVariable(pipeline.VarBoundMCPServers) == nil {
		q.SetVariable(pipeline.VarBoundMCPServers, s.cfg.BoundMCPServers)
	}

	if model != nil && model.HasAbility(provider.AbilityFuncCall) {
		funcs, err := s.deps.Tools.GetAllTools(ctx,
			allIfEmpty(q.StringSliceVariable(pipeline.VarBoundPlugins)),
			allIfEmpty(q.StringSliceVariable(pipeline.VarBoundMCPServers)))
		if err != nil {
			return pipeline.StageOutput{}, err
		}
		q.UseFuncs = funcs
	}

	conv := s.deps.Sessions.GetConversation(q.Session, s.cfg.AI.LocalAgent.Prompt, s.cfg.UUID, q.BotUUID, q.UseFuncs)
	q.Conversation = conv
	q.Prompt = append([]config.PromptMessage(nil), conv.Prompt...)
	q.Messages = conv.Messages()

	q.SetVariable(pipeline.VarSessionID, q.Session.Key())
	q.SetVariable(pipeline.VarConversationID, conv.UUID)
	q.SetVariable(pipeline.VarMsgCreateTime, q.Event.Time)

	vision := model != nil && model.HasAbility(provider.AbilityVision)
	userMsg := chainToUserMessage(q.Chain, s.cfg.Trigger.Misc.CombineQuoteMessage, vision)
	q.UserMessage = &userMsg
	q.SetVariable(pipeline.VarUserMessageText, userMsg.PlainText())

	ec, err := s.deps.Plugins.EmitEvent(ctx, &plugins.Event{
		Name:          plugins.PromptPreProcessing,
		LauncherType:  q.LauncherType,
		LauncherID:    q.LauncherID,
		SenderID:      q.SenderID,
		DefaultPrompt: s.cfg.AI.LocalAgent.Prompt,
		Prompt:        q.Prompt,
		History:       q.Messages,
	}, allIfEmpty(s.cfg.BoundPlugins))
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	q.Prompt = ec.Event.Prompt
	q.Messages = ec.Event.History

	return pipeline.ContinueWith(q), nil
}

// allIfEmpty maps the config convention (empty list means all) onto the
// loader convention (nil means all).
func allIfEmpty(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	return list
}

// chainToUserMessage converts an inbound chain into the user message. Text
// becomes text parts, images become base64 parts unless the model lacks
// vision, files become file_url parts. Quote origins are inlined first when
// combine-quote is on. A text-only result collapses to plain content.
func chainToUserMessage(chain models.MessageChain, combineQuote, vision bool) models.Message {
	expanded := make(models.MessageChain, 0, len(chain))
	for _, el := range chain {
		if quote, ok := el.(models.Quote); ok && combineQuote {
			expanded = append(expanded, quote.Origin...)
			continue
		}
		expanded = append(expanded, el)
	}

	var parts []models.ContentPart
	for _, el := range expanded {
		switch v := el.(type) {
		case models.Text:
			parts = append(parts, models.ContentPart{Type: models.PartText, Text: v.Text})
		case models.Image:
			if !vision {
				continue
			}
			if v.Base64 != "" {
				parts = append(parts, models.ContentPart{Type: models.PartImageBase64, Base64: v.Base64})
			} else if v.URL != "" {
				parts = append(parts, models.ContentPart{Type: models.PartImageURL, URL: v.URL})
			}
		case models.File:
			if v.URL != "" {
				parts = append(parts, models.ContentPart{Type: models.PartFileURL, URL: v.URL, Name: v.Name})
			}
		}
	}

	textOnly := true
	for _, p := range parts {
		if p.Type != models.PartText {
			textOnly = false
			break
		}
	}
	if textOnly {
		return models.UserTextMessage(expanded.PlainText())
	}
	return models.Message{Role: models.RoleUser, Parts: parts}
}
