package stages

import (
	"context"
	"strings"

	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/plugins"
	"github.com/conduitbot/conduit/pkg/models"
)

// ResponseWrapper converts the newest response entry into an outgoing
// message chain. Responses that produce nothing visible (tool results,
// suppressed replies) interrupt the sub-run silently.
type ResponseWrapper struct {
	base
}

func NewResponseWrapper(deps Deps) *ResponseWrapper {
	return &ResponseWrapper{base{deps: deps}}
}

func (s *ResponseWrapper) Name() string { return "ResponseWrapper" }

func (s *ResponseWrapper) Process(ctx context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	resp := q.LastResponse()
	if resp == nil {
		return silentStop(q), nil
	}

	if resp.Chain != nil {
		q.RespChains = append(q.RespChains, resp.Chain)
		return pipeline.ContinueWith(q), nil
	}

	if resp.Chunk != nil {
		chain := messageToChain(&resp.Chunk.Message)
		if len(chain) == 0 {
			return silentStop(q), nil
		}
		q.RespChains = append(q.RespChains, chain)
		return pipeline.ContinueWith(q), nil
	}

	msg := resp.Message
	switch msg.Role {
	case models.RoleCommand:
		chain := append(models.MessageChain{models.Text{Text: "[bot] "}}, messageToChain(msg)...)
		q.RespChains = append(q.RespChains, chain)
		return pipeline.ContinueWith(q), nil

	case models.RolePlugin:
		q.RespChains = append(q.RespChains, messageToChain(msg))
		return pipeline.ContinueWith(q), nil

	case models.RoleAssistant:
		if len(msg.ToolCalls) > 0 {
			return s.wrapToolCalls(ctx, q, msg)
		}
		chain := messageToChain(msg)
		if len(chain) == 0 {
			return silentStop(q), nil
		}
		return s.fireResponded(ctx, q, chain)

	default:
		// Tool results and anything else stay internal.
		return silentStop(q), nil
	}
}

// wrapToolCalls emits the synthetic progress chain for an assistant
// message that only requests tools.
func (s *ResponseWrapper) wrapToolCalls(ctx context.Context, q *pipeline.Query, msg *models.Message) (pipeline.StageOutput, error) {
	names := make([]string, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		names = append(names, call.Function.Name)
	}
	chain := models.MessageChain{models.Text{Text: "Calling function " + strings.Join(names, ".") + "..."}}
	if s.cfg.Output.Misc.TrackFunctionCalls {
		return s.fireResponded(ctx, q, chain)
	}
	q.RespChains = append(q.RespChains, chain)
	return pipeline.ContinueWith(q), nil
}

// fireResponded runs the NormalMessageResponded hook and appends either
// the converted chain or the plugin's substitute.
func (s *ResponseWrapper) fireResponded(ctx context.Context, q *pipeline.Query, chain models.MessageChain) (pipeline.StageOutput, error) {
	ec, err := s.deps.Plugins.EmitEvent(ctx, &plugins.Event{
		Name:         plugins.NormalMessageResponded,
		LauncherType: q.LauncherType,
		LauncherID:   q.LauncherID,
		SenderID:     q.SenderID,
		ResponseText: chain.PlainText(),
	}, allIfEmpty(q.StringSliceVariable(pipeline.VarBoundPlugins)))
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	if ec.PreventDefault {
		if len(ec.ReplyChain) == 0 {
			return silentStop(q), nil
		}
		chain = ec.ReplyChain
	}
	q.RespChains = append(q.RespChains, chain)
	return pipeline.ContinueWith(q), nil
}

func silentStop(q *pipeline.Query) pipeline.StageOutput {
	return pipeline.Single(&pipeline.StageResult{Type: pipeline.Interrupt, NewQuery: q})
}

// messageToChain converts provider message content into chain elements.
func messageToChain(msg *models.Message) models.MessageChain {
	if msg.Content != "" {
		return models.MessageChain{models.Text{Text: msg.Content}}
	}
	var chain models.MessageChain
	for _, p := range msg.Parts {
		switch p.Type {
		case models.PartText:
			chain = append(chain, models.Text{Text: p.Text})
		case models.PartImageURL:
			chain = append(chain, models.Image{URL: p.URL})
		case models.PartImageBase64:
			chain = append(chain, models.Image{Base64: p.Base64})
		case models.PartFileURL:
			chain = append(chain, models.File{Name: p.Name, URL: p.URL})
		}
	}
	return chain
}
