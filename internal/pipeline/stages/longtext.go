package stages

import (
	"context"

	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/pkg/models"
)

// LongTextProcess repackages oversized plain-text replies. Chains with
// non-text parts are left alone.
type LongTextProcess struct {
	base
}

func NewLongTextProcess(deps Deps) *LongTextProcess {
	return &LongTextProcess{base{deps: deps}}
}

func (s *LongTextProcess) Name() string { return "LongTextProcess" }

func (s *LongTextProcess) Process(ctx context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	chain := q.LastChain()
	if chain == nil || !chain.IsPlain() {
		return pipeline.ContinueWith(q), nil
	}
	threshold := s.cfg.Output.LongText.Threshold
	text := chain.PlainText()
	if threshold <= 0 || len([]rune(text)) <= threshold {
		return pipeline.ContinueWith(q), nil
	}

	strategy := s.cfg.Output.LongText.Strategy
	if strategy == "image" && s.cfg.Output.LongText.FontPath == "" {
		s.deps.Log.Debug(ctx, "long-text image strategy has no font configured, forwarding instead")
		strategy = "forward"
	}
	switch strategy {
	case "image":
		// Rendering text to an image needs a font rasterizer the core does
		// not ship; degrade to the forward representation.
		s.deps.Log.Debug(ctx, "long-text image rendering unavailable, forwarding instead")
		fallthrough
	default:
		wrapped := models.MessageChain{models.Forward{Nodes: []models.ForwardNode{{
			SenderName: "bot",
			Chain:      models.MessageChain{models.Text{Text: text}},
		}}}}
		q.RespChains[len(q.RespChains)-1] = wrapped
	}
	return pipeline.ContinueWith(q), nil
}
