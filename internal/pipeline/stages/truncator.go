package stages

import (
	"context"

	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/pkg/models"
)

// ConversationMessageTruncator bounds the history snapshot carried by the
// query. The persistent conversation is untouched; only the copy the
// runner sees shrinks. A truncation never starts the history on an orphan
// tool message.
type ConversationMessageTruncator struct {
	base
}

func NewConversationMessageTruncator(deps Deps) *ConversationMessageTruncator {
	return &ConversationMessageTruncator{base{deps: deps}}
}

func (s *ConversationMessageTruncator) Name() string { return "ConversationMessageTruncator" }

func (s *ConversationMessageTruncator) Process(_ context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	max := s.cfg.AI.MaxHistoryMessages
	if max <= 0 || len(q.Messages) <= max {
		return pipeline.ContinueWith(q), nil
	}
	msgs := q.Messages[len(q.Messages)-max:]
	for len(msgs) > 0 && msgs[0].Role == models.RoleTool {
		msgs = msgs[1:]
	}
	q.Messages = msgs
	return pipeline.ContinueWith(q), nil
}
