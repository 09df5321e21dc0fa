package stages

import (
	"context"
	"math/rand"
	"time"

	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/pkg/models"
)

// SendResponseBack delivers the newest wrapped chain through the adapter,
// applying the forced delay, sender mention and quote settings. Stream
// chunks are throttled to every eighth sequence plus the final one.
type SendResponseBack struct {
	base
}

func NewSendResponseBack(deps Deps) *SendResponseBack {
	return &SendResponseBack{base{deps: deps}}
}

func (s *SendResponseBack) Name() string { return "SendResponseBack" }

func (s *SendResponseBack) Process(ctx context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	chain := q.LastChain()
	if chain == nil || q.Adapter == nil || q.Event == nil {
		return pipeline.ContinueWith(q), nil
	}

	resp := q.LastResponse()
	isChunk := resp != nil && resp.Chunk != nil
	if isChunk && resp.Chunk.MsgSequence%8 != 0 && !resp.Chunk.IsFinal {
		return pipeline.ContinueWith(q), nil
	}

	if err := s.delay(ctx); err != nil {
		return pipeline.StageOutput{}, err
	}

	if q.LauncherType == models.LauncherGroup && s.cfg.Output.Misc.AtSender {
		chain = append(models.MessageChain{models.At{Target: q.SenderID}}, chain...)
	}
	quote := s.cfg.Output.Misc.QuoteOrigin

	var err error
	if isChunk && q.Adapter.IsStreamOutputSupported() {
		err = q.Adapter.ReplyMessageChunk(ctx, q.Event, q.RespMessageID, chain, quote, resp.Chunk.IsFinal)
	} else {
		err = q.Adapter.ReplyMessage(ctx, q.Event, chain, quote)
	}
	if err != nil {
		// Send failures do not abort the pipeline; the turn was produced.
		s.deps.Log.Error(ctx, "failed to deliver response",
			"adapter", q.Adapter.Name(), "error", err)
		return pipeline.ContinueWith(q), nil
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.MessagesSent.WithLabelValues(q.Adapter.Name()).Inc()
	}
	return pipeline.ContinueWith(q), nil
}

// delay sleeps a uniform random duration inside the configured bounds,
// aborting early on cancellation.
func (s *SendResponseBack) delay(ctx context.Context) error {
	min, max := s.cfg.Output.ForceDelay.Min, s.cfg.Output.ForceDelay.Max
	if max <= 0 || max < min {
		return nil
	}
	seconds := min + rand.Float64()*(max-min)
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
