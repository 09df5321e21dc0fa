package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/pkg/models"
)

// Engine drives a query through a pipeline's stages. It owns no data; it
// borrows the query and serializes all fan-out sub-runs.
type Engine struct {
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewEngine creates an Engine. metrics may be nil.
func NewEngine(log *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{log: log, metrics: metrics}
}

// Run executes the pipeline from its first stage.
func (e *Engine) Run(ctx context.Context, rp *RuntimePipeline, q *Query) {
	ctx = context.WithValue(ctx, observability.PipelineKey, rp.Config.UUID)
	e.runFrom(ctx, rp, q, 0)
	if e.metrics != nil {
		e.metrics.QueriesCompleted.Inc()
	}
}

// runFrom executes stages [start..] on q. Generator stages drive the tail
// of the pipeline once per Continue yield; the next yield is not pulled
// until the sub-run finishes, which keeps chunks ordered per query.
func (e *Engine) runFrom(ctx context.Context, rp *RuntimePipeline, q *Query, start int) {
	for i := start; i < len(rp.Stages); i++ {
		if ctx.Err() != nil {
			return
		}
		stage := rp.Stages[i]
		q.currentStage = stage.Name()

		output, err := e.processGuarded(ctx, stage, q)
		if err != nil {
			e.dispatchResult(ctx, rp, e.wrapError(rp, q, stage.Name(), err))
			return
		}

		if output.Stream != nil {
			e.drainGenerator(ctx, rp, q, i, output.Stream)
			return
		}

		result := output.Result
		if result == nil {
			result = &StageResult{Type: Continue, NewQuery: q}
		}
		if result.Type == Interrupt {
			e.dispatchResult(ctx, rp, result)
			return
		}
		e.logNotices(ctx, result)
		if result.NewQuery != nil {
			q = result.NewQuery
		}
	}
}

// drainGenerator serializes a generator stage's yields: each Continue yield
// runs the remaining stages to completion before the next value is pulled.
func (e *Engine) drainGenerator(ctx context.Context, rp *RuntimePipeline, q *Query, idx int, stream <-chan *StageResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-stream:
			if !ok {
				return
			}
			if result == nil {
				continue
			}
			next := result.NewQuery
			if next == nil {
				next = q
			}
			if result.Type == Continue {
				e.logNotices(ctx, result)
				e.runFrom(ctx, rp, next, idx+1)
			} else {
				e.dispatchResult(ctx, rp, result)
			}
			if result.Done != nil {
				close(result.Done)
			}
		}
	}
}

// processGuarded invokes a stage, converting panics into errors and timing
// the call.
func (e *Engine) processGuarded(ctx context.Context, stage Stage, q *Query) (output StageOutput, err error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.StageDuration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())
		}
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v\n%s", stage.Name(), r, debug.Stack())
		}
	}()
	return stage.Process(ctx, q)
}

// wrapError converts a stage failure into an interrupt with notices. The
// user notice echoes the error only when the pipeline does not hide
// exceptions.
func (e *Engine) wrapError(rp *RuntimePipeline, q *Query, stageName string, err error) *StageResult {
	if e.metrics != nil {
		e.metrics.StageErrors.WithLabelValues(stageName).Inc()
		e.metrics.QueriesFailed.Inc()
	}
	userNotice := "Request failed"
	if !rp.Config.Output.Misc.HideException {
		userNotice = err.Error()
	}
	return &StageResult{
		Type:        Interrupt,
		NewQuery:    q,
		UserNotice:  userNotice,
		ErrorNotice: err,
		DebugNotice: fmt.Sprintf("stage %s failed: %v", stageName, err),
	}
}

// dispatchResult handles an interrupt: notices are logged and the user
// notice, if any, goes straight back to the originating chat without
// passing the remaining stages.
func (e *Engine) dispatchResult(ctx context.Context, rp *RuntimePipeline, result *StageResult) {
	e.logNotices(ctx, result)
	q := result.NewQuery
	if result.UserNotice == "" || q == nil || q.Adapter == nil || q.Event == nil {
		return
	}
	// Cancellation produces no user-visible reply.
	if ctx.Err() != nil {
		return
	}
	chain := models.MessageChain{models.Text{Text: result.UserNotice}}
	if err := q.Adapter.ReplyMessage(ctx, q.Event, chain, false); err != nil {
		e.log.Error(ctx, "failed to deliver notice", "error", err)
	}
}

func (e *Engine) logNotices(ctx context.Context, result *StageResult) {
	if result.ConsoleNotice != "" {
		e.log.Info(ctx, result.ConsoleNotice)
	}
	if result.DebugNotice != "" {
		e.log.Debug(ctx, result.DebugNotice)
	}
	if result.ErrorNotice != nil {
		e.log.Error(ctx, "pipeline stage error", "error", result.ErrorNotice)
	}
}
