package pipeline

import (
	"context"
	"fmt"

	"github.com/conduitbot/conduit/internal/config"
)

// ResultType is the stage's verdict on how the pipeline proceeds.
type ResultType int

const (
	// Continue advances the query to the next stage.
	Continue ResultType = iota
	// Interrupt stops the pipeline for this query.
	Interrupt
)

// StageResult is the outcome of one stage invocation (or one yield of a
// generator stage). Only UserNotice ever reaches the chat; the other
// notices go to the logger.
type StageResult struct {
	Type     ResultType
	NewQuery *Query

	UserNotice    string
	ConsoleNotice string
	DebugNotice   string
	ErrorNotice   error

	// Done, when non-nil on a generator yield, is closed by the engine
	// once the tail sub-run for that yield finished. Producers wait on it
	// before mutating the query again.
	Done chan struct{}
}

// StageOutput is what a stage returns: exactly one of Result (plain stage)
// or Stream (generator stage). A generator's stream must be closed by the
// producer when exhausted.
type StageOutput struct {
	Result *StageResult
	Stream <-chan *StageResult
}

// Single wraps a plain result.
func Single(r *StageResult) StageOutput {
	return StageOutput{Result: r}
}

// ContinueWith is shorthand for a continue result.
func ContinueWith(q *Query) StageOutput {
	return Single(&StageResult{Type: Continue, NewQuery: q})
}

// Stage is a named unit of the pipeline.
type Stage interface {
	// Name returns the stage's registry name.
	Name() string

	// Initialize is called once when the pipeline loads.
	Initialize(ctx context.Context, cfg *config.PipelineConfig) error

	// Process handles one query. Generator stages return a Stream whose
	// Continue yields each drive the remaining stages once.
	Process(ctx context.Context, q *Query) (StageOutput, error)
}

// StageOrder is the fixed default stage order.
var StageOrder = []string{
	"BanSessionCheck",
	"RateLimitCheck",
	"PreProcessor",
	"ConversationMessageTruncator",
	"MessageProcessor",
	"ResponseWrapper",
	"LongTextProcess",
	"SendResponseBack",
}

// RuntimePipeline is a loaded pipeline: its config and initialized stages
// in execution order.
type RuntimePipeline struct {
	Config *config.PipelineConfig
	Stages []Stage
}

// NewRuntimePipeline initializes stages against cfg in the given order.
func NewRuntimePipeline(ctx context.Context, cfg *config.PipelineConfig, stages []Stage) (*RuntimePipeline, error) {
	for _, s := range stages {
		if err := s.Initialize(ctx, cfg); err != nil {
			return nil, fmt.Errorf("initialize stage %s: %w", s.Name(), err)
		}
	}
	return &RuntimePipeline{Config: cfg, Stages: stages}, nil
}
