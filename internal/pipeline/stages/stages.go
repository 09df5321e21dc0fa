// Package stages implements the fixed stage chain a query passes through:
// access control, rate limiting, preprocessing, history truncation, the
// processor that invokes the runner, response wrapping, long-text handling
// and delivery.
package stages

import (
	"context"

	"github.com/conduitbot/conduit/internal/agent"
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/plugins"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/internal/sessions"
	"github.com/conduitbot/conduit/internal/tools"
)

// Deps are the shared services stages draw on. All fields except Metrics
// must be set.
type Deps struct {
	Log       *observability.Logger
	Metrics   *observability.Metrics
	Sessions  *sessions.Manager
	Providers *provider.Manager
	Tools     *tools.Manager
	Plugins   plugins.Host
	Runners   *agent.Registry
}

// Default returns fresh stage instances in execution order. Each pipeline
// gets its own instances; per-pipeline state (rate-limit windows) stays
// isolated.
func Default(deps Deps) []pipeline.Stage {
	return []pipeline.Stage{
		NewBanSessionCheck(deps),
		NewRateLimitCheck(deps),
		NewPreProcessor(deps),
		NewConversationMessageTruncator(deps),
		NewMessageProcessor(deps),
		NewResponseWrapper(deps),
		NewLongTextProcess(deps),
		NewSendResponseBack(deps),
	}
}

// base carries the pieces every stage shares.
type base struct {
	deps Deps
	cfg  *config.PipelineConfig
}

func (b *base) Initialize(_ context.Context, cfg *config.PipelineConfig) error {
	b.cfg = cfg
	return nil
}

// interrupt is shorthand for an interrupt result without a user notice.
func interrupt(q *pipeline.Query, console string) pipeline.StageOutput {
	return pipeline.Single(&pipeline.StageResult{
		Type:          pipeline.Interrupt,
		NewQuery:      q,
		ConsoleNotice: console,
	})
}
