package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/pkg/models"
)

// funcStage adapts a closure into a Stage for engine tests.
type funcStage struct {
	name    string
	process func(ctx context.Context, q *Query) (StageOutput, error)
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Initialize(context.Context, *config.PipelineConfig) error { return nil }

func (s *funcStage) Process(ctx context.Context, q *Query) (StageOutput, error) {
	return s.process(ctx, q)
}

// noticeAdapter records chains delivered through ReplyMessage.
type noticeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *noticeAdapter) Name() string                          { return "fake" }
func (a *noticeAdapter) Run(ctx context.Context) error         { <-ctx.Done(); return ctx.Err() }
func (a *noticeAdapter) Kill(context.Context) bool             { return true }
func (a *noticeAdapter) RegisterListener(models.EventKind, platform.EventListener) {}
func (a *noticeAdapter) UnregisterListeners(models.EventKind)  {}
func (a *noticeAdapter) IsStreamOutputSupported() bool         { return false }
func (a *noticeAdapter) IsMuted(context.Context, string) bool  { return false }

func (a *noticeAdapter) SendMessage(context.Context, platform.TargetType, string, models.MessageChain) error {
	return nil
}

func (a *noticeAdapter) ReplyMessage(_ context.Context, _ *models.MessageEvent, chain models.MessageChain, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, chain.PlainText())
	return nil
}

func (a *noticeAdapter) ReplyMessageChunk(context.Context, *models.MessageEvent, string, models.MessageChain, bool, bool) error {
	return nil
}

func (a *noticeAdapter) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.replies...)
}

func testQuery(adapter platform.Adapter) *Query {
	return &Query{
		LauncherType: models.LauncherPerson,
		LauncherID:   "1",
		SenderID:     "1",
		Event:        &models.MessageEvent{Kind: models.EventFriendMessage},
		Adapter:      adapter,
	}
}

func testRuntime(t *testing.T, hideException bool, stages ...Stage) *RuntimePipeline {
	t.Helper()
	cfg := &config.PipelineConfig{UUID: "p1"}
	cfg.Output.Misc.HideException = hideException
	rp, err := NewRuntimePipeline(context.Background(), cfg, stages)
	if err != nil {
		t.Fatalf("NewRuntimePipeline: %v", err)
	}
	return rp
}

func TestGeneratorDrivesTailPerYield(t *testing.T) {
	var order []string
	gen := &funcStage{name: "gen", process: func(ctx context.Context, q *Query) (StageOutput, error) {
		out := make(chan *StageResult)
		go func() {
			defer close(out)
			for i := 0; i < 3; i++ {
				order = append(order, fmt.Sprintf("yield-%d", i))
				result := &StageResult{Type: Continue, NewQuery: q, Done: make(chan struct{})}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
				// Wait for the tail sub-run before producing more.
				select {
				case <-result.Done:
				case <-ctx.Done():
					return
				}
			}
		}()
		return StageOutput{Stream: out}, nil
	}}
	tail := &funcStage{name: "tail", process: func(_ context.Context, q *Query) (StageOutput, error) {
		order = append(order, "tail")
		return ContinueWith(q), nil
	}}

	rp := testRuntime(t, false, gen, tail)
	NewEngine(observability.NewTestLogger(), nil).Run(context.Background(), rp, testQuery(&noticeAdapter{}))

	want := []string{"yield-0", "tail", "yield-1", "tail", "yield-2", "tail"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestGeneratorInterruptYieldSkipsTailOnly(t *testing.T) {
	tailRuns := 0
	gen := &funcStage{name: "gen", process: func(_ context.Context, q *Query) (StageOutput, error) {
		out := make(chan *StageResult)
		go func() {
			defer close(out)
			for _, typ := range []ResultType{Continue, Interrupt, Continue} {
				result := &StageResult{Type: typ, NewQuery: q, Done: make(chan struct{})}
				out <- result
				<-result.Done
			}
		}()
		return StageOutput{Stream: out}, nil
	}}
	tail := &funcStage{name: "tail", process: func(_ context.Context, q *Query) (StageOutput, error) {
		tailRuns++
		return ContinueWith(q), nil
	}}

	rp := testRuntime(t, false, gen, tail)
	NewEngine(observability.NewTestLogger(), nil).Run(context.Background(), rp, testQuery(&noticeAdapter{}))

	if tailRuns != 2 {
		t.Fatalf("tail ran %d times, want 2", tailRuns)
	}
}

func TestInterruptStopsRemainingStages(t *testing.T) {
	adapter := &noticeAdapter{}
	ran := false
	first := &funcStage{name: "first", process: func(_ context.Context, q *Query) (StageOutput, error) {
		return Single(&StageResult{Type: Interrupt, NewQuery: q, UserNotice: "blocked"}), nil
	}}
	second := &funcStage{name: "second", process: func(_ context.Context, q *Query) (StageOutput, error) {
		ran = true
		return ContinueWith(q), nil
	}}

	rp := testRuntime(t, false, first, second)
	NewEngine(observability.NewTestLogger(), nil).Run(context.Background(), rp, testQuery(adapter))

	if ran {
		t.Fatal("stage after interrupt must not run")
	}
	replies := adapter.recorded()
	if len(replies) != 1 || replies[0] != "blocked" {
		t.Fatalf("replies = %v, want [blocked]", replies)
	}
}

func TestStageErrorNoticeFollowsHideException(t *testing.T) {
	boom := errors.New("backend exploded")
	failing := func() Stage {
		return &funcStage{name: "failing", process: func(context.Context, *Query) (StageOutput, error) {
			return StageOutput{}, boom
		}}
	}

	adapter := &noticeAdapter{}
	rp := testRuntime(t, true, failing())
	NewEngine(observability.NewTestLogger(), nil).Run(context.Background(), rp, testQuery(adapter))
	if replies := adapter.recorded(); len(replies) != 1 || replies[0] != "Request failed" {
		t.Fatalf("hidden replies = %v, want [Request failed]", replies)
	}

	adapter = &noticeAdapter{}
	rp = testRuntime(t, false, failing())
	NewEngine(observability.NewTestLogger(), nil).Run(context.Background(), rp, testQuery(adapter))
	if replies := adapter.recorded(); len(replies) != 1 || replies[0] != "backend exploded" {
		t.Fatalf("exposed replies = %v, want [backend exploded]", replies)
	}
}

func TestStagePanicBecomesInterrupt(t *testing.T) {
	adapter := &noticeAdapter{}
	ran := false
	panicking := &funcStage{name: "panicking", process: func(context.Context, *Query) (StageOutput, error) {
		panic("nil map write")
	}}
	after := &funcStage{name: "after", process: func(_ context.Context, q *Query) (StageOutput, error) {
		ran = true
		return ContinueWith(q), nil
	}}

	rp := testRuntime(t, true, panicking, after)
	NewEngine(observability.NewTestLogger(), nil).Run(context.Background(), rp, testQuery(adapter))

	if ran {
		t.Fatal("stage after panic must not run")
	}
	if replies := adapter.recorded(); len(replies) != 1 || replies[0] != "Request failed" {
		t.Fatalf("replies = %v, want [Request failed]", replies)
	}
}
