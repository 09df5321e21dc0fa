package stages

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conduitbot/conduit/internal/agent"
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/internal/plugins"
	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/internal/sessions"
	"github.com/conduitbot/conduit/internal/tools"
	"github.com/conduitbot/conduit/pkg/models"
)

// fakeAdapter records everything the pipeline delivers.
type fakeAdapter struct {
	streaming bool

	mu      sync.Mutex
	replies []models.MessageChain
	chunks  []chunkCall
}

type chunkCall struct {
	respMessageID string
	chain         models.MessageChain
	isFinal       bool
}

func (a *fakeAdapter) Name() string                                               { return "fake" }
func (a *fakeAdapter) Run(ctx context.Context) error                              { <-ctx.Done(); return nil }
func (a *fakeAdapter) Kill(context.Context) bool                                  { return true }
func (a *fakeAdapter) RegisterListener(models.EventKind, platform.EventListener)  {}
func (a *fakeAdapter) UnregisterListeners(models.EventKind)                       {}
func (a *fakeAdapter) IsStreamOutputSupported() bool                              { return a.streaming }
func (a *fakeAdapter) IsMuted(context.Context, string) bool                       { return false }

func (a *fakeAdapter) SendMessage(_ context.Context, _ platform.TargetType, _ string, chain models.MessageChain) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, chain)
	return nil
}

func (a *fakeAdapter) ReplyMessage(_ context.Context, _ *models.MessageEvent, chain models.MessageChain, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, chain)
	return nil
}

func (a *fakeAdapter) ReplyMessageChunk(_ context.Context, _ *models.MessageEvent, respMessageID string, chain models.MessageChain, _ bool, isFinal bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chunks = append(a.chunks, chunkCall{respMessageID: respMessageID, chain: chain, isFinal: isFinal})
	return nil
}

func (a *fakeAdapter) allReplies() []models.MessageChain {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.MessageChain(nil), a.replies...)
}

func (a *fakeAdapter) allChunks() []chunkCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chunkCall(nil), a.chunks...)
}

// scriptedRequester replays canned responses and records requests.
type scriptedRequester struct {
	mu       sync.Mutex
	script   []models.Message
	chunks   [][]*models.MessageChunk
	requests [][]models.Message
	calls    int
	failWith error
}

func (s *scriptedRequester) Name() string                     { return "scripted" }
func (s *scriptedRequester) Initialize(context.Context) error { return nil }

func (s *scriptedRequester) InvokeLLM(_ context.Context, _ *provider.RuntimeModel, messages []models.Message, _ []models.LLMFunction, _ map[string]any) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, append([]models.Message(nil), messages...))
	if s.failWith != nil {
		return nil, s.failWith
	}
	msg := s.script[s.calls]
	s.calls++
	return &msg, nil
}

func (s *scriptedRequester) InvokeLLMStream(_ context.Context, _ *provider.RuntimeModel, messages []models.Message, _ []models.LLMFunction, _ map[string]any) (<-chan *models.MessageChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, append([]models.Message(nil), messages...))
	if s.failWith != nil {
		return nil, s.failWith
	}
	batch := s.chunks[s.calls]
	s.calls++
	out := make(chan *models.MessageChunk, len(batch))
	for _, c := range batch {
		out <- c
	}
	close(out)
	return out, nil
}

type harness struct {
	deps     Deps
	req      *scriptedRequester
	adapter  *fakeAdapter
	sessions *sessions.Manager
	host     *plugins.InProcessHost
	engine   *pipeline.Engine
}

func newHarness(t *testing.T, req *scriptedRequester) *harness {
	t.Helper()
	providers := provider.NewManager([]config.ModelConfig{{
		UUID: "m1", Name: "test-model", Requester: "scripted", Abilities: []string{"func_call"},
	}})
	providers.RegisterRequester(req)

	sessMgr := sessions.NewManager(1, nil)
	toolMgr := tools.NewManager()
	host := plugins.NewInProcessHost()
	log := observability.NewTestLogger()

	registry := agent.NewRegistry()
	registry.Register(agent.NewLocalRunner(providers, toolMgr, nil, log))

	deps := Deps{
		Log:       log,
		Sessions:  sessMgr,
		Providers: providers,
		Tools:     toolMgr,
		Plugins:   host,
		Runners:   registry,
	}
	return &harness{
		deps:     deps,
		req:      req,
		adapter:  &fakeAdapter{},
		sessions: sessMgr,
		host:     host,
		engine:   pipeline.NewEngine(log, nil),
	}
}

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		UUID: "pipe-1",
		Trigger: config.TriggerConfig{
			AccessControl: config.AccessControlConfig{Mode: "blacklist"},
		},
		AI: config.AIConfig{
			Runner:     config.RunnerConfig{Runner: "local-agent"},
			LocalAgent: config.LocalAgentConfig{Model: "m1"},
		},
		Output: config.OutputConfig{
			LongText: config.LongTextConfig{Strategy: "forward", Threshold: 256},
		},
	}
}

func (h *harness) run(t *testing.T, cfg *config.PipelineConfig, chain models.MessageChain) *pipeline.Query {
	t.Helper()
	rp, err := pipeline.NewRuntimePipeline(context.Background(), cfg, Default(h.deps))
	if err != nil {
		t.Fatal(err)
	}
	event := &models.MessageEvent{
		Kind:   models.EventFriendMessage,
		Sender: models.Sender{ID: "42"},
		Chain:  chain,
		Time:   time.Now(),
	}
	q := &pipeline.Query{
		LauncherType: event.LauncherType(),
		LauncherID:   event.LauncherID(),
		SenderID:     event.Sender.ID,
		Event:        event,
		Chain:        chain,
		Adapter:      h.adapter,
		BotUUID:      "bot-1",
		PipelineUUID: cfg.UUID,
	}
	h.engine.Run(context.Background(), rp, q)
	return q
}

func textChain(text string) models.MessageChain {
	return models.MessageChain{
		models.Source{MessageID: "1", Time: time.Now()},
		models.Text{Text: text},
	}
}

func TestSimpleTextChat(t *testing.T) {
	h := newHarness(t, &scriptedRequester{script: []models.Message{
		{Role: models.RoleAssistant, Content: "Hello"},
	}})

	q := h.run(t, testPipelineConfig(), textChain("Hi"))

	replies := h.adapter.allReplies()
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if got := replies[0].PlainText(); got != "Hello" {
		t.Fatalf("reply text = %q", got)
	}
	if q.Conversation.Len() != 2 {
		t.Fatalf("conversation gained %d messages, want 2", q.Conversation.Len())
	}
}

func TestToolRoundTrip(t *testing.T) {
	h := newHarness(t, &scriptedRequester{script: []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{
			ID: "t1", Type: "function",
			Function: models.FunctionCall{Name: "plugin-foo-echo", Arguments: `{"x":1}`},
		}}},
		{Role: models.RoleAssistant, Content: "Done"},
	}})
	loader := tools.NewInternalLoader()
	loader.Register(tools.InternalTool{
		Function: models.LLMFunction{Name: "plugin-foo-echo", Parameters: map[string]any{"type": "object"}},
		Handler: func(context.Context, map[string]any) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	h.deps.Tools.AddLoader(loader)

	q := h.run(t, testPipelineConfig(), textChain("go"))

	replies := h.adapter.allReplies()
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want progress + final", len(replies))
	}
	if got := replies[0].PlainText(); got != "Calling function plugin-foo-echo..." {
		t.Fatalf("progress reply = %q", got)
	}
	if got := replies[1].PlainText(); got != "Done" {
		t.Fatalf("final reply = %q", got)
	}

	trail := q.Conversation.Messages()
	if len(trail) != 4 {
		t.Fatalf("conversation trail = %d, want user+assistant+tool+assistant", len(trail))
	}
	wantRoles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleAssistant}
	for i, want := range wantRoles {
		if trail[i].Role != want {
			t.Fatalf("trail[%d].Role = %s, want %s", i, trail[i].Role, want)
		}
	}
}

func TestAccessControlBlock(t *testing.T) {
	req := &scriptedRequester{}
	h := newHarness(t, req)
	cfg := testPipelineConfig()
	cfg.Trigger.AccessControl = config.AccessControlConfig{
		Mode:      "whitelist",
		Whitelist: []string{"person_99"},
	}

	h.run(t, cfg, textChain("Hi"))

	if len(h.adapter.allReplies()) != 0 {
		t.Fatal("blocked query must not produce a reply")
	}
	req.mu.Lock()
	calls := len(req.requests)
	req.mu.Unlock()
	if calls != 0 {
		t.Fatal("blocked query must not reach the model")
	}
}

func TestLongTextForward(t *testing.T) {
	long := make([]byte, 0, 4096)
	for len(long) < 4096 {
		long = append(long, "lorem ipsum "...)
	}
	h := newHarness(t, &scriptedRequester{script: []models.Message{
		{Role: models.RoleAssistant, Content: string(long)},
	}})
	cfg := testPipelineConfig()
	cfg.Output.LongText.Threshold = 200

	h.run(t, cfg, textChain("talk"))

	replies := h.adapter.allReplies()
	if len(replies) != 1 {
		t.Fatalf("replies = %d", len(replies))
	}
	if len(replies[0]) != 1 {
		t.Fatalf("chain parts = %d, want single forward", len(replies[0]))
	}
	fwd, ok := replies[0][0].(models.Forward)
	if !ok {
		t.Fatalf("part = %T, want Forward", replies[0][0])
	}
	if len(fwd.Nodes) != 1 || fwd.Nodes[0].Chain.PlainText() != string(long) {
		t.Fatal("forward node does not wrap the original text")
	}
}

func TestStreamingChunkThrottle(t *testing.T) {
	var chunks []*models.MessageChunk
	content := ""
	for i := 0; i < 20; i++ {
		content += fmt.Sprintf("w%d ", i)
		chunks = append(chunks, &models.MessageChunk{
			Message:     models.Message{Role: models.RoleAssistant, Content: content},
			MsgSequence: i + 1,
			IsFinal:     i == 19,
		})
	}
	h := newHarness(t, &scriptedRequester{chunks: [][]*models.MessageChunk{chunks}})
	h.adapter.streaming = true

	h.run(t, testPipelineConfig(), textChain("stream"))

	got := h.adapter.allChunks()
	if len(got) != 3 {
		t.Fatalf("chunk deliveries = %d, want 3 (seq 8, 16, 20)", len(got))
	}
	if got[0].chain.PlainText() != chunks[7].Content {
		t.Fatalf("first delivery = %q, want cumulative content of seq 8", got[0].chain.PlainText())
	}
	if got[0].isFinal || got[1].isFinal || !got[2].isFinal {
		t.Fatal("is_final must be set only on the last delivery")
	}
	if got[0].respMessageID == "" || got[0].respMessageID != got[2].respMessageID {
		t.Fatal("chunk deliveries must share one resp message id")
	}
}

func TestPluginPreventDefaultWithReply(t *testing.T) {
	req := &scriptedRequester{}
	h := newHarness(t, req)
	h.host.RegisterHandler("guard", plugins.PersonNormalMessageReceived, func(_ context.Context, ec *plugins.EventContext) {
		ec.PreventDefault = true
		ec.ReplyChain = models.MessageChain{models.Text{Text: "handled by plugin"}}
	})

	h.run(t, testPipelineConfig(), textChain("Hi"))

	replies := h.adapter.allReplies()
	if len(replies) != 1 || replies[0].PlainText() != "handled by plugin" {
		t.Fatalf("replies = %+v", replies)
	}
	req.mu.Lock()
	calls := len(req.requests)
	req.mu.Unlock()
	if calls != 0 {
		t.Fatal("prevented default must skip the runner")
	}
}

func TestPluginAlterRewritesUserMessage(t *testing.T) {
	req := &scriptedRequester{script: []models.Message{
		{Role: models.RoleAssistant, Content: "ok"},
	}}
	h := newHarness(t, req)
	h.host.RegisterHandler("rewriter", plugins.PersonNormalMessageReceived, func(_ context.Context, ec *plugins.EventContext) {
		ec.SetAlter("rewritten")
	})

	h.run(t, testPipelineConfig(), textChain("original"))

	req.mu.Lock()
	defer req.mu.Unlock()
	sent := req.requests[0]
	if sent[len(sent)-1].Content != "rewritten" {
		t.Fatalf("user message = %q, want altered text", sent[len(sent)-1].Content)
	}
}

func TestCommandHandlerStreamsReturns(t *testing.T) {
	req := &scriptedRequester{}
	h := newHarness(t, req)
	h.host.RegisterCommand(plugins.Command{
		Plugin: "builtin", Name: "version",
		Handler: func(_ context.Context, _ []string, yield func(plugins.CommandReturn)) error {
			yield(plugins.CommandReturn{Type: plugins.CommandReturnText, Text: "v1.2.3"})
			return nil
		},
	})
	cfg := testPipelineConfig()
	cfg.Trigger.Prefix = config.PrefixConfig{Enabled: true, Prefixes: []string{"!"}}

	h.run(t, cfg, textChain("!version"))

	replies := h.adapter.allReplies()
	if len(replies) != 1 {
		t.Fatalf("replies = %d", len(replies))
	}
	if got := replies[0].PlainText(); got != "[bot] v1.2.3" {
		t.Fatalf("command reply = %q", got)
	}
	req.mu.Lock()
	calls := len(req.requests)
	req.mu.Unlock()
	if calls != 0 {
		t.Fatal("command must not reach the model")
	}
}

func TestHideExceptionGatesUserNotice(t *testing.T) {
	req := &scriptedRequester{failWith: fmt.Errorf("backend exploded")}
	h := newHarness(t, req)
	cfg := testPipelineConfig()
	cfg.Output.Misc.HideException = true

	h.run(t, cfg, textChain("Hi"))
	replies := h.adapter.allReplies()
	if len(replies) != 1 || replies[0].PlainText() != "Request failed" {
		t.Fatalf("replies = %+v, want masked notice", replies)
	}

	h2 := newHarness(t, &scriptedRequester{failWith: fmt.Errorf("backend exploded")})
	h2.run(t, testPipelineConfig(), textChain("Hi"))
	replies = h2.adapter.allReplies()
	if len(replies) != 1 || replies[0].PlainText() != "backend exploded" {
		t.Fatalf("replies = %+v, want echoed error", replies)
	}
}

func TestFailedTurnCommitsNothing(t *testing.T) {
	req := &scriptedRequester{failWith: fmt.Errorf("boom")}
	h := newHarness(t, req)

	q := h.run(t, testPipelineConfig(), textChain("Hi"))
	if q.Conversation.Len() != 0 {
		t.Fatalf("failed turn added %d messages", q.Conversation.Len())
	}
}

func TestEntryMatchesForms(t *testing.T) {
	cases := []struct {
		entry  string
		want   bool
	}{
		{"person_*", true},
		{"person_42", true},
		{"person_99", false},
		{"group_*", false},
		{"*_42", true},
		{"*_99", false},
		{"malformed", false},
	}
	for _, tc := range cases {
		if got := entryMatches(tc.entry, "person", "42", "42"); got != tc.want {
			t.Errorf("entryMatches(%q) = %v, want %v", tc.entry, got, tc.want)
		}
	}
	// *_id also matches on sender when launcher differs (group chat).
	if !entryMatches("*_77", "group", "g1", "77") {
		t.Error("*_id must match the sender id")
	}
}

func TestRateLimitFixedWindow(t *testing.T) {
	h := newHarness(t, &scriptedRequester{})
	stage := NewRateLimitCheck(h.deps)
	now := time.Now()
	stage.now = func() time.Time { return now }
	cfg := testPipelineConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, WindowSize: 60, Limit: 2}
	if err := stage.Initialize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	q := &pipeline.Query{LauncherType: models.LauncherPerson, LauncherID: "42"}
	for i := 0; i < 2; i++ {
		out, err := stage.Process(context.Background(), q)
		if err != nil || out.Result.Type != pipeline.Continue {
			t.Fatalf("query %d rejected inside limit", i)
		}
	}
	out, _ := stage.Process(context.Background(), q)
	if out.Result.Type != pipeline.Interrupt {
		t.Fatal("third query within window must be limited")
	}

	now = now.Add(61 * time.Second)
	out, _ = stage.Process(context.Background(), q)
	if out.Result.Type != pipeline.Continue {
		t.Fatal("new window must admit again")
	}
}
