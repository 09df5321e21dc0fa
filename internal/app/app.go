// Package app assembles the full middleware: configuration, observability,
// sessions, providers, tools, plugins, knowledge bases, runners, platform
// adapters and the query pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduitbot/conduit/internal/agent"
	"github.com/conduitbot/conduit/internal/agent/runners"
	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/kb"
	"github.com/conduitbot/conduit/internal/lifecycle"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/pipeline/stages"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/internal/platform/discord"
	"github.com/conduitbot/conduit/internal/platform/telegram"
	"github.com/conduitbot/conduit/internal/platform/webchat"
	"github.com/conduitbot/conduit/internal/plugins"
	providerpkg "github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/internal/provider/anthropic"
	"github.com/conduitbot/conduit/internal/provider/openai"
	"github.com/conduitbot/conduit/internal/sessions"
	"github.com/conduitbot/conduit/internal/tools"
	"github.com/conduitbot/conduit/pkg/models"
)

// Application is the assembled runtime. Build it with New, run it with Run.
type Application struct {
	cfg        *config.Config
	configPath string
	botUUID    string

	log     *observability.Logger
	metrics *observability.Metrics
	tasks   *lifecycle.Manager

	store     *sessions.SQLiteStore
	sessions  *sessions.Manager
	providers *providerpkg.Manager
	tools     *tools.Manager
	host      *plugins.InProcessHost
	knowledge *kb.Service
	runners   *agent.Registry
	adapters  *platform.Registry

	pool   *pipeline.Pool
	engine *pipeline.Engine

	mu        sync.RWMutex
	pipelines map[string]*pipeline.RuntimePipeline
	defaultPL string

	// adapterPipeline routes each adapter to its configured pipeline.
	adapterPipeline map[string]string
}

// New builds the application from config. configPath enables hot reload of
// pipeline configuration when non-empty.
func New(ctx context.Context, cfg *config.Config, configPath string) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		cfg:             cfg,
		configPath:      configPath,
		botUUID:         uuid.NewString(),
		log:             observability.NewLogger(cfg.Logging),
		tasks:           lifecycle.NewManager(ctx),
		host:            plugins.NewInProcessHost(),
		runners:         agent.NewRegistry(),
		adapters:        platform.NewRegistry(),
		pipelines:       make(map[string]*pipeline.RuntimePipeline),
		adapterPipeline: make(map[string]string),
	}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics()
	}

	if cfg.Storage.Path != "" {
		store, err := sessions.OpenSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		a.store = store
		a.sessions = sessions.NewManager(cfg.Concurrency.Session, store)
	} else {
		a.sessions = sessions.NewManager(cfg.Concurrency.Session, nil)
	}

	a.providers = providerpkg.NewManager(cfg.Models)
	a.providers.RegisterRequester(openai.NewRequester(a.log))
	a.providers.RegisterRequester(anthropic.NewRequester(a.log))

	a.tools = tools.NewManager(tools.NewInternalLoader(), tools.NewPluginLoader(), tools.NewMCPLoader())

	if err := a.buildKnowledge(); err != nil {
		return nil, err
	}

	a.runners.Register(agent.NewLocalRunner(a.providers, a.tools, a.knowledge, a.log))
	a.runners.Register(runners.NewDifyRunner())
	a.runners.Register(runners.NewDashscopeRunner())
	a.runners.Register(runners.NewN8NRunner())
	a.runners.Register(runners.NewLangflowRunner())

	a.registerBuiltinCommands()

	if err := a.buildPipelines(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.buildAdapters(); err != nil {
		return nil, err
	}

	a.pool = pipeline.NewPool(cfg.Concurrency.Pipeline)
	a.engine = pipeline.NewEngine(a.log, a.metrics)
	return a, nil
}

func (a *Application) buildKnowledge() error {
	embedders := make(map[string]kb.Embedder, len(a.cfg.Embeddings))
	for _, ec := range a.cfg.Embeddings {
		emb, err := kb.NewOpenAIEmbedder(ec)
		if err != nil {
			return fmt.Errorf("embedding model %q: %w", ec.UUID, err)
		}
		embedders[ec.UUID] = emb
	}
	svc, err := kb.NewService(a.log, a.tasks, kb.NewMemoryVectorStore(), embedders, a.cfg.Knowledge)
	if err != nil {
		return err
	}
	a.knowledge = svc
	return nil
}

func (a *Application) buildPipelines(ctx context.Context, cfg *config.Config) error {
	deps := stages.Deps{
		Log:       a.log,
		Metrics:   a.metrics,
		Sessions:  a.sessions,
		Providers: a.providers,
		Tools:     a.tools,
		Plugins:   a.host,
		Runners:   a.runners,
	}
	built := make(map[string]*pipeline.RuntimePipeline, len(cfg.Pipelines))
	for i := range cfg.Pipelines {
		pc := &cfg.Pipelines[i]
		rp, err := pipeline.NewRuntimePipeline(ctx, pc, stages.Default(deps))
		if err != nil {
			return fmt.Errorf("pipeline %q: %w", pc.UUID, err)
		}
		built[pc.UUID] = rp
	}
	a.mu.Lock()
	a.pipelines = built
	a.defaultPL = cfg.Pipelines[0].UUID
	a.mu.Unlock()
	return nil
}

func (a *Application) buildAdapters() error {
	pc := a.cfg.Platform
	if pc.Telegram.Enabled {
		ad, err := telegram.NewAdapter(pc.Telegram, a.log)
		if err != nil {
			return err
		}
		a.adapters.Register(ad)
		a.adapterPipeline[ad.Name()] = pc.Telegram.Pipeline
	}
	if pc.Discord.Enabled {
		ad, err := discord.NewAdapter(pc.Discord, a.log)
		if err != nil {
			return err
		}
		a.adapters.Register(ad)
		a.adapterPipeline[ad.Name()] = pc.Discord.Pipeline
	}
	if pc.WebChat.Enabled {
		ad, err := webchat.NewAdapter(pc.WebChat, a.log)
		if err != nil {
			return err
		}
		a.adapters.Register(ad)
		a.adapterPipeline[ad.Name()] = pc.WebChat.Pipeline
	}
	return nil
}

// registerBuiltinCommands installs the commands available without plugins.
func (a *Application) registerBuiltinCommands() {
	a.host.RegisterCommand(plugins.Command{
		Plugin:      "builtin",
		Name:        "help",
		Description: "List available commands",
		Handler: func(_ context.Context, _ []string, yield func(plugins.CommandReturn)) error {
			text := "Available commands:"
			for _, cmd := range a.host.ListCommands(nil) {
				text += "\n" + cmd.Name + " - " + cmd.Description
			}
			yield(plugins.CommandReturn{Type: plugins.CommandReturnText, Text: text})
			return nil
		},
	})
	a.host.RegisterCommand(plugins.Command{
		Plugin:      "builtin",
		Name:        "reset",
		Description: "Start a fresh conversation in this chat",
		Handler: func(ctx context.Context, _ []string, yield func(plugins.CommandReturn)) error {
			inv, ok := plugins.InvocationFrom(ctx)
			if !ok {
				return errors.New("reset: no caller identity")
			}
			session := a.sessions.GetSession(inv.LauncherType, inv.LauncherID)
			a.sessions.ResetConversation(session)
			yield(plugins.CommandReturn{Type: plugins.CommandReturnText, Text: "Conversation reset"})
			return nil
		},
	})
}

// Run starts every long-running component and blocks until ctx is done,
// then shuts down in reverse order.
func (a *Application) Run(ctx context.Context) error {
	runCtx := a.tasks.Context(lifecycle.ScopeApplication)

	a.tasks.Go(lifecycle.ScopeApplication, func(ctx context.Context) {
		a.pool.Dispatch(ctx, a.handleQuery)
	})

	for _, adapter := range a.adapters.All() {
		adapter.RegisterListener(models.EventFriendMessage, a.intake(adapter))
		adapter.RegisterListener(models.EventGroupMessage, a.intake(adapter))
		ad := adapter
		a.tasks.Go(lifecycle.ScopePlatform, func(ctx context.Context) {
			if err := ad.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error(ctx, "adapter stopped", "adapter", ad.Name(), "error", err)
			}
		})
	}

	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen != "" {
		a.tasks.Go(lifecycle.ScopeApplication, func(ctx context.Context) {
			a.serveMetrics(ctx)
		})
	}

	if a.configPath != "" {
		a.tasks.Go(lifecycle.ScopeApplication, func(ctx context.Context) {
			err := config.Watch(ctx, a.configPath,
				func(next *config.Config) { a.reload(ctx, next) },
				func(err error) { a.log.Warn(ctx, "config reload failed", "error", err) })
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn(ctx, "config watcher stopped", "error", err)
			}
		})
	}

	a.log.Info(runCtx, "application started",
		"pipelines", len(a.cfg.Pipelines), "adapters", len(a.adapters.All()))

	<-ctx.Done()
	return a.shutdown()
}

func (a *Application) serveMetrics(ctx context.Context) {
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.metrics.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	a.log.Info(ctx, "metrics server listening", "addr", a.cfg.Metrics.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error(ctx, "metrics server failed", "error", err)
	}
}

// reload swaps in the reloaded pipeline set. Adapters, storage and models
// keep their boot-time configuration; those changes need a restart.
func (a *Application) reload(ctx context.Context, next *config.Config) {
	if err := next.Validate(); err != nil {
		a.log.Warn(ctx, "rejected reloaded config", "error", err)
		return
	}
	if err := a.buildPipelines(ctx, next); err != nil {
		a.log.Warn(ctx, "rejected reloaded pipelines", "error", err)
		return
	}
	a.log.Info(ctx, "pipelines reloaded", "count", len(next.Pipelines))
}

func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.adapters.KillAll(ctx)
	a.tasks.Shutdown()
	a.tasks.Wait()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("close session store: %w", err)
		}
	}
	return nil
}

// intake converts one adapter's inbound events into pool admissions.
func (a *Application) intake(adapter platform.Adapter) platform.EventListener {
	pipelineUUID := a.adapterPipeline[adapter.Name()]
	return func(ctx context.Context, event *models.MessageEvent) {
		if event.Kind == models.EventGroupMessage && adapter.IsMuted(ctx, event.Sender.GroupID) {
			return
		}
		q := &pipeline.Query{
			LauncherType: event.LauncherType(),
			LauncherID:   event.LauncherID(),
			SenderID:     event.Sender.ID,
			Event:        event,
			Chain:        event.Chain,
			Adapter:      adapter,
			BotUUID:      a.botUUID,
			PipelineUUID: pipelineUUID,
		}
		if err := a.pool.Admit(q); err != nil {
			if a.metrics != nil {
				a.metrics.QueriesRejected.Inc()
			}
			a.log.Warn(ctx, "query rejected",
				"adapter", adapter.Name(), "launcher", q.LauncherID, "error", err)
			return
		}
		if a.metrics != nil {
			a.metrics.QueriesAdmitted.Inc()
			a.metrics.MessagesReceived.WithLabelValues(adapter.Name()).Inc()
		}
	}
}

// handleQuery runs one admitted query through its pipeline under the
// session's concurrency gate.
func (a *Application) handleQuery(ctx context.Context, q *pipeline.Query) {
	rp := a.runtimePipeline(q.PipelineUUID)
	if rp == nil {
		a.log.Error(ctx, "no pipeline for query", "pipeline", q.PipelineUUID)
		return
	}
	q.PipelineUUID = rp.Config.UUID

	session := a.sessions.GetSession(q.LauncherType, q.LauncherID)
	if err := session.Acquire(ctx); err != nil {
		a.log.Warn(ctx, "session acquire aborted", "session", session.Key(), "error", err)
		return
	}
	defer session.Release()

	a.engine.Run(ctx, rp, q)
}

func (a *Application) runtimePipeline(uuid string) *pipeline.RuntimePipeline {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if uuid != "" {
		if rp, ok := a.pipelines[uuid]; ok {
			return rp
		}
	}
	return a.pipelines[a.defaultPL]
}

// Knowledge exposes the knowledge base service for management surfaces.
func (a *Application) Knowledge() *kb.Service { return a.knowledge }

// Sessions exposes the session manager for management surfaces.
func (a *Application) Sessions() *sessions.Manager { return a.sessions }
