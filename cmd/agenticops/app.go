package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robbarto2/AgenticOps/internal/agent"
	"github.com/robbarto2/AgenticOps/internal/api"
	"github.com/robbarto2/AgenticOps/internal/buildinfo"
	"github.com/robbarto2/AgenticOps/internal/config"
	"github.com/robbarto2/AgenticOps/internal/connwatch"
	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/mcp"
	"github.com/robbarto2/AgenticOps/internal/metrics"
	"github.com/robbarto2/AgenticOps/internal/router"
	"github.com/robbarto2/AgenticOps/internal/session"
	"github.com/robbarto2/AgenticOps/internal/skills"
	"github.com/robbarto2/AgenticOps/internal/stage"
	"github.com/robbarto2/AgenticOps/internal/stream"
	"github.com/robbarto2/AgenticOps/internal/tracing"
	"github.com/robbarto2/AgenticOps/internal/usage"
)

const tracerName = "github.com/robbarto2/AgenticOps"

// app holds the wired components shared by serve, ask and tools.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	tracing  *tracing.Provider
	tools    *mcp.Manager
	client   llm.Client
	ollama   *llm.OllamaClient
	router   *router.Router
	skills   *skills.Library
	engine   *agent.Graph
	sessions *session.Store
	usage    *usage.Store
}

// bootstrap loads config, connects the tool servers and builds every
// component. A server that fails to connect is left disconnected.
func bootstrap(e *env, logOut io.Writer) (*app, error) {
	cfg, logger, err := loadConfigAndLogger(e, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, bus: events.New(), sessions: session.NewStore()}

	// Spans share the log stream.
	a.tracing, err = tracing.Setup(cfg.Tracing, logOut)
	if err != nil {
		return nil, err
	}

	overrides, err := stage.NewCapabilities(cfg.Capabilities)
	if err != nil {
		return nil, err
	}
	a.tools = mcp.NewManager(mcp.ManagerConfig{
		Capabilities:   stage.DefaultCapabilities().Merge(overrides),
		DescriptionCap: cfg.Agent.DescriptionCap,
		Bus:            a.bus,
		Logger:         logger,
	})
	if err := a.tools.Connect(e.ctx, serverSpecs(cfg, logger)); err != nil {
		a.close()
		return nil, err
	}

	client, ollama := createLLMClient(cfg, logger)
	a.usage = usage.NewStore(cfg.Pricing, 0)
	a.client = usage.Wrap(client, a.usage, a.bus)
	a.ollama = ollama

	a.router = router.NewRouter(logger, router.Config{
		Client: a.client,
		Model:  cfg.Models.ClassifierModel(),
		Bus:    a.bus,
	})

	a.skills, err = skills.NewLibrary(cfg.SkillsDir, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine, err = agent.NewEngine(agent.EngineConfig{
		Router:        a.router,
		Client:        a.client,
		Model:         cfg.Models.Default,
		Tools:         a.tools,
		Skills:        a.skills,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Models.MaxTokens,
		DigestBudget:  cfg.Agent.DigestBudget,
		Bus:           a.bus,
		Tracer:        a.tracing.Tracer(tracerName),
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if err := a.tools.Close(); err != nil {
		a.logger.Warn("closing MCP servers", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("flushing spans", "error", err)
	}
}

func (a *app) controllerConfig() stream.Config {
	return stream.Config{
		Engine:       a.engine,
		Sessions:     a.sessions,
		Outcomes:     a.router,
		HistoryTurns: a.cfg.Agent.HistoryTurns,
		Bus:          a.bus,
		Logger:       a.logger,
	}
}

// serve runs the HTTP server and background workers until ctx is done.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	a.logger.Info("starting AgenticOps",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
		"address", cfg.Listen.Addr(),
		"model", cfg.Models.Default,
	)

	if err := a.skills.Watch(ctx); err != nil {
		a.logger.Warn("skills hot reload disabled", "error", err)
	}

	// Reconnects a server whose probe fails, so tools come back without
	// a restart.
	watch := connwatch.NewManager(a.logger, a.bus)
	defer watch.Stop()
	for _, name := range a.tools.Servers() {
		if _, err := watch.Watch(ctx, connwatch.Target{
			Name:  name,
			Kind:  connwatch.KindMCP,
			Probe: func(pctx context.Context) error { return a.tools.Probe(pctx, name) },
		}); err != nil {
			return err
		}
	}
	if a.ollama != nil {
		if _, err := watch.Watch(ctx, connwatch.Target{
			Name:  "ollama",
			Kind:  connwatch.KindLLM,
			Probe: a.ollama.Ping,
		}); err != nil {
			return err
		}
	}

	srvCfg := api.Config{
		Address:        cfg.Listen.Addr(),
		Router:         a.router,
		Sessions:       a.sessions,
		Tools:          a.tools,
		Skills:         a.skills,
		Dependencies:   watch,
		Usage:          a.usage,
		Chat:           stream.NewHandler(a.controllerConfig(), cfg.CORS.AllowedOrigins),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         a.logger,
	}
	if cfg.Metrics.Enabled {
		collector := metrics.New(a.logger)
		go collector.Run(ctx, a.bus)
		srvCfg.Metrics = collector.Handler()
	}

	if err := api.NewServer(srvCfg).Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// serverSpecs builds transports for the configured MCP servers.
func serverSpecs(cfg *config.Config, logger *slog.Logger) []mcp.ServerSpec {
	specs := make([]mcp.ServerSpec, 0, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		var t mcp.Transport
		switch s.Transport {
		case "http":
			t = mcp.NewHTTPTransport(mcp.HTTPConfig{URL: s.URL, Headers: s.Headers, Logger: logger})
		default:
			t = mcp.NewStdioTransport(mcp.StdioConfig{Command: s.Command, Args: s.Args, Env: s.Env, Logger: logger})
		}
		specs = append(specs, mcp.ServerSpec{
			Name:         s.Name,
			Source:       s.SourceTag(),
			Transport:    t,
			IncludeTools: s.IncludeTools,
			ExcludeTools: s.ExcludeTools,
		})
	}
	return specs
}

// createLLMClient builds a client that routes each model to its
// provider. Models without a route go to Anthropic. The Ollama client is
// returned separately so it can be health checked; it is nil when no
// Ollama host is configured.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, *llm.OllamaClient) {
	anthropic := llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, logger)
	multi := llm.NewMultiClient(anthropic)
	multi.AddProvider("anthropic", anthropic)

	var ollama *llm.OllamaClient
	if cfg.Models.OllamaURL != "" {
		ollama = llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
		multi.AddProvider("ollama", ollama)
	}
	for model, provider := range cfg.Models.Routes {
		multi.AddModel(model, provider)
	}

	if cfg.Anthropic.APIKey == "" && ollama == nil {
		logger.Warn("no Anthropic API key and no Ollama host; queries needing a model will fail")
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "classifier_model", cfg.Models.ClassifierModel())
	return multi, ollama
}
