// AgenticOps answers natural-language network operations questions by
// routing each query to a specialist agent that calls Meraki and
// ThousandEyes tools over MCP, then rendering the results as cards.
//
// Usage:
//
//	agenticops init [dir]            Write an example config and skills
//	agenticops serve                 Start the API and chat websocket
//	agenticops ask <question>        Run one query, print events as JSON lines
//	agenticops tools [--stage s]     List the tools each specialist may call
//	agenticops skills                List the loaded skills
//	agenticops version [--json]      Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/robbarto2/AgenticOps/internal/buildinfo"
	"github.com/robbarto2/AgenticOps/internal/config"
	"github.com/robbarto2/AgenticOps/internal/skills"
	"github.com/robbarto2/AgenticOps/internal/stage"
	"github.com/robbarto2/AgenticOps/internal/stream"
)

// CLI is the command line.
type CLI struct {
	Config   string `short:"c" help:"Path to config file (default: auto-discover)." type:"path"`
	LogLevel string `name:"log-level" help:"Log level (trace, debug, info, warn, error). Overrides the config file."`

	Init    InitCmd    `cmd:"" help:"Create a workspace with an example config and the built-in skills."`
	Serve   ServeCmd   `cmd:"" help:"Start the API server and chat websocket."`
	Ask     AskCmd     `cmd:"" help:"Run one query and print the event stream as JSON lines."`
	Tools   ToolsCmd   `cmd:"" help:"List the tools each specialist may call."`
	Skills  SkillsCmd  `cmd:"" help:"List the loaded skills."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// env carries the process environment into the command Run methods.
type env struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	cli    *CLI
}

// main builds the OS-level environment and hands off to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// run parses args and executes the selected command. It returns nil on
// clean shutdown.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var cli CLI
	exited := false
	parser, err := kong.New(&cli,
		kong.Name("agenticops"),
		kong.Description("Network operations query engine."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) { exited = true }),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if exited {
		// --help was printed.
		return nil
	}
	if err != nil {
		return err
	}
	return kctx.Run(&env{ctx: ctx, stdout: stdout, stderr: stderr, cli: &cli})
}

// ServeCmd starts the HTTP server.
type ServeCmd struct{}

func (c *ServeCmd) Run(e *env) error {
	a, err := bootstrap(e, e.stdout)
	if err != nil {
		return err
	}
	defer a.close()
	return a.serve(e.ctx)
}

// AskCmd runs a single query through the streaming controller.
type AskCmd struct {
	Session string   `help:"Session ID." default:"cli"`
	Query   []string `arg:"" help:"The question."`
}

func (c *AskCmd) Run(e *env) error {
	query := strings.TrimSpace(strings.Join(c.Query, " "))
	if query == "" {
		return errors.New("usage: agenticops ask <question>")
	}

	// Logs go to stderr so stdout carries only frames.
	a, err := bootstrap(e, e.stderr)
	if err != nil {
		return err
	}
	defer a.close()

	ctrl := stream.NewController(a.controllerConfig(), stream.NewJSONLines(e.stdout))
	ctrl.Submit(e.ctx, c.Session, query)

	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-e.ctx.Done():
		ctrl.Stop()
		<-done
	}
	total := a.usage.Total()
	a.logger.Info("model usage",
		"calls", total.TotalRecords,
		"input_tokens", total.TotalInputTokens,
		"output_tokens", total.TotalOutputTokens,
		"cost_usd", total.TotalCostUSD,
	)
	return nil
}

// ToolsCmd lists the capability-restricted tool catalog.
type ToolsCmd struct {
	Stage string `help:"Only list tools for this stage."`
	JSON  bool   `help:"Output JSON."`
}

func (c *ToolsCmd) Run(e *env) error {
	stages := stage.Specialists()
	if c.Stage != "" {
		s, err := stage.Parse(c.Stage)
		if err != nil {
			return err
		}
		stages = []stage.Stage{s}
	}

	a, err := bootstrap(e, e.stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if c.JSON {
		out := make(map[stage.Stage]any, len(stages))
		for _, s := range stages {
			out[s] = a.tools.ListTools(s)
		}
		return writeJSON(e.stdout, out)
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, s := range stages {
		tools := a.tools.ListTools(s)
		fmt.Fprintf(tw, "%s (%d)\n", s, len(tools))
		for _, t := range tools {
			fmt.Fprintf(tw, "  %s\t%s\n", t.Name, t.Source)
		}
	}
	return tw.Flush()
}

// SkillsCmd lists skills without connecting to any server.
type SkillsCmd struct {
	JSON bool `help:"Output JSON."`
}

func (c *SkillsCmd) Run(e *env) error {
	cfg, logger, err := loadConfigAndLogger(e, e.stderr)
	if err != nil {
		return err
	}
	lib, err := skills.NewLibrary(cfg.SkillsDir, logger)
	if err != nil {
		return err
	}
	list := lib.List()
	if c.JSON {
		return writeJSON(e.stdout, list)
	}
	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAGENT\tFILE\tDESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Stage, s.File, s.Description)
	}
	return tw.Flush()
}

// VersionCmd prints build metadata.
type VersionCmd struct {
	JSON bool `help:"Output JSON."`
}

func (c *VersionCmd) Run(e *env) error {
	info := buildinfo.Info()
	if c.JSON {
		return writeJSON(e.stdout, info)
	}
	fmt.Fprintln(e.stdout, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(e.stdout, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLogger creates a structured logger writing to w. Format is "text"
// or "json"; anything else means text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the config file. With no explicit path
// and nothing on the search path, the defaults are used and "" is
// returned as the path.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNoConfig) {
		if err := config.LoadDotEnv(".env"); err != nil {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// loadConfigAndLogger loads and validates the config, then builds the
// logger from its level and format. --log-level wins over the file.
func loadConfigAndLogger(e *env, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, path, err := loadConfig(e.cli.Config)
	if err != nil {
		return nil, nil, err
	}
	if e.cli.LogLevel != "" {
		cfg.LogLevel = e.cli.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	// Validate has already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(logOut, level, cfg.LogFormat)
	if path == "" {
		logger.Debug("no config file found, using defaults")
	} else {
		logger.Debug("config loaded", "path", path)
	}
	return cfg, logger, nil
}
