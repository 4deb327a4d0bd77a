package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/mcp"
	"github.com/robbarto2/AgenticOps/internal/prompts"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// DefaultMaxIterations bounds model round trips per specialist run.
const DefaultMaxIterations = 10

// Dispatcher lists and executes the tools a stage may use. Lookup
// returns an error wrapping mcp.ErrToolNotFound when the stage may not
// call the tool or no server provides it.
type Dispatcher interface {
	ListTools(s stage.Stage) []mcp.ToolDescriptor
	Lookup(s stage.Stage, name string) (mcp.ToolDescriptor, error)
	Call(ctx context.Context, name string, args map[string]string) (mcp.Result, error)
}

// SkillSource provides the skills section of a specialist instruction.
type SkillSource interface {
	Section(s stage.Stage) string
}

// Node is one step of the graph.
type Node interface {
	Run(ctx context.Context, st *ExecutionState) error
}

// SpecialistConfig configures a Specialist.
type SpecialistConfig struct {
	Stage         stage.Stage
	Client        llm.Client
	Model         string
	Tools         Dispatcher
	Skills        SkillSource // optional
	MaxIterations int
	MaxTokens     int
	Bus           *events.Bus
	Tracer        trace.Tracer
	Logger        *slog.Logger
}

// Specialist runs the bounded tool-calling loop for one stage.
type Specialist struct {
	cfg    SpecialistConfig
	tracer trace.Tracer
	logger *slog.Logger
}

// NewSpecialist validates cfg and returns a Specialist.
func NewSpecialist(cfg SpecialistConfig) (*Specialist, error) {
	if !cfg.Stage.IsSpecialist() {
		return nil, fmt.Errorf("%w: %q is not a specialist", stage.ErrUnknownStage, cfg.Stage)
	}
	if cfg.Client == nil || cfg.Tools == nil {
		return nil, fmt.Errorf("specialist %s: client and tools are required", cfg.Stage)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Specialist{
		cfg:    cfg,
		tracer: tracer,
		logger: cfg.Logger.With("component", "specialist", "stage", string(cfg.Stage)),
	}, nil
}

// Stage returns the stage this specialist serves.
func (s *Specialist) Stage() stage.Stage {
	return s.cfg.Stage
}

// Run asks the model for the next action until it stops requesting
// tools or the iteration ceiling is reached. Tool failures become
// observations; a model error is returned as is.
func (s *Specialist) Run(ctx context.Context, st *ExecutionState) error {
	var skills string
	if s.cfg.Skills != nil {
		skills = s.cfg.Skills.Section(s.cfg.Stage)
	}
	system, err := prompts.SpecialistPrompt(s.cfg.Stage, skills)
	if err != nil {
		return err
	}

	descs := s.cfg.Tools.ListTools(s.cfg.Stage)
	tools := make([]llm.Tool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.InputSchema})
	}

	msgs := make([]llm.Message, 0, len(st.History)+1)
	msgs = append(msgs, st.History...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: st.Query})

	log := s.logger.With("query_id", st.QueryID)
	log.Debug("specialist started", "tools", len(tools), "history", len(st.History))

	var narrative string
	iterations, capped := 0, true
	for iterations < s.cfg.MaxIterations {
		iterations++
		resp, err := s.cfg.Client.Chat(ctx, llm.Request{
			Model:     s.cfg.Model,
			System:    system,
			Messages:  msgs,
			Tools:     tools,
			MaxTokens: s.cfg.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("%s model call: %w", s.cfg.Stage, err)
		}
		msgs = append(msgs, resp.Message)
		if resp.Message.Content != "" {
			narrative = resp.Message.Content
		}
		if len(resp.Message.ToolCalls) == 0 {
			capped = false
			break
		}

		for _, tc := range resp.Message.ToolCalls {
			inv, err := s.execute(ctx, st, tc)
			if err != nil {
				return err
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: inv.Observation(), ToolCallID: tc.ID})
		}
	}

	if capped {
		log.Warn("specialist reached iteration ceiling", "iterations", iterations)
	}
	if narrative == "" {
		narrative = prompts.EmptyResponseFallback
	}
	st.Narrative = narrative
	st.Emit(ProgressEvent{Kind: EventText, Stage: s.cfg.Stage, Text: narrative})

	log.Info("specialist finished", "iterations", iterations, "tool_calls", len(st.ToolResults))
	return nil
}

// execute runs one tool call and records it. The only error returned is
// the context's.
func (s *Specialist) execute(ctx context.Context, st *ExecutionState, tc llm.ToolCall) (ToolInvocation, error) {
	if err := ctx.Err(); err != nil {
		return ToolInvocation{}, err
	}

	desc, lookupErr := s.cfg.Tools.Lookup(s.cfg.Stage, tc.Name)
	ok := lookupErr == nil
	source := desc.Source
	if !ok || source == "" {
		source = mcp.SourceFor(tc.Name)
	}
	inv := ToolInvocation{Tool: tc.Name, Source: source, Args: tc.StringArguments()}

	st.Emit(ProgressEvent{Kind: EventToolStarted, Stage: s.cfg.Stage, Tool: tc.Name, Source: source})
	s.cfg.Bus.Emit(events.SourceEngine, events.KindToolCall, map[string]any{
		"query_id": st.QueryID,
		"stage":    string(s.cfg.Stage),
		"tool":     tc.Name,
		"source":   source,
	})

	ctx, span := s.tracer.Start(ctx, "tool "+tc.Name, trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.source", source),
	))
	start := time.Now()
	if ok {
		res, err := s.cfg.Tools.Call(ctx, tc.Name, inv.Args)
		if err != nil {
			span.RecordError(err)
			span.End()
			return ToolInvocation{}, err
		}
		inv.Result, inv.Error = res.Content, res.Error
	} else {
		inv.Result = fmt.Sprintf("Tool %s not found", tc.Name)
	}
	inv.Duration = time.Since(start)
	if inv.Error != "" {
		span.SetStatus(codes.Error, inv.Error)
	}
	span.End()

	st.ToolResults = append(st.ToolResults, inv)
	st.Emit(ProgressEvent{Kind: EventToolFinished, Stage: s.cfg.Stage, Tool: tc.Name, Source: source})
	s.cfg.Bus.Emit(events.SourceEngine, events.KindToolDone, map[string]any{
		"query_id":    st.QueryID,
		"stage":       string(s.cfg.Stage),
		"tool":        tc.Name,
		"source":      source,
		"ok":          ok && inv.Error == "",
		"duration_ms": inv.Duration.Milliseconds(),
	})
	if !ok {
		s.logger.Debug("tool call rejected", "query_id", st.QueryID, "tool", tc.Name, "error", lookupErr)
	}
	s.logger.Debug("tool executed", "query_id", st.QueryID, "tool", tc.Name, "found", ok, "error", inv.Error, "elapsed", inv.Duration)
	return inv, nil
}
