package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robbarto2/AgenticOps/internal/router"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

const tracerName = "github.com/robbarto2/AgenticOps/internal/agent"

// Classifier resolves the stage for a query.
type Classifier interface {
	Route(ctx context.Context, req router.Request) (*router.Decision, error)
}

// Observer is called synchronously, on the goroutine running the graph,
// every time the state gains events, tool results, tables, or cards.
type Observer func(st *ExecutionState)

// Graph is the fixed pipeline router -> one specialist -> synthesis.
// Nodes on a path run strictly one after another.
type Graph struct {
	router      Classifier
	specialists map[stage.Stage]Node
	synthesis   Node
	tracer      trace.Tracer
	logger      *slog.Logger
}

// GraphConfig wires the graph's nodes.
type GraphConfig struct {
	Router      Classifier
	Specialists map[stage.Stage]Node
	Synthesis   Node
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// NewGraph checks that every specialist stage has a node.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.Router == nil || cfg.Synthesis == nil {
		return nil, fmt.Errorf("graph: router and synthesis nodes are required")
	}
	for _, s := range stage.Specialists() {
		if cfg.Specialists[s] == nil {
			return nil, fmt.Errorf("graph: no node for stage %s", s)
		}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Graph{
		router:      cfg.Router,
		specialists: cfg.Specialists,
		synthesis:   cfg.Synthesis,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger.With("component", "graph"),
	}, nil
}

// Run executes the graph for st. observe may be nil.
func (g *Graph) Run(ctx context.Context, st *ExecutionState, observe Observer) error {
	if observe != nil {
		st.onChange = func() { observe(st) }
		defer func() { st.onChange = nil }()
	}

	ctx, span := g.tracer.Start(ctx, "query", trace.WithAttributes(
		attribute.String("query.id", st.QueryID),
		attribute.String("session.id", st.SessionID),
	))
	defer span.End()

	err := g.run(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
	}
	span.SetAttributes(attribute.String("query.stage", string(st.Stage)))
	return err
}

func (g *Graph) run(ctx context.Context, st *ExecutionState) error {
	if err := g.node(ctx, stage.Router, func(ctx context.Context) error {
		return g.route(ctx, st)
	}); err != nil {
		return err
	}

	if st.Stage.IsSpecialist() {
		node := g.specialists[st.Stage]
		if err := g.node(ctx, st.Stage, func(ctx context.Context) error {
			return node.Run(ctx, st)
		}); err != nil {
			return err
		}
		if tables := ExtractNetworkTables(st.ToolResults, g.logger); len(tables) > 0 {
			st.Tables = append(st.Tables, tables...)
			st.changed()
		}
	} else if st.Stage != stage.Synthesis {
		return fmt.Errorf("%w: router resolved %q", stage.ErrUnknownStage, st.Stage)
	}

	return g.node(ctx, stage.Synthesis, func(ctx context.Context) error {
		return g.synthesis.Run(ctx, st)
	})
}

func (g *Graph) route(ctx context.Context, st *ExecutionState) error {
	d, err := g.router.Route(ctx, router.Request{
		ID:       st.QueryID,
		Query:    st.Query,
		HasPrior: st.PriorNarrative != "",
	})
	if err != nil {
		return err
	}
	st.Decision = d
	st.Stage = d.Stage
	st.GenerateCards = d.GenerateCards
	st.FollowUp = d.Method == router.MethodFollowUp
	st.Emit(ProgressEvent{Kind: EventStageStarted, Stage: d.Stage})
	return nil
}

// node runs fn inside a span named after s. A cancelled context stops
// the graph before the node starts.
func (g *Graph) node(ctx context.Context, s stage.Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := g.tracer.Start(ctx, "node "+string(s), trace.WithAttributes(attribute.String("node", string(s))))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
