package agent

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// EngineConfig is everything needed to build the standard graph.
type EngineConfig struct {
	Router Classifier
	Client llm.Client
	// Model is used by the specialists; SynthesisModel defaults to it.
	Model          string
	SynthesisModel string
	Tools          Dispatcher
	Skills         SkillSource
	MaxIterations  int
	MaxTokens      int
	DigestBudget   int
	Bus            *events.Bus
	Tracer         trace.Tracer
	Logger         *slog.Logger
}

// NewEngine builds one Specialist per specialist stage, the
// Synthesizer, and the Graph connecting them.
func NewEngine(cfg EngineConfig) (*Graph, error) {
	specialists := make(map[stage.Stage]Node, 4)
	for _, s := range stage.Specialists() {
		sp, err := NewSpecialist(SpecialistConfig{
			Stage:         s,
			Client:        cfg.Client,
			Model:         cfg.Model,
			Tools:         cfg.Tools,
			Skills:        cfg.Skills,
			MaxIterations: cfg.MaxIterations,
			MaxTokens:     cfg.MaxTokens,
			Bus:           cfg.Bus,
			Tracer:        cfg.Tracer,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		specialists[s] = sp
	}

	model := cfg.SynthesisModel
	if model == "" {
		model = cfg.Model
	}
	synth, err := NewSynthesizer(SynthesizerConfig{
		Client:       cfg.Client,
		Model:        model,
		MaxTokens:    cfg.MaxTokens,
		DigestBudget: cfg.DigestBudget,
		Bus:          cfg.Bus,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return NewGraph(GraphConfig{
		Router:      cfg.Router,
		Specialists: specialists,
		Synthesis:   synth,
		Tracer:      cfg.Tracer,
		Logger:      cfg.Logger,
	})
}
