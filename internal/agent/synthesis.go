package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robbarto2/AgenticOps/internal/cards"
	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/prompts"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// DefaultDigestBudget is the per-result character budget of the tool
// digest sent to synthesis.
const DefaultDigestBudget = 2000

const noToolResults = "No tool results available."

// SynthesizerConfig configures a Synthesizer.
type SynthesizerConfig struct {
	Client       llm.Client
	Model        string
	MaxTokens    int
	DigestBudget int
	Bus          *events.Bus
	Logger       *slog.Logger
}

// Synthesizer turns a specialist's narrative and tool results into cards.
type Synthesizer struct {
	cfg    SynthesizerConfig
	parser cards.Parser
	system string
	logger *slog.Logger
}

// NewSynthesizer builds the synthesis instruction once and returns a
// Synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("synthesizer: client is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.DigestBudget <= 0 {
		cfg.DigestBudget = DefaultDigestBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	schemas, err := cards.PayloadSchemas()
	if err != nil {
		return nil, fmt.Errorf("card schemas: %w", err)
	}
	var types []prompts.CardType
	for _, t := range cards.Types() {
		types = append(types, prompts.CardType{Name: string(t), Purpose: t.Purpose(), Schema: schemas[t]})
	}
	logger := cfg.Logger.With("component", "synthesis")
	return &Synthesizer{
		cfg:    cfg,
		parser: cards.Parser{Logger: logger},
		system: prompts.CanvasPrompt(types),
		logger: logger,
	}, nil
}

// Run produces cards when they were requested or when the specialist
// gathered tool results. Otherwise the narrative passes through
// untouched and no model call is made.
func (s *Synthesizer) Run(ctx context.Context, st *ExecutionState) error {
	if !st.GenerateCards && len(st.ToolResults) == 0 {
		s.logger.Debug("synthesis skipped", "query_id", st.QueryID)
		return nil
	}

	narrative := st.Narrative
	digest := Digest(st.ToolResults, s.cfg.DigestBudget)
	if st.FollowUp {
		narrative = st.PriorNarrative
		if narrative == "" {
			narrative = prompts.FollowUpNarrativeMissing
		}
		digest = prompts.FollowUpDigest(st.PriorCardTitles)
	}

	resp, err := s.cfg.Client.Chat(ctx, llm.Request{
		Model:     s.cfg.Model,
		System:    s.system,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompts.CanvasRequest(st.Query, narrative, digest)}},
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("synthesis model call: %w", err)
	}

	cs := s.parser.Parse(resp.Message.Content, narrative)
	st.Cards = append(st.Cards, cs...)
	st.Emit(ProgressEvent{Kind: EventCardsReady, Stage: stage.Synthesis, Count: len(cs)})
	s.cfg.Bus.Emit(events.SourceEngine, events.KindCardsReady, map[string]any{
		"query_id": st.QueryID,
		"count":    len(cs),
	})
	s.logger.Info("cards ready", "query_id", st.QueryID, "count", len(cs), "types", cardTypes(cs))
	return nil
}

// Digest renders tool results for the synthesis request, each result
// cut to budget characters.
func Digest(results []ToolInvocation, budget int) string {
	if len(results) == 0 {
		return noToolResults
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		args, err := json.Marshal(r.Args)
		if err != nil {
			args = []byte("{}")
		}
		parts = append(parts, fmt.Sprintf("Tool: %s\nArgs: %s\nResult: %s", r.Tool, args, clip(r.Observation(), budget)))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func cardTypes(cs []cards.Card) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c.Type))
	}
	return out
}
