package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/robbarto2/AgenticOps/internal/cards"
	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/router"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

type fixedClassifier struct {
	decision *router.Decision
	err      error
}

func (f fixedClassifier) Route(context.Context, router.Request) (*router.Decision, error) {
	return f.decision, f.err
}

type recordingNode struct{ runs int }

func (n *recordingNode) Run(context.Context, *ExecutionState) error {
	n.runs++
	return nil
}

func newTestEngine(t *testing.T, mock *mockLLM, tools Dispatcher, bus *events.Bus) *Graph {
	t.Helper()
	g, err := NewEngine(EngineConfig{
		Router: router.NewRouter(nil, router.Config{Bus: bus}),
		Client: mock,
		Model:  "test-model",
		Tools:  tools,
		Bus:    bus,
	})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGraph_ListNetworks(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCall("c1", "getOrganizationNetworks", map[string]any{"organizationId": "123"}),
		text("You have 2 networks: HQ and Branch."),
		text(tableCardJSON),
	}}
	tools := merakiDispatcher()
	bus := events.New()
	sub := bus.Subscribe(32)
	defer bus.Unsubscribe(sub)

	st := NewExecutionState("q1", "s1", "list my networks", nil)
	var observed int
	err := newTestEngine(t, mock, tools, bus).Run(context.Background(), st, func(got *ExecutionState) {
		if got != st {
			t.Error("observer received a different state")
		}
		observed++
	})
	if err != nil {
		t.Fatal(err)
	}

	if st.Stage != stage.Discovery || st.Decision.Method != router.MethodRule {
		t.Errorf("stage = %s method = %s", st.Stage, st.Decision.Method)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "getOrganizationNetworks" {
		t.Errorf("tool calls = %v", tools.calls)
	}
	if st.Narrative != "You have 2 networks: HQ and Branch." {
		t.Errorf("narrative = %q", st.Narrative)
	}
	if len(st.Cards) != 1 || st.Cards[0].Type != cards.DataTable {
		t.Errorf("cards = %+v", st.Cards)
	}
	if len(st.Tables) != 1 || len(st.Tables[0].Rows) != 2 {
		t.Errorf("tables = %+v", st.Tables)
	}

	wantKinds := []EventKind{EventStageStarted, EventToolStarted, EventToolFinished, EventText, EventCardsReady}
	if len(st.Events) != len(wantKinds) {
		t.Fatalf("events = %+v", st.Events)
	}
	for i, k := range wantKinds {
		if st.Events[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, st.Events[i].Kind, k)
		}
	}
	// One notification per event plus one for the tables.
	if observed != len(wantKinds)+1 {
		t.Errorf("observer calls = %d, want %d", observed, len(wantKinds)+1)
	}

	kinds := map[string]int{}
	for done := false; !done; {
		select {
		case ev := <-sub:
			kinds[ev.Kind]++
		default:
			done = true
		}
	}
	for _, k := range []string{events.KindRouteDecision, events.KindToolCall, events.KindToolDone, events.KindCardsReady} {
		if kinds[k] != 1 {
			t.Errorf("bus %s events = %d, want 1", k, kinds[k])
		}
	}
}

func TestGraph_FollowUpSkipsSpecialist(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{text(tableCardJSON)}}
	tools := merakiDispatcher()
	st := NewExecutionState("q2", "s1", "put that in a card", nil)
	st.PriorNarrative = "You have 2 networks."

	if err := newTestEngine(t, mock, tools, nil).Run(context.Background(), st, nil); err != nil {
		t.Fatal(err)
	}
	if st.Stage != stage.Synthesis || !st.FollowUp || !st.GenerateCards {
		t.Errorf("stage = %s followUp = %v cards = %v", st.Stage, st.FollowUp, st.GenerateCards)
	}
	if len(tools.calls) != 0 || len(st.ToolResults) != 0 {
		t.Errorf("follow-up executed tools: %v", tools.calls)
	}
	if mock.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", mock.callCount())
	}
	if len(st.Cards) != 1 {
		t.Errorf("cards = %d", len(st.Cards))
	}
	if st.Narrative != "" {
		t.Errorf("follow-up narrative = %q", st.Narrative)
	}
	if got := st.Reply(); got != "Presented 1 card(s): Networks" {
		t.Errorf("reply = %q", got)
	}
}

func TestGraph_FollowUpOnFreshSessionIsAnswered(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCall("c1", "getOrganizationNetworks", nil),
		text("You have 2 networks."),
		text(tableCardJSON),
	}}
	tools := merakiDispatcher()
	st := NewExecutionState("q3", "fresh", "put the previous results on the canvas", nil)

	if err := newTestEngine(t, mock, tools, nil).Run(context.Background(), st, nil); err != nil {
		t.Fatal(err)
	}
	if st.Stage != stage.Discovery || st.FollowUp || !st.GenerateCards {
		t.Errorf("stage = %s followUp = %v cards = %v", st.Stage, st.FollowUp, st.GenerateCards)
	}
	if len(tools.calls) != 1 || st.Narrative != "You have 2 networks." {
		t.Errorf("calls = %v narrative = %q", tools.calls, st.Narrative)
	}
	if len(st.Cards) != 1 {
		t.Errorf("cards = %d", len(st.Cards))
	}
}

func TestGraph_ConversationalQueryHasNoCards(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{text("Hello! Ask me about your network.")}}
	st := NewExecutionState("q3", "s1", "hello there", nil)

	if err := newTestEngine(t, mock, merakiDispatcher(), nil).Run(context.Background(), st, nil); err != nil {
		t.Fatal(err)
	}
	if st.Decision.Method != router.MethodFallback || st.Stage != stage.Discovery {
		t.Errorf("decision = %+v", st.Decision)
	}
	if mock.callCount() != 1 || len(st.Cards) != 0 {
		t.Errorf("model calls = %d cards = %d", mock.callCount(), len(st.Cards))
	}
	if st.Reply() != "Hello! Ask me about your network." {
		t.Errorf("reply = %q", st.Reply())
	}
}

func TestGraph_Failures(t *testing.T) {
	routeErr := errors.New("classifier down")
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name       string
		ctx        context.Context
		classifier Classifier
		wantErr    error
	}{
		{"router error", context.Background(), fixedClassifier{err: routeErr}, routeErr},
		{"unknown stage", context.Background(), fixedClassifier{decision: &router.Decision{Stage: "billing"}}, stage.ErrUnknownStage},
		{"cancelled before start", cancelled, fixedClassifier{decision: &router.Decision{Stage: stage.Discovery}}, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &recordingNode{}
			synth := &recordingNode{}
			nodes := map[stage.Stage]Node{}
			for _, s := range stage.Specialists() {
				nodes[s] = spec
			}
			g, err := NewGraph(GraphConfig{Router: tt.classifier, Specialists: nodes, Synthesis: synth})
			if err != nil {
				t.Fatal(err)
			}
			st := NewExecutionState("q", "s", "anything", nil)
			if err := g.Run(tt.ctx, st, nil); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if spec.runs != 0 || synth.runs != 0 {
				t.Errorf("nodes ran after failure: specialist=%d synthesis=%d", spec.runs, synth.runs)
			}
		})
	}
}

func TestGraph_SynthesisStageSkipsSpecialists(t *testing.T) {
	spec, synth := &recordingNode{}, &recordingNode{}
	nodes := map[stage.Stage]Node{}
	for _, s := range stage.Specialists() {
		nodes[s] = spec
	}
	g, err := NewGraph(GraphConfig{
		Router:      fixedClassifier{decision: &router.Decision{Stage: stage.Synthesis, Method: router.MethodFollowUp, GenerateCards: true}},
		Specialists: nodes,
		Synthesis:   synth,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Run(context.Background(), NewExecutionState("q", "s", "chart that", nil), nil); err != nil {
		t.Fatal(err)
	}
	if spec.runs != 0 || synth.runs != 1 {
		t.Errorf("specialist=%d synthesis=%d", spec.runs, synth.runs)
	}
}

func TestNewGraph_RequiresEverySpecialist(t *testing.T) {
	_, err := NewGraph(GraphConfig{
		Router:      fixedClassifier{},
		Specialists: map[stage.Stage]Node{stage.Discovery: &recordingNode{}},
		Synthesis:   &recordingNode{},
	})
	if err == nil {
		t.Fatal("expected error for missing specialist nodes")
	}
}

func TestExecutionState_Reply(t *testing.T) {
	st := NewExecutionState("q", "s", "x", nil)
	if st.Reply() == "" {
		t.Error("reply must never be empty")
	}
	st.Cards = []cards.Card{cards.NewTextReport("A", cards.SourceMeraki, "a"), cards.NewTextReport("B", cards.SourceMeraki, "b")}
	if got := st.Reply(); got != "Presented 2 card(s): A; B" {
		t.Errorf("reply = %q", got)
	}
	st.Narrative = "narrative"
	if st.Reply() != "narrative" {
		t.Errorf("reply = %q", st.Reply())
	}
}
