package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robbarto2/AgenticOps/internal/agent"
	"github.com/robbarto2/AgenticOps/internal/cards"
	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/router"
	"github.com/robbarto2/AgenticOps/internal/session"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// recorder is a Sink that keeps every frame.
type recorder struct {
	mu     sync.Mutex
	frames []Frame
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) Send(f Frame) error {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recorder) snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func (r *recorder) types() []string {
	var out []string
	for _, f := range r.snapshot() {
		out = append(out, f.Type)
	}
	return out
}

// waitFor blocks until n frames have been recorded.
func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(r.snapshot()) < n {
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %v", n, r.types())
		}
	}
}

type engineFunc func(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error

func (f engineFunc) Run(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
	return f(ctx, st, observe)
}

type outcomes struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (o *outcomes) RecordOutcome(id string, _ int64, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = map[string]bool{}
	}
	o.seen[id] = ok
}

// scriptedRun plays a discovery query: one tool call, a narrative, a
// table, and one card.
func scriptedRun(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
	st.Decision = &router.Decision{RequestID: st.QueryID, Stage: stage.Discovery}
	st.Stage = stage.Discovery
	st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventStageStarted, Stage: stage.Discovery})
	observe(st)
	st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventToolStarted, Tool: "getOrganizationNetworks", Source: "meraki"})
	observe(st)
	st.ToolResults = append(st.ToolResults, agent.ToolInvocation{Tool: "getOrganizationNetworks", Source: "meraki", Result: "[]"})
	st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventToolFinished, Tool: "getOrganizationNetworks", Source: "meraki"})
	observe(st)
	st.Narrative = "You have one network."
	st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventText, Text: st.Narrative})
	observe(st)
	st.Tables = append(st.Tables, agent.TableData{TableID: "tbl-1", EntityType: "network", Source: "meraki"})
	observe(st)
	st.Cards = append(st.Cards, cards.NewTextReport("Networks", cards.SourceMeraki, "HQ"))
	st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventCardsReady, Count: 1})
	observe(st)
	// Re-observing must not resend anything.
	observe(st)
	return nil
}

func blockingRun(started chan<- struct{}) engineFunc {
	return func(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
		st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventStageStarted, Stage: stage.Troubleshooting})
		observe(st)
		close(started)
		<-ctx.Done()
		// A late observation after cancellation must be dropped.
		st.Narrative = "partial"
		st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventText, Text: "partial"})
		observe(st)
		return ctx.Err()
	}
}

func TestController_Success(t *testing.T) {
	store := session.NewStore()
	out := &outcomes{}
	bus := events.New()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	rec := newRecorder()
	c := NewController(Config{Engine: engineFunc(scriptedRun), Sessions: store, Outcomes: out, Bus: bus}, rec)
	id := c.Submit(context.Background(), "", "list my networks")
	c.Wait()

	want := []string{TypeAgentStart, TypeAgentStart, TypeToolCall, TypeToolCall, TypeText, TypeTableData, TypeCard, TypeDone}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}

	frames := rec.snapshot()
	if a := frames[0].Data.(AgentStart); a.Agent != "router" {
		t.Errorf("first agent_start = %q", a.Agent)
	}
	if a := frames[1].Data.(AgentStart); a.Agent != "discovery" {
		t.Errorf("second agent_start = %q", a.Agent)
	}
	if tc := frames[2].Data.(ToolCall); tc.Status != StatusRunning || tc.Source != "meraki" {
		t.Errorf("tool_call = %+v", tc)
	}
	if tc := frames[3].Data.(ToolCall); tc.Status != StatusComplete {
		t.Errorf("tool_call = %+v", tc)
	}
	if frames[7].Data != nil {
		t.Errorf("done data = %v, want null", frames[7].Data)
	}

	msgs := store.Messages(DefaultSessionID)
	if len(msgs) != 2 || msgs[0].Content != "list my networks" || msgs[1].Content != "You have one network." {
		t.Errorf("history = %+v", msgs)
	}
	if cs := store.Cards(DefaultSessionID); len(cs) != 1 {
		t.Errorf("session cards = %d", len(cs))
	}
	if ok, seen := out.seen[id]; !seen || !ok {
		t.Errorf("outcome for %s = %v (seen %v)", id, ok, seen)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s", c.State())
	}

	var kinds []string
	for done := false; !done; {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
		default:
			done = true
		}
	}
	if len(kinds) != 2 || kinds[0] != events.KindQueryStart || kinds[1] != events.KindQueryComplete {
		t.Errorf("bus events = %v", kinds)
	}
}

func TestController_FailureIsGeneric(t *testing.T) {
	store := session.NewStore()
	out := &outcomes{}
	rec := newRecorder()
	engine := engineFunc(func(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
		st.Decision = &router.Decision{RequestID: st.QueryID}
		st.Events = append(st.Events, agent.ProgressEvent{Kind: agent.EventStageStarted, Stage: stage.Security})
		observe(st)
		return errors.New("anthropic: 529 overloaded_error")
	})
	c := NewController(Config{Engine: engine, Sessions: store, Outcomes: out}, rec)
	id := c.Submit(context.Background(), "s1", "check firewall")
	c.Wait()

	frames := rec.snapshot()
	got := rec.types()
	want := []string{TypeAgentStart, TypeAgentStart, TypeError, TypeDone}
	if len(got) != len(want) {
		t.Fatalf("frames = %v", got)
	}
	if e := frames[2].Data.(ErrorData); e.Message != GenericErrorMessage {
		t.Errorf("error message = %q", e.Message)
	}
	if frames[3].Data != nil {
		t.Errorf("done after error must be null, got %v", frames[3].Data)
	}
	if msgs := store.Messages("s1"); len(msgs) != 0 {
		t.Errorf("failed query recorded history: %+v", msgs)
	}
	if ok := out.seen[id]; ok {
		t.Error("failed query recorded as success")
	}
}

func TestController_Stop(t *testing.T) {
	store := session.NewStore()
	rec := newRecorder()
	started := make(chan struct{})
	c := NewController(Config{Engine: blockingRun(started), Sessions: store}, rec)

	if c.Stop() {
		t.Error("Stop on an idle controller reported a running query")
	}
	c.Submit(context.Background(), "s1", "wifi is slow")
	<-started
	if c.State() != StateRunning {
		t.Errorf("state = %s, want running", c.State())
	}
	if !c.Stop() {
		t.Error("Stop did not find the running query")
	}
	c.Wait()

	frames := rec.snapshot()
	last := frames[len(frames)-1]
	if last.Type != TypeDone {
		t.Fatalf("last frame = %s", last.Type)
	}
	if s, ok := last.Data.(Stopped); !ok || !s.Stopped || s.Reason != ReasonUser {
		t.Errorf("done data = %#v", last.Data)
	}
	for _, f := range frames {
		if f.Type == TypeText {
			t.Error("text forwarded after cancellation")
		}
	}
	if msgs := store.Messages("s1"); len(msgs) != 0 {
		t.Errorf("stopped query recorded history: %+v", msgs)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s", c.State())
	}
}

func TestController_SupersedeCancelsPrevious(t *testing.T) {
	store := session.NewStore()
	rec := newRecorder()
	started := make(chan struct{})
	var calls int
	engine := engineFunc(func(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
		calls++
		if calls == 1 {
			return blockingRun(started)(ctx, st, observe)
		}
		return scriptedRun(ctx, st, observe)
	})
	c := NewController(Config{Engine: engine, Sessions: store}, rec)

	c.Submit(context.Background(), "s1", "wifi is slow")
	<-started
	c.Submit(context.Background(), "s1", "list my networks")
	c.Wait()

	frames := rec.snapshot()
	var dones []Frame
	firstDone := -1
	for i, f := range frames {
		if f.Type == TypeDone {
			dones = append(dones, f)
			if firstDone < 0 {
				firstDone = i
			}
		}
	}
	if len(dones) != 2 {
		t.Fatalf("done frames = %d, want one per query: %v", len(dones), rec.types())
	}
	if s, ok := dones[0].Data.(Stopped); !ok || s.Reason != ReasonSuperseded {
		t.Errorf("first done = %#v", dones[0].Data)
	}
	if dones[1].Data != nil {
		t.Errorf("second done = %#v", dones[1].Data)
	}
	// The superseded query finishes before the new one starts.
	if next := frames[firstDone+1]; next.Type != TypeAgentStart || next.Data.(AgentStart).Agent != "router" {
		t.Errorf("frame after first done = %+v", next)
	}

	msgs := store.Messages("s1")
	if len(msgs) != 2 || msgs[0].Content != "list my networks" {
		t.Errorf("history = %+v", msgs)
	}
}

func TestController_CloseSendsNothing(t *testing.T) {
	rec := newRecorder()
	started := make(chan struct{})
	c := NewController(Config{Engine: blockingRun(started), Sessions: session.NewStore()}, rec)
	c.Submit(context.Background(), "", "wifi is slow")
	<-started
	before := len(rec.snapshot())
	c.Close()
	if after := len(rec.snapshot()); after != before {
		t.Errorf("frames after Close: %v", rec.types()[before:])
	}
}

func TestController_SeedsHistoryAndFollowUp(t *testing.T) {
	store := session.NewStore()
	store.AppendTurn("s1", "first question", "first answer")
	store.AppendTurn("s1", "list my networks", "You have 2 networks.")
	store.AddCards("s1", cards.NewTextReport("Networks", cards.SourceMeraki, "x"))

	var seen *agent.ExecutionState
	engine := engineFunc(func(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
		seen = st
		return nil
	})
	c := NewController(Config{Engine: engine, Sessions: store, HistoryTurns: 1}, newRecorder())
	c.Submit(context.Background(), "s1", "put that in a card")
	c.Wait()

	if len(seen.History) != 2 || seen.History[0].Content != "list my networks" || seen.History[1].Role != "assistant" {
		t.Errorf("history = %+v", seen.History)
	}
	if seen.PriorNarrative != "You have 2 networks." {
		t.Errorf("prior narrative = %q", seen.PriorNarrative)
	}
	if len(seen.PriorCardTitles) != 1 || seen.PriorCardTitles[0] != "Networks" {
		t.Errorf("prior titles = %v", seen.PriorCardTitles)
	}
	if seen.SessionID != "s1" || seen.Query != "put that in a card" {
		t.Errorf("state = %+v", seen)
	}
}

func TestController_HistoryKeepsWholeTurns(t *testing.T) {
	tests := []struct {
		name  string
		turns int
		seed  func(s *session.Store)
		want  []string
	}{
		{
			name:  "fewer turns than the limit",
			turns: 3,
			seed: func(s *session.Store) {
				s.AppendTurn("s1", "q1", "a1")
				s.AppendTurn("s1", "q2", "a2")
			},
			want: []string{"q1", "a1", "q2", "a2"},
		},
		{
			name:  "trimmed to the last turns",
			turns: 3,
			seed: func(s *session.Store) {
				for _, q := range []string{"q1", "q2", "q3", "q4"} {
					s.AppendTurn("s1", q, "a"+q[1:])
				}
			},
			want: []string{"q2", "a2", "q3", "a3", "q4", "a4"},
		},
		{
			name:  "dangling answer dropped",
			turns: 2,
			seed: func(s *session.Store) {
				s.AddMessage("s1", session.RoleAssistant, "welcome")
				s.AppendTurn("s1", "q1", "a1")
			},
			want: []string{"q1", "a1"},
		},
		{
			name:  "unlimited",
			turns: 0,
			seed: func(s *session.Store) {
				s.AddMessage("s1", session.RoleAssistant, "welcome")
				s.AppendTurn("s1", "q1", "a1")
			},
			want: []string{"q1", "a1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore()
			tt.seed(store)

			var seen *agent.ExecutionState
			engine := engineFunc(func(ctx context.Context, st *agent.ExecutionState, observe agent.Observer) error {
				seen = st
				return nil
			})
			c := NewController(Config{Engine: engine, Sessions: store, HistoryTurns: tt.turns}, newRecorder())
			c.Submit(context.Background(), "s1", "next")
			c.Wait()

			var got []string
			for _, m := range seen.History {
				got = append(got, m.Content)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("history = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("history = %v, want %v", got, tt.want)
				}
			}
			if seen.History[0].Role != "user" {
				t.Errorf("history opens with %q", seen.History[0].Role)
			}
		})
	}
}

func TestFrameJSON(t *testing.T) {
	tests := []struct {
		frame Frame
		want  string
	}{
		{doneFrame(), `{"type":"done","data":null}`},
		{stoppedFrame(ReasonUser), `{"type":"done","data":{"stopped":true,"reason":"user"}}`},
		{errorFrame("Invalid JSON"), `{"type":"error","data":{"message":"Invalid JSON"}}`},
		{Frame{Type: TypeText, Data: "hi"}, `{"type":"text","data":"hi"}`},
		{Frame{Type: TypeToolCall, Data: ToolCall{Tool: "t", Source: "meraki", Status: StatusRunning}}, `{"type":"tool_call","data":{"tool":"t","source":"meraki","status":"running"}}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.frame)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.want {
			t.Errorf("got %s, want %s", b, tt.want)
		}
	}
}

func TestEventFrame_CardsReadyNotForwarded(t *testing.T) {
	if _, ok := eventFrame(agent.ProgressEvent{Kind: agent.EventCardsReady, Count: 2}); ok {
		t.Error("cards_ready must not have a wire frame")
	}
}
