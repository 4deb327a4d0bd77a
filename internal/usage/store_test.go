package usage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/robbarto2/AgenticOps/internal/config"
	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecord_And_Summary(t *testing.T) {
	s := NewStore(nil, 0)
	now := time.Now()

	s.Record(Record{Timestamp: now, Model: "claude-opus-4-20250514", InputTokens: 1000, OutputTokens: 500})
	s.Record(Record{Timestamp: now, Model: "claude-sonnet-4-20250514", InputTokens: 2000, OutputTokens: 1000})

	sum := s.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3000 || sum.TotalOutputTokens != 1500 {
		t.Errorf("tokens = %d/%d, want 3000/1500", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
	// 1000/1M*15 + 500/1M*75 + 2000/1M*3 + 1000/1M*15
	if !approx(sum.TotalCostUSD, 0.0525+0.021) {
		t.Errorf("TotalCostUSD = %f, want %f", sum.TotalCostUSD, 0.0735)
	}
}

func TestSummary_TimeRange(t *testing.T) {
	s := NewStore(nil, 0)
	now := time.Now()
	s.Record(Record{Timestamp: now.Add(-2 * time.Hour), Model: "claude-sonnet-4-20250514", InputTokens: 100})
	s.Record(Record{Timestamp: now, Model: "claude-sonnet-4-20250514", InputTokens: 200})

	sum := s.Summary(now.Add(-time.Hour), now.Add(time.Minute))
	if sum.TotalRecords != 1 || sum.TotalInputTokens != 200 {
		t.Errorf("windowed summary = %+v", sum)
	}
	if total := s.Total(); total.TotalRecords != 2 || total.TotalInputTokens != 300 {
		t.Errorf("Total = %+v", total)
	}
}

func TestSummaryByModel(t *testing.T) {
	s := NewStore(nil, 0)
	now := time.Now()
	for range 3 {
		s.Record(Record{Timestamp: now, Model: "claude-sonnet-4-20250514", InputTokens: 10, OutputTokens: 1})
	}
	s.Record(Record{Timestamp: now, Model: "llama3.2", InputTokens: 50})

	by := s.SummaryByModel(now.Add(-time.Minute), now.Add(time.Minute))
	if len(by) != 2 {
		t.Fatalf("models = %d, want 2", len(by))
	}
	if got := by["claude-sonnet-4-20250514"]; got.TotalRecords != 3 || got.TotalInputTokens != 30 {
		t.Errorf("sonnet = %+v", got)
	}
	if got := by["llama3.2"]; got.TotalCostUSD != 0 {
		t.Errorf("unpriced model cost = %f, want 0", got.TotalCostUSD)
	}
}

func TestStore_BoundedWindow(t *testing.T) {
	s := NewStore(nil, 3)
	for i := range 5 {
		s.Record(Record{Model: "m", InputTokens: i})
	}
	recent := s.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("kept %d records, want 3", len(recent))
	}
	if recent[0].InputTokens != 4 || recent[2].InputTokens != 2 {
		t.Errorf("recent order = %+v", recent)
	}
	if s.Total().TotalRecords != 5 {
		t.Errorf("Total must count dropped records, got %d", s.Total().TotalRecords)
	}
	if got := s.Recent(1); len(got) != 1 || got[0].InputTokens != 4 {
		t.Errorf("Recent(1) = %+v", got)
	}
}

func TestComputeCost(t *testing.T) {
	pricing := map[string]config.PricingEntry{
		"claude-opus-4-20250514": {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	}
	tests := []struct {
		name  string
		model string
		in    int
		out   int
		want  float64
	}{
		{"priced", "claude-opus-4-20250514", 1_000_000, 1_000_000, 90},
		{"zero tokens", "claude-opus-4-20250514", 0, 0, 0},
		{"unknown model", "qwen2.5", 1_000_000, 1_000_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeCost(tt.model, tt.in, tt.out, pricing); !approx(got, tt.want) {
				t.Errorf("ComputeCost = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNewStore_PricingOverrides(t *testing.T) {
	s := NewStore(map[string]config.PricingEntry{
		"claude-sonnet-4-20250514": {InputPerMillion: 1, OutputPerMillion: 1},
		"local-model":              {InputPerMillion: 0.1},
	}, 0)
	rec := s.Record(Record{Model: "claude-sonnet-4-20250514", InputTokens: 1_000_000})
	if !approx(rec.CostUSD, 1) {
		t.Errorf("override cost = %f, want 1", rec.CostUSD)
	}
	if rec.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
	found := false
	for _, m := range s.Models() {
		found = found || m == "local-model"
	}
	if !found {
		t.Errorf("Models() = %v, missing override", s.Models())
	}
}

type fakeLLM struct {
	resp *llm.ChatResponse
	err  error
}

func (f *fakeLLM) Chat(context.Context, llm.Request) (*llm.ChatResponse, error) {
	return f.resp, f.err
}

func (f *fakeLLM) Ping(context.Context) error { return f.err }

func TestClient_RecordsAndPublishes(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	store := NewStore(nil, 0)
	c := Wrap(&fakeLLM{resp: &llm.ChatResponse{InputTokens: 1000, OutputTokens: 100}}, store, bus)

	if _, err := c.Chat(context.Background(), llm.Request{Model: "claude-sonnet-4-20250514"}); err != nil {
		t.Fatal(err)
	}
	total := store.Total()
	if total.TotalRecords != 1 || total.TotalInputTokens != 1000 {
		t.Errorf("Total = %+v", total)
	}
	if got := store.Recent(1)[0].Model; got != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q, want request model when response omits it", got)
	}

	select {
	case ev := <-sub:
		if ev.Kind != events.KindModelCall || ev.Source != events.SourceLLM {
			t.Errorf("event = %s/%s", ev.Source, ev.Kind)
		}
		if ev.Data["input_tokens"] != 1000 {
			t.Errorf("input_tokens = %v", ev.Data["input_tokens"])
		}
	default:
		t.Fatal("no model_call event")
	}
}

func TestClient_ErrorNotRecorded(t *testing.T) {
	store := NewStore(nil, 0)
	boom := errors.New("529 overloaded")
	c := Wrap(&fakeLLM{err: boom}, store, nil)

	if _, err := c.Chat(context.Background(), llm.Request{Model: "m"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Ping err = %v", err)
	}
	if n := store.Total().TotalRecords; n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}
