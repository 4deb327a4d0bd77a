package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robbarto2/AgenticOps/internal/events"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestObserve(t *testing.T) {
	c := New(nil)
	for _, ev := range []events.Event{
		{Kind: events.KindQueryStart},
		{Kind: events.KindRouteDecision, Data: map[string]any{"stage": "discovery", "method": "rule"}},
		{Kind: events.KindToolDone, Data: map[string]any{"source": "meraki", "ok": true, "duration_ms": int64(120)}},
		{Kind: events.KindToolDone, Data: map[string]any{"source": "thousandeyes", "ok": false, "duration_ms": int64(30)}},
		{Kind: events.KindCardsReady, Data: map[string]any{"count": 3}},
		{Kind: events.KindQueryComplete, Data: map[string]any{"stage": "discovery", "elapsed_ms": int64(2500)}},
		{Kind: events.KindQueryStart},
		{Kind: events.KindQueryStart},
		{Kind: events.KindQueryCancelled, Data: map[string]any{"stage": "", "elapsed_ms": int64(10)}},
		{Kind: events.KindDependencyDown, Data: map[string]any{"name": "thousandeyes", "kind": "mcp"}},
		{Kind: events.KindModelCall, Data: map[string]any{"model": "claude-sonnet-4-20250514", "input_tokens": 1200, "output_tokens": 80, "cost_usd": 0.5}},
	} {
		c.Observe(ev)
	}

	out := scrape(t, c)
	for _, want := range []string{
		`agenticops_active_queries 1`,
		`agenticops_route_decisions_total{method="rule",stage="discovery"} 1`,
		`agenticops_tool_calls_total{outcome="ok",source="meraki"} 1`,
		`agenticops_tool_calls_total{outcome="error",source="thousandeyes"} 1`,
		`agenticops_cards_total 3`,
		`agenticops_queries_total{outcome="complete",stage="discovery"} 1`,
		`agenticops_queries_total{outcome="cancelled",stage="none"} 1`,
		`agenticops_query_duration_seconds_count{outcome="complete"} 1`,
		`agenticops_dependency_up{kind="mcp",name="thousandeyes"} 0`,
		`agenticops_model_tokens_total{direction="input",model="claude-sonnet-4-20250514"} 1200`,
		`agenticops_model_tokens_total{direction="output",model="claude-sonnet-4-20250514"} 80`,
		`agenticops_model_cost_usd_total{model="claude-sonnet-4-20250514"} 0.5`,
		`go_goroutines`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRun_ConsumesBus(t *testing.T) {
	c := New(nil)
	bus := events.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Emit(events.SourceRouter, events.KindRouteDecision, map[string]any{"stage": "security", "method": "model"})

	want := `agenticops_route_decisions_total{method="model",stage="security"} 1`
	for !strings.Contains(scrape(t, c), want) {
		if time.Now().After(deadline) {
			t.Fatalf("route decision never recorded")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if bus.SubscriberCount() != 0 {
		t.Error("Run must unsubscribe on exit")
	}
}
