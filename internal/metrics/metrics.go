// Package metrics turns operational events from the bus into Prometheus
// series.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robbarto2/AgenticOps/internal/events"
)

const namespace = "agenticops"

// Query outcomes.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Collector owns a private registry so several collectors can coexist
// in one process (tests, embedded servers).
type Collector struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	activeQueries prometheus.Gauge
	routes        *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	cards         prometheus.Counter
	dependencyUp  *prometheus.GaugeVec
	modelTokens   *prometheus.CounterVec
	modelCost     *prometheus.CounterVec
}

// New registers the AgenticOps series plus the Go runtime and process
// collectors.
func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		logger:   logger.With("component", "metrics"),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by resolved stage and outcome.",
		}, []string{"stage", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
		activeQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_queries",
			Help:      "Queries currently executing.",
		}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Router decisions by stage and method.",
		}, []string{"stage", "method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by source and outcome.",
		}, []string{"source", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
		cards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_total",
			Help:      "Cards produced by synthesis.",
		}),
		dependencyUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "1 when a watched dependency is reachable.",
		}, []string{"name", "kind"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Model tokens by model and direction (input, output).",
		}, []string{"model", "direction"}),
		modelCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_cost_usd_total",
			Help:      "Estimated model spend in USD.",
		}, []string{"model"}),
	}
	c.registry.MustRegister(
		c.queries, c.queryDuration, c.activeQueries, c.routes,
		c.toolCalls, c.toolDuration, c.cards, c.dependencyUp,
		c.modelTokens, c.modelCost,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(256)
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Observe applies one event.
func (c *Collector) Observe(ev events.Event) {
	switch ev.Kind {
	case events.KindQueryStart:
		c.activeQueries.Inc()
	case events.KindQueryComplete:
		c.finish(ev, OutcomeComplete)
	case events.KindQueryCancelled:
		c.finish(ev, OutcomeCancelled)
	case events.KindQueryFailed:
		c.finish(ev, OutcomeFailed)
	case events.KindRouteDecision:
		c.routes.WithLabelValues(str(ev.Data["stage"]), str(ev.Data["method"])).Inc()
	case events.KindToolDone:
		source := str(ev.Data["source"])
		outcome := "error"
		if ok, _ := ev.Data["ok"].(bool); ok {
			outcome = "ok"
		}
		c.toolCalls.WithLabelValues(source, outcome).Inc()
		c.toolDuration.WithLabelValues(source).Observe(millis(ev.Data["duration_ms"]).Seconds())
	case events.KindCardsReady:
		c.cards.Add(float64(num(ev.Data["count"])))
	case events.KindModelCall:
		model := str(ev.Data["model"])
		c.modelTokens.WithLabelValues(model, "input").Add(float64(num(ev.Data["input_tokens"])))
		c.modelTokens.WithLabelValues(model, "output").Add(float64(num(ev.Data["output_tokens"])))
		if cost, ok := ev.Data["cost_usd"].(float64); ok {
			c.modelCost.WithLabelValues(model).Add(cost)
		}
	case events.KindDependencyUp:
		c.dependencyUp.WithLabelValues(str(ev.Data["name"]), str(ev.Data["kind"])).Set(1)
	case events.KindDependencyDown:
		c.dependencyUp.WithLabelValues(str(ev.Data["name"]), str(ev.Data["kind"])).Set(0)
	}
}

func (c *Collector) finish(ev events.Event, outcome string) {
	c.activeQueries.Dec()
	stage := str(ev.Data["stage"])
	if stage == "" {
		stage = "none"
	}
	c.queries.WithLabelValues(stage, outcome).Inc()
	c.queryDuration.WithLabelValues(outcome).Observe(millis(ev.Data["elapsed_ms"]).Seconds())
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num accepts the integer and float types event payloads use.
func num(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func millis(v any) time.Duration {
	return time.Duration(num(v)) * time.Millisecond
}
