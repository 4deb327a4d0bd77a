// Package router classifies operator queries and picks the specialist
// stage that handles them.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/prompts"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// Request is one query to classify.
type Request struct {
	ID    string // query id; generated when empty
	Query string

	// HasPrior reports that the session holds an earlier answer. A
	// follow-up phrasing without one is routed like a fresh query.
	HasPrior bool
}

// Method records how a decision was reached.
type Method string

const (
	MethodFollowUp Method = "follow_up" // re-render earlier results
	MethodRule     Method = "rule"      // fast-route rule matched
	MethodModel    Method = "model"     // model picked a valid stage
	MethodFallback Method = "fallback"  // model answer invalid, defaulted
)

// Rule is one fast-route rule. Rules are evaluated in order and the
// first match wins.
type Rule struct {
	Name    string
	Stage   stage.Stage
	Pattern *regexp.Regexp
}

var (
	followUpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(put|show|display|render|turn|make|convert|present)\s+(that|this|those|these|it|them|the)(\s+(previous|last|above|same))?(\s+(results?|data|answer|output|analysis|info(rmation)?))?\s+(in|into|as|on)\s+(a\s+|an\s+|the\s+)?(cards?|charts?|graphs?|tables?|canvas)\b`),
		regexp.MustCompile(`(?i)^\s*(visuali[sz]e|chart|graph|plot|tabulate)\s+(that|this|those|these|it|them)\b`),
		regexp.MustCompile(`(?i)\b(can|could)\s+you\s+(card|chart|graph)\s+(that|this|it)\b`),
	}

	cardIntentPattern = regexp.MustCompile(`(?i)\b(cards?|charts?|graphs?|tables?|plot|visuali[sz]\w*|dashboard|canvas|bar\s+chart|line\s+chart)\b`)
)

// DefaultRules returns the built-in fast-route rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "troubleshooting_keywords",
			Stage: stage.Troubleshooting,
			Pattern: regexp.MustCompile(`(?i)\b(wi-?fi|wireless|slow\w*|latency|laggy|lag|packet\s+loss|loss|jitter|disconnect\w*|dropp?\w*|not\s+working|broken|down|outage|offline|troubleshoot\w*|diagnos\w*|uplink\w*|wan|performance|connectivity|can'?t\s+connect|unreachable|roaming|interference)\b`),
		},
		{
			Name:  "security_keywords",
			Stage: stage.Security,
			Pattern: regexp.MustCompile(`(?i)\b(firewall\w*|security|secure|threats?|malware|ids|ips|intrusion|acls?|content\s+filter\w*|vulnerab\w*|attacks?|exploit\w*|posture|breach\w*|amp)\b`),
		},
		{
			Name:  "compliance_keywords",
			Stage: stage.Compliance,
			Pattern: regexp.MustCompile(`(?i)\b(complian\w*|audit\w*|best\s+practices?|polic(y|ies)|vlans?|switch\s*ports?|ssid\s+settings|misconfig\w*|standards?|firmware\s+(versions?|consistency))\b`),
		},
		{
			Name:  "discovery_keywords",
			Stage: stage.Discovery,
			Pattern: regexp.MustCompile(`(?i)\b(list|show|inventory|devices?|networks?|topology|organi[sz]ations?|orgs?|licen[cs]\w*|overview|status|health|clients?|access\s+points?|aps|switches|appliances|agents?|tests?)\b`),
		},
	}
}

// Decision records why a stage was selected.
type Decision struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Input analysis
	Query         string `json:"query"`
	QueryLength   int    `json:"query_length"`
	GenerateCards bool   `json:"generate_cards"`

	// Decision process
	RulesEvaluated []string `json:"rules_evaluated"`
	RulesMatched   []string `json:"rules_matched"`
	ModelSelected  string   `json:"model_selected,omitempty"`
	ModelAnswer    string   `json:"model_answer,omitempty"`

	// Outcome
	Stage     stage.Stage `json:"stage"`
	Method    Method      `json:"method"`
	Reasoning string      `json:"reasoning"`

	// Post-execution (filled in later)
	LatencyMs int64 `json:"latency_ms,omitempty"`
	Success   *bool `json:"success,omitempty"`
}

// Config holds router configuration.
type Config struct {
	Client      llm.Client // used only when no rule matches
	Model       string     // classifier model
	Rules       []Rule     // defaults to DefaultRules()
	MaxAuditLog int        // how many decisions to keep in memory
	Bus         *events.Bus
}

// Router classifies queries.
type Router struct {
	logger *slog.Logger
	config Config

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	StageCounts   map[string]int64 `json:"stage_counts"`
	MethodCounts  map[string]int64 `json:"method_counts"`
	ModelCalls    int64            `json:"model_calls"`
	AvgLatencyMs  map[string]int64 `json:"avg_latency_ms"`
}

// NewRouter creates a router with the given configuration.
func NewRouter(logger *slog.Logger, config Config) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	if config.Rules == nil {
		config.Rules = DefaultRules()
	}
	return &Router{
		logger:   logger.With("component", "router"),
		config:   config,
		auditLog: make([]Decision, 0, config.MaxAuditLog),
		stats: Stats{
			StageCounts:  make(map[string]int64),
			MethodCounts: make(map[string]int64),
			AvgLatencyMs: make(map[string]int64),
		},
	}
}

// IsFollowUp reports whether query asks to re-render earlier results.
func IsFollowUp(query string) bool {
	for _, p := range followUpPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// WantsCards reports whether query explicitly asks for visual output.
func WantsCards(query string) bool {
	return cardIntentPattern.MatchString(query)
}

// Route classifies req. Follow-up requests on a session with an earlier
// answer resolve to the synthesis stage with cards forced on. Otherwise the first matching rule wins,
// and only when no rule matches is the model consulted; an answer
// outside the four specialists resolves to discovery. The only error
// returned is from the model call.
func (r *Router) Route(ctx context.Context, req Request) (*Decision, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	d := &Decision{
		RequestID:   req.ID,
		Timestamp:   time.Now(),
		Query:       truncate(req.Query, 200),
		QueryLength: len(req.Query),
	}

	d.RulesEvaluated = append(d.RulesEvaluated, "follow_up")
	followUp := IsFollowUp(req.Query)
	if followUp && !req.HasPrior {
		r.logger.Debug("follow-up phrasing with nothing to re-render", "request_id", req.ID)
	}
	if followUp && req.HasPrior {
		d.RulesMatched = append(d.RulesMatched, "follow_up")
		d.Stage = stage.Synthesis
		d.Method = MethodFollowUp
		d.GenerateCards = true
		d.Reasoning = "Follow-up request to re-render earlier results as cards."
		r.finish(d)
		return d, nil
	}

	d.RulesEvaluated = append(d.RulesEvaluated, "card_intent")
	if WantsCards(req.Query) {
		d.RulesMatched = append(d.RulesMatched, "card_intent")
		d.GenerateCards = true
	}

	for _, rule := range r.config.Rules {
		d.RulesEvaluated = append(d.RulesEvaluated, rule.Name)
		if rule.Pattern.MatchString(req.Query) {
			d.RulesMatched = append(d.RulesMatched, rule.Name)
			d.Stage = rule.Stage
			d.Method = MethodRule
			d.Reasoning = fmt.Sprintf("Matched rule %s.", rule.Name)
			r.finish(d)
			return d, nil
		}
	}

	if err := r.classify(ctx, req.Query, d); err != nil {
		return nil, err
	}
	r.finish(d)
	return d, nil
}

// classify asks the model for a stage name.
func (r *Router) classify(ctx context.Context, query string, d *Decision) error {
	if r.config.Client == nil {
		d.Stage = stage.Discovery
		d.Method = MethodFallback
		d.Reasoning = "No rule matched and no classifier model is configured; defaulting to discovery."
		return nil
	}

	d.ModelSelected = r.config.Model
	r.mu.Lock()
	r.stats.ModelCalls++
	r.mu.Unlock()

	resp, err := r.config.Client.Chat(ctx, llm.Request{
		Model:     r.config.Model,
		System:    prompts.ClassifierPrompt(),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: query}},
		MaxTokens: 50,
	})
	if err != nil {
		return fmt.Errorf("classify query: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Message.Content))
	d.ModelAnswer = truncate(answer, 100)
	if s, err := stage.Parse(answer); err == nil {
		d.Stage = s
		d.Method = MethodModel
		d.Reasoning = "Classified by model."
		return nil
	}

	r.logger.Warn("classifier returned invalid agent, defaulting to discovery",
		"request_id", d.RequestID, "answer", d.ModelAnswer)
	d.Stage = stage.Discovery
	d.Method = MethodFallback
	d.Reasoning = fmt.Sprintf("Model answer %q is not a specialist; defaulting to discovery.", d.ModelAnswer)
	return nil
}

func (r *Router) finish(d *Decision) {
	r.recordDecision(*d)
	r.config.Bus.Emit(events.SourceRouter, events.KindRouteDecision, map[string]any{
		"request_id":     d.RequestID,
		"stage":          string(d.Stage),
		"method":         string(d.Method),
		"generate_cards": d.GenerateCards,
	})
	r.logger.Info("query routed",
		"request_id", d.RequestID,
		"stage", d.Stage,
		"method", d.Method,
		"generate_cards", d.GenerateCards,
		"reasoning", d.Reasoning,
	)
}

// RecordOutcome updates a decision with execution results.
func (r *Router) RecordOutcome(requestID string, latencyMs int64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			r.auditLog[i].LatencyMs = latencyMs
			r.auditLog[i].Success = &success

			s := string(r.auditLog[i].Stage)
			if prev := r.stats.AvgLatencyMs[s]; prev == 0 {
				r.stats.AvgLatencyMs[s] = latencyMs
			} else {
				r.stats.AvgLatencyMs[s] = (prev + latencyMs) / 2
			}
			break
		}
	}
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.StageCounts[string(d.Stage)]++
	r.stats.MethodCounts[string(d.Method)]++
}

// GetAuditLog returns recent routing decisions, oldest first.
func (r *Router) GetAuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}
	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns a snapshot of routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.stats
	out.StageCounts = copyCounts(r.stats.StageCounts)
	out.MethodCounts = copyCounts(r.stats.MethodCounts)
	out.AvgLatencyMs = copyCounts(r.stats.AvgLatencyMs)
	return out
}

// Explain returns the decision recorded for requestID, or nil.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
