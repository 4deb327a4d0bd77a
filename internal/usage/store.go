// Package usage tracks token usage and cost of model calls for the
// lifetime of the process. Records are append-only and kept in a
// bounded window; totals since start are never dropped.
package usage

import (
	"sort"
	"sync"
	"time"

	"github.com/robbarto2/AgenticOps/internal/config"
)

// DefaultMaxRecords bounds the record window.
const DefaultMaxRecords = 10000

// Record is one model round trip.
type Record struct {
	Timestamp    time.Time `json:"ts"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// Summary holds aggregated token usage and cost totals.
type Summary struct {
	TotalRecords      int     `json:"records"`
	TotalInputTokens  int64   `json:"input_tokens"`
	TotalOutputTokens int64   `json:"output_tokens"`
	TotalCostUSD      float64 `json:"cost_usd"`
}

func (s *Summary) add(r Record) {
	s.TotalRecords++
	s.TotalInputTokens += int64(r.InputTokens)
	s.TotalOutputTokens += int64(r.OutputTokens)
	s.TotalCostUSD += r.CostUSD
}

// DefaultPricing returns list prices for the Anthropic models the
// engine is usually run with. Models not in the table cost nothing.
func DefaultPricing() map[string]config.PricingEntry {
	return map[string]config.PricingEntry{
		"claude-opus-4-20250514":     {InputPerMillion: 15.0, OutputPerMillion: 75.0},
		"claude-sonnet-4-20250514":   {InputPerMillion: 3.0, OutputPerMillion: 15.0},
		"claude-3-5-haiku-20241022":  {InputPerMillion: 0.8, OutputPerMillion: 4.0},
		"claude-3-7-sonnet-20250219": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	}
}

// Store accumulates usage records. All methods are safe for concurrent use.
type Store struct {
	pricing map[string]config.PricingEntry
	max     int

	mu      sync.RWMutex
	records []Record
	total   Summary
}

// NewStore creates a store. overrides replace or extend DefaultPricing;
// maxRecords <= 0 means DefaultMaxRecords.
func NewStore(overrides map[string]config.PricingEntry, maxRecords int) *Store {
	pricing := DefaultPricing()
	for model, p := range overrides {
		pricing[model] = p
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Store{pricing: pricing, max: maxRecords}
}

// Record prices and stores rec. A zero timestamp means now. The stored
// record is returned.
func (s *Store) Record(rec Record) Record {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.CostUSD = ComputeCost(rec.Model, rec.InputTokens, rec.OutputTokens, s.pricing)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.max {
		// Drop the oldest in one step instead of shifting per record.
		n := len(s.records) - s.max
		s.records = append([]Record(nil), s.records[n:]...)
	}
	s.total.add(rec)
	return rec
}

// Total returns the totals since the store was created.
func (s *Store) Total() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Summary returns totals for windowed records within [start, end).
func (s *Store) Summary(start, end time.Time) Summary {
	var sum Summary
	s.each(start, end, func(r Record) { sum.add(r) })
	return sum
}

// SummaryByModel returns per-model totals for windowed records within
// [start, end).
func (s *Store) SummaryByModel(start, end time.Time) map[string]*Summary {
	out := make(map[string]*Summary)
	s.each(start, end, func(r Record) {
		sum, ok := out[r.Model]
		if !ok {
			sum = &Summary{}
			out[r.Model] = sum
		}
		sum.add(r)
	})
	return out
}

// Recent returns up to limit of the newest records, newest first.
func (s *Store) Recent(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out
}

// Models returns the priced model names, sorted.
func (s *Store) Models() []string {
	names := make([]string, 0, len(s.pricing))
	for m := range s.pricing {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

func (s *Store) each(start, end time.Time, fn func(Record)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			fn(r)
		}
	}
}

// ComputeCost calculates the USD cost for a model's token usage based
// on the pricing table. Models not in the table are treated as free
// (local/Ollama models).
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
