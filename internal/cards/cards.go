// Package cards defines the presentation directives ("cards") rendered on
// the frontend canvas, and the parser that turns model output into them.
package cards

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Type names one of the card shapes the canvas can render.
type Type string

const (
	DataTable     Type = "data_table"
	BarChart      Type = "bar_chart"
	LineChart     Type = "line_chart"
	AlertSummary  Type = "alert_summary"
	TextReport    Type = "text_report"
	NetworkHealth Type = "network_health"
)

// Types returns every card type in prompt order.
func Types() []Type {
	return []Type{DataTable, BarChart, LineChart, AlertSummary, TextReport, NetworkHealth}
}

// Valid reports whether t is a known card type.
func (t Type) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Purpose returns the one-line usage hint shown to the model.
func (t Type) Purpose() string {
	switch t {
	case DataTable:
		return "For tabular data"
	case BarChart:
		return "For categorical comparisons"
	case LineChart:
		return "For time-series data"
	case AlertSummary:
		return "For alerts and events"
	case TextReport:
		return "For analysis narratives"
	case NetworkHealth:
		return "For metric tiles"
	}
	return ""
}

// Source tags.
const (
	SourceMeraki       = "meraki"
	SourceThousandEyes = "thousandeyes"
)

// Dark-theme palette offered to the model for chart series.
const (
	ColorBlue   = "#3b82f6"
	ColorGreen  = "#10b981"
	ColorAmber  = "#f59e0b"
	ColorRed    = "#ef4444"
	ColorPurple = "#8b5cf6"
)

// Card is one presentation directive. Data holds the typed payload for
// Type (one of the *Payload structs below). Cards are immutable once
// returned by Parse.
type Card struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Data   any    `json:"data"`
}

// DataTablePayload is the data of a data_table card.
type DataTablePayload struct {
	Columns []string   `json:"columns" mapstructure:"columns"`
	Rows    [][]string `json:"rows" mapstructure:"rows"`
}

// ChartDataset is one series of a bar or line chart.
type ChartDataset struct {
	Label string    `json:"label" mapstructure:"label"`
	Data  []float64 `json:"data" mapstructure:"data"`
	Color string    `json:"color" mapstructure:"color" jsonschema:"example=#3b82f6"`
}

// ChartPayload is the data of bar_chart and line_chart cards.
type ChartPayload struct {
	Labels   []string       `json:"labels" mapstructure:"labels"`
	Datasets []ChartDataset `json:"datasets" mapstructure:"datasets"`
}

// Alert is one entry of an alert_summary card.
type Alert struct {
	Severity    string `json:"severity" mapstructure:"severity" jsonschema:"enum=critical,enum=high,enum=medium,enum=low,enum=info"`
	Title       string `json:"title" mapstructure:"title"`
	Description string `json:"description" mapstructure:"description"`
	Timestamp   string `json:"timestamp,omitempty" mapstructure:"timestamp"`
}

// AlertSummaryPayload is the data of an alert_summary card.
type AlertSummaryPayload struct {
	Alerts []Alert `json:"alerts" mapstructure:"alerts"`
}

// TextReportPayload is the data of a text_report card. Content is markdown.
type TextReportPayload struct {
	Content string `json:"content" mapstructure:"content"`
}

// HealthMetric is one tile of a network_health card.
type HealthMetric struct {
	Label  string `json:"label" mapstructure:"label"`
	Value  string `json:"value" mapstructure:"value"`
	Status string `json:"status" mapstructure:"status" jsonschema:"enum=healthy,enum=warning,enum=critical"`
	Icon   string `json:"icon,omitempty" mapstructure:"icon" jsonschema:"enum=wifi,enum=server,enum=shield,enum=globe"`
}

// NetworkHealthPayload is the data of a network_health card.
type NetworkHealthPayload struct {
	Metrics []HealthMetric `json:"metrics" mapstructure:"metrics"`
}

// newPayload returns a pointer to the zero payload for t.
func newPayload(t Type) any {
	switch t {
	case DataTable:
		return &DataTablePayload{}
	case BarChart, LineChart:
		return &ChartPayload{}
	case AlertSummary:
		return &AlertSummaryPayload{}
	case TextReport:
		return &TextReportPayload{}
	case NetworkHealth:
		return &NetworkHealthPayload{}
	}
	return nil
}

// NewID returns a fresh card identifier.
func NewID() string {
	return "card-" + uuid.NewString()
}

// NewTextReport builds a text_report card with a fresh ID.
func NewTextReport(title, source, content string) Card {
	return Card{
		ID:     NewID(),
		Type:   TextReport,
		Title:  title,
		Source: source,
		Data:   TextReportPayload{Content: content},
	}
}

// decodePayload converts a loosely typed model payload into the typed
// payload for t. Numbers in table cells and strings in chart series are
// coerced.
func decodePayload(t Type, raw any) (any, error) {
	out := newPayload(t)
	if out == nil {
		return nil, fmt.Errorf("unknown card type %q", t)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	switch p := out.(type) {
	case *DataTablePayload:
		if len(p.Columns) == 0 {
			return nil, fmt.Errorf("%s payload has no columns", t)
		}
		return *p, nil
	case *ChartPayload:
		if len(p.Datasets) == 0 {
			return nil, fmt.Errorf("%s payload has no datasets", t)
		}
		return *p, nil
	case *AlertSummaryPayload:
		return *p, nil
	case *TextReportPayload:
		return *p, nil
	case *NetworkHealthPayload:
		return *p, nil
	}
	return nil, fmt.Errorf("unknown card type %q", t)
}

// Titles returns the titles of cs in order.
func Titles(cs []Card) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Title)
	}
	return out
}
