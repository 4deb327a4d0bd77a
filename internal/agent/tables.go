package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/robbarto2/AgenticOps/internal/cards"
)

// TableData is a structured table sent alongside the narrative so the
// client can render interactive rows.
type TableData struct {
	TableID    string     `json:"table_id"`
	EntityType string     `json:"entity_type"`
	Source     string     `json:"source"`
	Columns    []string   `json:"columns"`
	Rows       []TableRow `json:"rows"`
}

// TableRow is one row of a TableData.
type TableRow struct {
	ID       string          `json:"id"`
	Cells    []string        `json:"cells"`
	Metadata NetworkMetadata `json:"metadata"`
}

// NetworkMetadata carries the hover details of a network row. Absent
// values encode as null.
type NetworkMetadata struct {
	NetworkID    string   `json:"networkId"`
	Notes        *string  `json:"notes"`
	Tags         []string `json:"tags"`
	TimeZone     *string  `json:"timeZone"`
	ProductTypes []string `json:"productTypes"`
}

var networkColumns = []string{"Name", "Product Types", "Time Zone", "Tags"}

const networksMethod = "getorganizationnetworks"

// isNetworkResult matches the organization network listing, called
// directly or through the generic API tool.
func isNetworkResult(inv ToolInvocation) bool {
	if strings.ToLower(strings.TrimSpace(inv.Tool)) == networksMethod {
		return true
	}
	return inv.Tool == "call_meraki_api" && strings.ToLower(inv.Args["method"]) == networksMethod
}

// ExtractNetworkTables builds a table for every successful network
// listing among results. Results that do not parse are skipped.
func ExtractNetworkTables(results []ToolInvocation, logger *slog.Logger) []TableData {
	if logger == nil {
		logger = slog.Default()
	}
	var tables []TableData
	for _, inv := range results {
		if inv.Error != "" || !isNetworkResult(inv) {
			continue
		}
		networks, err := decodeNetworks(inv.Result)
		if err != nil {
			logger.Warn("network table extraction failed", "tool", inv.Tool, "error", err, "length", len(inv.Result))
			continue
		}

		var rows []TableRow
		for _, n := range networks {
			if row, ok := networkRow(n); ok {
				rows = append(rows, row)
			}
		}
		if len(rows) == 0 {
			logger.Debug("no network rows extracted", "tool", inv.Tool, "networks", len(networks))
			continue
		}
		t := TableData{
			TableID:    "tbl-" + uuid.NewString(),
			EntityType: "network",
			Source:     cards.SourceMeraki,
			Columns:    networkColumns,
			Rows:       rows,
		}
		logger.Debug("network table built", "table_id", t.TableID, "rows", len(rows))
		tables = append(tables, t)
	}
	return tables
}

// decodeNetworks parses a listing, unwrapping the envelopes some tool
// servers use for large results.
func decodeNetworks(raw string) ([]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case []any:
		return val, nil
	case map[string]any:
		for _, key := range []string{"_sample", "data", "results"} {
			if list, ok := val[key].([]any); ok && len(list) > 0 {
				return list, nil
			}
		}
		return nil, fmt.Errorf("object result without a network list")
	}
	return nil, fmt.Errorf("result is not a list")
}

func networkRow(v any) (TableRow, bool) {
	n, ok := v.(map[string]any)
	if !ok {
		return TableRow{}, false
	}
	id := stringField(n, "id")
	name := stringField(n, "name")
	timeZone := stringField(n, "timeZone")
	notes := stringField(n, "notes")
	productTypes := stringList(n["productTypes"], false)
	tags := stringList(n["tags"], true)

	md := NetworkMetadata{NetworkID: id}
	if notes != "" {
		md.Notes = &notes
	}
	if timeZone != "" {
		md.TimeZone = &timeZone
	}
	if len(tags) > 0 {
		md.Tags = tags
	}
	if len(productTypes) > 0 {
		md.ProductTypes = productTypes
	}
	return TableRow{
		ID:       id,
		Cells:    []string{name, strings.Join(productTypes, ", "), timeZone, strings.Join(tags, ", ")},
		Metadata: md,
	}, true
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// stringList accepts a JSON list or a single string. With split, a
// string is treated as a comma separated list.
func stringList(v any, split bool) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
				out = append(out, s)
			}
		}
		return out
	case string:
		if !split {
			if val == "" {
				return nil
			}
			return []string{val}
		}
		var out []string
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
