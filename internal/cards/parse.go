package cards

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// FallbackTitle is the title of the text report produced when model
// output cannot be turned into cards.
const FallbackTitle = "Analysis Results"

// rawCard is a card as the model wrote it.
type rawCard struct {
	Type   string `mapstructure:"type"`
	Title  string `mapstructure:"title"`
	Source string `mapstructure:"source"`
	Data   any    `mapstructure:"data"`
}

// Parser turns model output into cards. The zero value is usable.
type Parser struct {
	Logger *slog.Logger
}

// Parse never fails and never returns an empty slice. Output that is
// not a JSON array or object becomes a single text report holding the
// text itself. Individual cards with an unknown type or an unusable
// payload are dropped; when nothing usable remains the result is a
// single text report holding fallback (or the text, if fallback is
// empty). Every returned card has a fresh ID.
func (p Parser) Parse(text, fallback string) []Card {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	body := StripFence(text)
	if fallback == "" {
		fallback = body
	}

	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		logger.Warn("failed to parse card JSON from model output", "error", err, "length", len(body))
		return []Card{NewTextReport(FallbackTitle, SourceMeraki, body)}
	}

	var items []any
	switch v := decoded.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		logger.Warn("card output is neither array nor object", "kind", jsonKind(decoded))
		return []Card{NewTextReport(FallbackTitle, SourceMeraki, body)}
	}

	out := make([]Card, 0, len(items))
	for i, item := range items {
		c, err := normalize(item)
		if err != nil {
			logger.Warn("dropping invalid card", "index", i, "error", err)
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return []Card{NewTextReport(FallbackTitle, SourceMeraki, fallback)}
	}
	return out
}

func normalize(item any) (Card, error) {
	var rc rawCard
	if err := mapstructure.Decode(item, &rc); err != nil {
		return Card{}, err
	}
	t := Type(strings.TrimSpace(rc.Type))
	data, err := decodePayload(t, rc.Data)
	if err != nil {
		return Card{}, err
	}
	title := strings.TrimSpace(rc.Title)
	if title == "" {
		title = FallbackTitle
	}
	return Card{
		ID:     NewID(),
		Type:   t,
		Title:  title,
		Source: normalizeSource(rc.Source),
		Data:   data,
	}, nil
}

func normalizeSource(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SourceThousandEyes:
		return SourceThousandEyes
	default:
		return SourceMeraki
	}
}

// StripFence removes one surrounding markdown code fence, with or
// without a language tag.
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	}
	return "unknown"
}
