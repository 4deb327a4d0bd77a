package usage

import (
	"context"

	"github.com/robbarto2/AgenticOps/internal/events"
	"github.com/robbarto2/AgenticOps/internal/llm"
)

// Client records the usage of every successful Chat on the wrapped
// client and publishes it on the bus.
type Client struct {
	next  llm.Client
	store *Store
	bus   *events.Bus
}

// Wrap returns next with usage recording. bus may be nil.
func Wrap(next llm.Client, store *Store, bus *events.Bus) *Client {
	return &Client{next: next, store: store, bus: bus}
}

// Chat forwards req and records the response's token counts.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.ChatResponse, error) {
	resp, err := c.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	rec := c.store.Record(Record{
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	c.bus.Emit(events.SourceLLM, events.KindModelCall, map[string]any{
		"model":         rec.Model,
		"input_tokens":  rec.InputTokens,
		"output_tokens": rec.OutputTokens,
		"cost_usd":      rec.CostUSD,
	})
	return resp, nil
}

// Ping forwards to the wrapped client.
func (c *Client) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}
