// Package llm talks to the reasoning models behind the router, the
// specialist stages, and synthesis.
package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged entry of a conversation. Assistant messages
// may carry tool calls; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the later tool result with this call.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StringArguments flattens the call's arguments to strings, the form
// tool servers accept. Non-string values are JSON encoded.
func (tc ToolCall) StringArguments() map[string]string {
	out := make(map[string]string, len(tc.Arguments))
	for k, v := range tc.Arguments {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				b = []byte(fmt.Sprintf("%v", val))
			}
			out[k] = string(b)
		}
	}
	return out
}

// Tool is a tool definition bound to a request.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the tool's input.
	Parameters map[string]any
}

// Request is one model round trip.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// ChatResponse is the provider-neutral response of one round trip.
type ChatResponse struct {
	Model        string
	Message      Message
	StopReason   string
	InputTokens  int
	OutputTokens int
}
