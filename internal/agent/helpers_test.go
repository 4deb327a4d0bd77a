package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/robbarto2/AgenticOps/internal/llm"
	"github.com/robbarto2/AgenticOps/internal/mcp"
	"github.com/robbarto2/AgenticOps/internal/stage"
)

// mockLLM returns scripted responses in order. Once the script runs out
// it repeats the last response.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	calls     []llm.Request
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant}}, nil
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func text(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}
}

func toolCall(id, name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}},
	}}
}

// fakeDispatcher serves a fixed catalog. Every tool is visible to every
// stage unless restricted is set.
type fakeDispatcher struct {
	tools      []mcp.ToolDescriptor
	results    map[string]mcp.Result
	restricted map[stage.Stage][]string
	calls      []string
	lookups    []string
	args       []map[string]string
}

func (f *fakeDispatcher) ListTools(s stage.Stage) []mcp.ToolDescriptor {
	if f.restricted == nil {
		return f.tools
	}
	var out []mcp.ToolDescriptor
	for _, t := range f.tools {
		for _, name := range f.restricted[s] {
			if t.Name == name {
				out = append(out, t)
			}
		}
	}
	return out
}

func (f *fakeDispatcher) Lookup(s stage.Stage, name string) (mcp.ToolDescriptor, error) {
	f.lookups = append(f.lookups, name)
	for _, t := range f.ListTools(s) {
		if t.Name == name {
			return t, nil
		}
	}
	return mcp.ToolDescriptor{}, fmt.Errorf("%w: %s", mcp.ErrToolNotFound, name)
}

func (f *fakeDispatcher) Call(ctx context.Context, name string, args map[string]string) (mcp.Result, error) {
	if err := ctx.Err(); err != nil {
		return mcp.Result{}, err
	}
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return mcp.Result{Tool: name, Error: fmt.Sprintf("Unknown tool: %s", name)}, nil
}

const networksJSON = `[
  {"id":"N_1","name":"HQ","productTypes":["appliance","wireless"],"timeZone":"America/Chicago","tags":["prod"],"notes":"main office"},
  {"id":"N_2","name":"Branch","productTypes":["switch"],"timeZone":"","tags":"retail, east","notes":""}
]`

func merakiDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		tools: []mcp.ToolDescriptor{
			{Name: "getOrganizationNetworks", Description: "List networks", Source: "meraki"},
			{Name: "getNetworkEvents", Description: "List events", Source: "meraki"},
			{Name: "list_alerts", Description: "List alerts", Source: "thousandeyes"},
		},
		results: map[string]mcp.Result{
			"getOrganizationNetworks": {Tool: "getOrganizationNetworks", Source: "meraki", Content: networksJSON},
			"getNetworkEvents":        {Tool: "getNetworkEvents", Source: "meraki", Error: "Tool call failed: 429 Too Many Requests"},
			"list_alerts":             {Tool: "list_alerts", Source: "thousandeyes", Content: `[]`},
		},
	}
}
