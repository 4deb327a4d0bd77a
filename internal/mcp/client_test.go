package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockTransport answers each method with a canned response.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response
	calls     map[string]func(params any) *Response
	sent      []Request
	notifs    []Notification
	closed    bool
	sendErr   error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
		calls:     make(map[string]func(params any) *Response),
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = &Response{JSONRPC: jsonrpcVersion, Result: json.RawMessage(data)}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = &Response{JSONRPC: jsonrpcVersion, Error: &RPCError{Code: code, Message: msg}}
}

func (m *mockTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.sent = append(m.sent, *req)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	var resp *Response
	if fn, ok := m.calls[req.Method]; ok {
		resp = fn(req.Params)
	} else if r, ok := m.responses[req.Method]; ok {
		resp = r
	} else {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func initializedMock() *mockTransport {
	mt := newMockTransport()
	mt.addResponse("initialize", initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: "meraki-mcp", Version: "1.0.0"},
	})
	return mt
}

func TestClient_Initialize(t *testing.T) {
	mt := initializedMock()
	client := NewClient("meraki", mt, nil)
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if len(mt.sent) != 1 || mt.sent[0].Method != "initialize" {
		t.Fatalf("sent = %+v, want one initialize", mt.sent)
	}
	if len(mt.notifs) != 1 || mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notifications = %+v", mt.notifs)
	}
	if !client.Initialized() || client.serverName != "meraki-mcp" {
		t.Errorf("client state not recorded: initialized=%v server=%q", client.Initialized(), client.serverName)
	}
}

func TestClient_ListTools_FollowsCursor(t *testing.T) {
	mt := initializedMock()
	page := 0
	mt.calls["tools/list"] = func(params any) *Response {
		page++
		result := toolsListResult{Tools: []ToolDefinition{{Name: "getOrganizations"}}, NextCursor: "p2"}
		if page == 2 {
			if p, ok := params.(map[string]any); !ok || p["cursor"] != "p2" {
				t.Errorf("second page params = %v", params)
			}
			result = toolsListResult{Tools: []ToolDefinition{{Name: "getOrganizationNetworks"}}}
		}
		data, _ := json.Marshal(result)
		return &Response{Result: data}
	}

	client := NewClient("meraki", mt, nil)
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 || tools[1].Name != "getOrganizationNetworks" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestClient_CallTool(t *testing.T) {
	tests := []struct {
		name    string
		result  callToolResult
		want    string
		wantErr bool
	}{
		{
			name:   "text",
			result: callToolResult{Content: []ContentBlock{{Type: "text", Text: `[{"id":"N_1"}]`}}},
			want:   `[{"id":"N_1"}]`,
		},
		{
			name: "mixed blocks",
			result: callToolResult{Content: []ContentBlock{
				{Type: "text", Text: "line 1"},
				{Type: "image"},
				{Type: "text", Text: "line 2"},
			}},
			want: "line 1\n[image]\nline 2",
		},
		{
			name:    "isError",
			result:  callToolResult{Content: []ContentBlock{{Type: "text", Text: "404 Not Found"}}, IsError: true},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := newMockTransport()
			mt.addResponse("tools/call", tt.result)
			got, err := NewClient("meraki", mt, nil).CallTool(context.Background(), "getOrganizationNetworks", nil)
			if tt.wantErr {
				var te *ToolError
				if !errors.As(err, &te) || te.Message != "404 Not Found" {
					t.Fatalf("err = %v, want *ToolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_CallTool_RPCError(t *testing.T) {
	mt := newMockTransport()
	mt.addError("tools/call", -32601, "Method not found")

	_, err := NewClient("meraki", mt, nil).CallTool(context.Background(), "nope", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("err = %v, want *RPCError -32601", err)
	}
}

func TestClient_Close(t *testing.T) {
	mt := newMockTransport()
	client := NewClient("meraki", mt, nil)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mt.closed {
		t.Error("transport was not closed")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		blocks []ContentBlock
		want   string
	}{
		{[]ContentBlock{{Type: "text", Text: "a"}, {Type: "text", Text: "b"}}, "a\nb"},
		{[]ContentBlock{{Type: "resource"}}, "[resource]"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := extractText(tt.blocks); got != tt.want {
			t.Errorf("extractText(%v) = %q, want %q", tt.blocks, got, tt.want)
		}
	}
}
