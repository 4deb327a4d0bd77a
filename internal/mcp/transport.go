package mcp

import "context"

// Transport delivers JSON-RPC messages to one MCP server.
type Transport interface {
	// Send sends a JSON-RPC request and returns the matching response.
	// A cancelled ctx abandons the wait; the server may still finish
	// the call.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}
