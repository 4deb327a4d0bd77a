// Package mcp is the tool dispatcher: a Model Context Protocol client
// for the Meraki and ThousandEyes tool servers, plus a Manager that
// merges their catalogs and restricts them per pipeline stage.
//
// MCP uses JSON-RPC 2.0 over two transports: stdio (subprocess) and
// streamable HTTP. Tools are discovered via tools/list and invoked via
// tools/call. Only the client side of the protocol is implemented.
package mcp
