package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// errorResult creates an MCP error result.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}

// textResult creates a plain MCP text result.
func textResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
	}
}

// prettyJSON re-encodes a payload with two-space indentation, preserving
// non-ASCII and HTML characters. Payloads that are not valid JSON are
// returned as-is.
func prettyJSON(payload []byte) string {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return string(payload)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return string(payload)
	}
	// Encoder appends a trailing newline.
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
