// Package mcp exposes editor operations as MCP tools over the JSON-RPC
// dispatch layer: session initialization (capability negotiation), tool
// listing (static schemas), and tool invocation.
package mcp

import "encoding/json"

// ProtocolVersion is the MCP protocol revision this server implements.
const ProtocolVersion = "2024-11-05"

// InitializeResult is the response to the initialize method.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities advertises what this server supports.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// ToolsCapability holds the tool-related capability flags.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the server to the client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResult is the response to tools/list.
type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolDefinition is one entry in the static tool schema array.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the JSON schema describing a tool's arguments object.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument in an input schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolCallParams are the params of a tools/call request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the content a tool returns on success.
type ToolResult struct {
	Content []ContentItem `json:"content"`
}

// ContentItem is one element of a tool result's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent builds a single-item text content array.
func TextContent(text string) *ToolResult {
	return &ToolResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// TextPair builds the two-entry text content array used by blocking tools
// that report a tag followed by a value.
func TextPair(tag, value string) *ToolResult {
	return &ToolResult{Content: []ContentItem{
		{Type: "text", Text: tag},
		{Type: "text", Text: value},
	}}
}

// JSONContent marshals v and wraps it in a single text content item. Tools
// that return structured data (selections, editor lists, diagnostics) ship
// it as JSON text, which is how the client expects to receive it.
func JSONContent(v any) (*ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return TextContent(string(data)), nil
}
