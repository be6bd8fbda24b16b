package models

import "encoding/json"

// MCPToolContent is one content item of a tool result.
type MCPToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPToolResult represents the result of a tool call.
type MCPToolResult struct {
	Content []MCPToolContent `json:"content"`
	IsError bool             `json:"isError"`
}

// TextResult wraps text in a single-item tool result.
func TextResult(text string, isError bool) *MCPToolResult {
	return &MCPToolResult{
		Content: []MCPToolContent{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// ToolCallParams are the params of a "tools/call" request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}
