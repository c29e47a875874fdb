// Package entity contains the domain types for the agentd daemon.
package entity

import (
	"context"
	"encoding/json"
)

// ToolDescriptor describes a registered tool as presented to clients.
// Descriptors are immutable after registration.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Tool is a single invocable tool. Implementations must be safe for
// concurrent Execute calls.
type Tool interface {
	Descriptor() ToolDescriptor
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolContent is one content block within a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the outcome of a tools/call invocation. Execution failures
// are reported in-band via IsError rather than as protocol errors.
type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// TextResult wraps plain text as a successful ToolResult.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ToolContent{{Type: "text", Text: text}}}
}

// ErrorResult wraps a failure message as an isError ToolResult.
func ErrorResult(msg string) ToolResult {
	return ToolResult{Content: []ToolContent{{Type: "text", Text: msg}}, IsError: true}
}
