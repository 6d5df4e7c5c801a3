// Package types defines the shared types used across all Notelith packages.
//
// These types form the lingua franca between providers, the data graph, the
// tool router, and the orchestrator. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Name is an optional participant name (for multi-speaker contexts).
	Name string `json:"name,omitempty"`

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Reasoning holds accumulated reasoning tokens for assistant messages, when
	// the model exposes them. Never sent back to providers.
	Reasoning string `json:"-"`

	// Timestamp is when this message was recorded.
	Timestamp time.Time `json:"-"`
}

// MarshalJSON implements the wire rule for assistant tool-call messages:
// when ToolCalls is non-empty, Content is serialized as an explicit null
// rather than an empty string. Several chat-completion APIs reject the
// empty-string form.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role       string     `json:"role"`
		Content    *string    `json:"content"`
		Name       string     `json:"name,omitempty"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
	}
	a := alias{
		Role:       m.Role,
		Name:       m.Name,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) == 0 {
		content := m.Content
		a.Content = &content
	}
	return json.Marshal(a)
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call. Provider-assigned, or
	// synthesized by the stream adapter when the provider omits one.
	ID string `json:"id"`

	// Name is the tool/function name.
	Name string `json:"name"`

	// Arguments is the raw JSON-encoded arguments string as emitted by the
	// model. It may be malformed; callers repair it before execution.
	Arguments string `json:"arguments"`
}

// PermissionLevel orders the access levels a tool may require on a resource.
type PermissionLevel string

const (
	// PermissionRead allows inspecting a resource.
	PermissionRead PermissionLevel = "read"

	// PermissionWrite allows creating and mutating a resource.
	PermissionWrite PermissionLevel = "write"

	// PermissionOwner allows destructive operations (delete, share).
	PermissionOwner PermissionLevel = "owner"
)

// IsValid reports whether l is one of the known permission levels.
func (l PermissionLevel) IsValid() bool {
	switch l {
	case PermissionRead, PermissionWrite, PermissionOwner:
		return true
	}
	return false
}

// Covers reports whether holding level l satisfies a requirement of level req.
// Levels are strictly ordered: owner > write > read.
func (l PermissionLevel) Covers(req PermissionLevel) bool {
	return l.rank() >= req.rank()
}

func (l PermissionLevel) rank() int {
	switch l {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionOwner:
		return 3
	default:
		return 0
	}
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// Permission is the minimum access level the calling user must hold on
	// the referenced resource for this tool to execute.
	Permission PermissionLevel
}

// ToolResult is the normalized outcome of a single tool execution.
// Every execution produces exactly one ToolResult, success or failure.
type ToolResult struct {
	// Success reports whether the handler completed without error.
	Success bool `json:"success"`

	// Data holds the handler's structured output on success.
	Data any `json:"data,omitempty"`

	// Error is a stable machine-readable failure code on failure
	// (e.g. "permission_denied", "unknown_tool").
	Error string `json:"error,omitempty"`

	// HumanMessage is a short model-facing explanation of the outcome, phrased
	// so the model can relay or recover from it.
	HumanMessage string `json:"message,omitempty"`
}

// Encode serializes the result exactly once into the wire string stored as a
// tool message's content. Results must never be double-encoded; history
// holds the string form and providers receive it verbatim.
func (r ToolResult) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("types: encode tool result: %w", err)
	}
	return string(b), nil
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool

	// SupportsReasoning indicates the model emits a reasoning side-channel
	// alongside regular content deltas.
	SupportsReasoning bool
}
