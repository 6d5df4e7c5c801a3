package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessageMarshalJSON(t *testing.T) {
	tests := []struct {
		name        string
		msg         Message
		wantContent string // raw JSON fragment expected for the content key
	}{
		{
			name:        "plain user message keeps content string",
			msg:         Message{Role: "user", Content: "hello"},
			wantContent: `"content":"hello"`,
		},
		{
			name:        "empty content still serialized as empty string",
			msg:         Message{Role: "assistant", Content: ""},
			wantContent: `"content":""`,
		},
		{
			name: "assistant with tool calls emits null content",
			msg: Message{
				Role: "assistant",
				ToolCalls: []ToolCall{
					{ID: "call_0_1", Name: "get_note", Arguments: `{"ref":"inbox"}`},
				},
			},
			wantContent: `"content":null`,
		},
		{
			name: "tool calls win even when content is set",
			msg: Message{
				Role:    "assistant",
				Content: "leftover",
				ToolCalls: []ToolCall{
					{ID: "call_0_1", Name: "get_note", Arguments: `{}`},
				},
			},
			wantContent: `"content":null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if !strings.Contains(string(b), tt.wantContent) {
				t.Errorf("Marshal() = %s, want fragment %s", b, tt.wantContent)
			}
		})
	}
}

func TestMessageMarshalJSONRoundTrip(t *testing.T) {
	msg := Message{
		Role: "assistant",
		ToolCalls: []ToolCall{
			{ID: "call_1_99", Name: "search_notes", Arguments: `{"query":"go"}`},
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v, ok := decoded["content"]; !ok || v != nil {
		t.Errorf("content = %v, want explicit null", v)
	}
	calls, ok := decoded["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("tool_calls = %v, want one entry", decoded["tool_calls"])
	}
}

func TestToolResultEncode(t *testing.T) {
	res := ToolResult{
		Success:      true,
		Data:         map[string]any{"id": "n-42", "title": "Groceries"},
		HumanMessage: "Note created.",
	}
	s, err := res.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// Encoding must be single-pass: the wire string decodes straight back
	// into the result shape, with no nested string-wrapped JSON.
	var decoded ToolResult
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("Unmarshal(Encode()) error = %v", err)
	}
	if !decoded.Success {
		t.Error("decoded.Success = false, want true")
	}
	data, ok := decoded.Data.(map[string]any)
	if !ok {
		t.Fatalf("decoded.Data = %T, want map", decoded.Data)
	}
	if data["id"] != "n-42" {
		t.Errorf("decoded data id = %v, want n-42", data["id"])
	}
}

func TestPermissionLevelCovers(t *testing.T) {
	tests := []struct {
		held, req PermissionLevel
		want      bool
	}{
		{PermissionRead, PermissionRead, true},
		{PermissionRead, PermissionWrite, false},
		{PermissionWrite, PermissionRead, true},
		{PermissionWrite, PermissionOwner, false},
		{PermissionOwner, PermissionWrite, true},
		{PermissionOwner, PermissionOwner, true},
		{PermissionLevel("bogus"), PermissionRead, false},
	}
	for _, tt := range tests {
		if got := tt.held.Covers(tt.req); got != tt.want {
			t.Errorf("%s.Covers(%s) = %v, want %v", tt.held, tt.req, got, tt.want)
		}
	}
}

func TestPermissionLevelIsValid(t *testing.T) {
	for _, l := range []PermissionLevel{PermissionRead, PermissionWrite, PermissionOwner} {
		if !l.IsValid() {
			t.Errorf("%s.IsValid() = false, want true", l)
		}
	}
	if PermissionLevel("admin").IsValid() {
		t.Error(`PermissionLevel("admin").IsValid() = true, want false`)
	}
}
