package graph

import (
	"errors"
	"testing"

	"github.com/notelith/notelith/pkg/types"
)

func TestValidateBatch(t *testing.T) {
	call := func(id string) types.ToolCall {
		return types.ToolCall{ID: id, Name: "get_note", Arguments: "{}"}
	}

	tests := []struct {
		name    string
		msgs    []types.Message
		wantErr bool
	}{
		{
			name: "plain exchange",
			msgs: []types.Message{
				{Role: "user", Content: "hi"},
				{Role: "assistant", Content: "hello"},
			},
		},
		{
			name: "full tool round",
			msgs: []types.Message{
				{Role: "user", Content: "show my note"},
				{Role: "assistant", ToolCalls: []types.ToolCall{call("c1"), call("c2")}},
				{Role: "tool", Name: "get_note", ToolCallID: "c1", Content: `{"success":true}`},
				{Role: "tool", Name: "get_note", ToolCallID: "c2", Content: `{"success":true}`},
				{Role: "assistant", Content: "here it is"},
			},
		},
		{
			name: "unanswered tool call",
			msgs: []types.Message{
				{Role: "assistant", ToolCalls: []types.ToolCall{call("c1")}},
			},
			wantErr: true,
		},
		{
			name: "orphan tool response",
			msgs: []types.Message{
				{Role: "user", Content: "hi"},
				{Role: "tool", ToolCallID: "c1", Content: "{}"},
			},
			wantErr: true,
		},
		{
			name: "response out of order",
			msgs: []types.Message{
				{Role: "assistant", ToolCalls: []types.ToolCall{call("c1"), call("c2")}},
				{Role: "tool", ToolCallID: "c2", Content: "{}"},
				{Role: "tool", ToolCallID: "c1", Content: "{}"},
			},
			wantErr: true,
		},
		{
			name: "text message interrupts pending calls",
			msgs: []types.Message{
				{Role: "assistant", ToolCalls: []types.ToolCall{call("c1")}},
				{Role: "assistant", Content: "never mind"},
				{Role: "tool", Name: "get_note", ToolCallID: "c1", Content: "{}"},
			},
			wantErr: true,
		},
		{
			name: "tool response without a tool name",
			msgs: []types.Message{
				{Role: "assistant", ToolCalls: []types.ToolCall{call("c1")}},
				{Role: "tool", ToolCallID: "c1", Content: "{}"},
			},
			wantErr: true,
		},
		{
			name: "empty batch",
			msgs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatch(tt.msgs)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSequence) {
					t.Fatalf("ValidateBatch() error = %v, want ErrInvalidSequence", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateBatch() error = %v", err)
			}
		})
	}
}

func TestAlignWindow(t *testing.T) {
	msgs := []types.Message{
		{Role: "tool", Name: "get_note", ToolCallID: "c1", Content: "{}"},
		{Role: "tool", Name: "get_note", ToolCallID: "c2", Content: "{}"},
		{Role: "assistant", Content: "here it is"},
		{Role: "user", Content: "thanks"},
	}

	aligned := AlignWindow(msgs)
	if len(aligned) != 2 {
		t.Fatalf("len(aligned) = %d, want 2", len(aligned))
	}
	if aligned[0].Role != "assistant" {
		t.Errorf("aligned[0].Role = %q, want %q", aligned[0].Role, "assistant")
	}

	// A window that already starts on a plain message passes through intact.
	clean := []types.Message{{Role: "user", Content: "hi"}}
	if got := AlignWindow(clean); len(got) != 1 {
		t.Errorf("len(AlignWindow(clean)) = %d, want 1", len(got))
	}

	if got := AlignWindow(nil); len(got) != 0 {
		t.Errorf("len(AlignWindow(nil)) = %d, want 0", len(got))
	}
}
