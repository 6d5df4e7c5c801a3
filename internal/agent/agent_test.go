package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/notelith/notelith/internal/agent"
	"github.com/notelith/notelith/internal/chat"
	"github.com/notelith/notelith/internal/config"
	"github.com/notelith/notelith/internal/tools"
	"github.com/notelith/notelith/pkg/types"
)

func toolDefinition(name string) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        name,
		Description: "test tool " + name,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func newTestRegistry(t *testing.T, names ...string) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, name := range names {
		err := reg.Register(tools.Tool{
			Definition: toolDefinition(name),
			Handler: func(ctx context.Context, call tools.Call) (any, error) {
				return nil, errors.New("not called in this test")
			},
		})
		if err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	return reg
}

func agentConfig(name string, toolNames ...string) config.AgentConfig {
	return config.AgentConfig{
		Name:         name,
		SystemPrompt: "You are a note-keeping assistant.",
		Temperature:  0.7,
		MaxTokens:    2048,
		Tools:        toolNames,
		HistoryLimit: 40,
	}
}

func TestLoader_ResolvesAgents(t *testing.T) {
	reg := newTestRegistry(t, "get_note", "search_notes", "create_note")
	loader := agent.NewLoader(reg)

	set, err := loader.Load([]config.AgentConfig{
		agentConfig("librarian", "search_notes", "get_note"),
		agentConfig("scribe"),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 agents, got %d", set.Len())
	}

	librarian, ok := set.Get("librarian")
	if !ok {
		t.Fatal("librarian not found")
	}
	if len(librarian.Tools) != 2 {
		t.Fatalf("expected 2 tool definitions, got %d", len(librarian.Tools))
	}
	// Definitions come back sorted by name regardless of config order.
	if librarian.Tools[0].Name != "get_note" || librarian.Tools[1].Name != "search_notes" {
		t.Errorf("unexpected tool order: %q, %q", librarian.Tools[0].Name, librarian.Tools[1].Name)
	}
	if librarian.Truncation != chat.KeepLatest {
		t.Errorf("expected default truncation keep_latest, got %q", librarian.Truncation)
	}

	scribe, ok := set.Get("scribe")
	if !ok {
		t.Fatal("scribe not found")
	}
	if scribe.Tools != nil {
		t.Errorf("agent without tools should have a nil definition set, got %d entries", len(scribe.Tools))
	}

	got := set.Names()
	want := []string{"librarian", "scribe"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestLoader_UnknownToolFailsLoad(t *testing.T) {
	reg := newTestRegistry(t, "get_note")
	loader := agent.NewLoader(reg)

	_, err := loader.Load([]config.AgentConfig{
		agentConfig("librarian", "get_note", "launch_rockets"),
	})
	if err == nil {
		t.Fatal("expected error for unknown tool name")
	}
}

func TestLoader_DuplicateNameFailsLoad(t *testing.T) {
	reg := newTestRegistry(t)
	loader := agent.NewLoader(reg)

	_, err := loader.Load([]config.AgentConfig{
		agentConfig("twin"),
		agentConfig("twin"),
	})
	if err == nil {
		t.Fatal("expected error for duplicate agent name")
	}
}

func TestLoader_InvalidTruncationFailsLoad(t *testing.T) {
	reg := newTestRegistry(t)
	loader := agent.NewLoader(reg)

	cfg := agentConfig("librarian")
	cfg.Truncation = config.TruncationStrategy("keep_everything")

	_, err := loader.Load([]config.AgentConfig{cfg})
	if err == nil {
		t.Fatal("expected error for invalid truncation strategy")
	}
}

func TestAgent_TurnConfig(t *testing.T) {
	reg := newTestRegistry(t, "search_notes")
	loader := agent.NewLoader(reg)

	cfg := agentConfig("librarian", "search_notes")
	cfg.TopP = 0.9
	cfg.Truncation = config.TruncateKeepMiddle

	set, err := loader.Load([]config.AgentConfig{cfg})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, _ := set.Get("librarian")

	tc := a.TurnConfig("session-1", "alice")
	if tc.SessionID != "session-1" || tc.UserID != "alice" {
		t.Errorf("identity not bound: session=%q user=%q", tc.SessionID, tc.UserID)
	}
	if tc.SystemPrompt != cfg.SystemPrompt {
		t.Error("system prompt not carried over")
	}
	if tc.Temperature != 0.7 || tc.TopP != 0.9 || tc.MaxTokens != 2048 {
		t.Errorf("sampling settings not carried over: %+v", tc)
	}
	if tc.HistoryLimit != 40 {
		t.Errorf("history limit = %d, want 40", tc.HistoryLimit)
	}
	if tc.TruncationStrategy != chat.KeepMiddle {
		t.Errorf("truncation = %q, want keep_middle", tc.TruncationStrategy)
	}
	if len(tc.Tools) != 1 || tc.Tools[0].Name != "search_notes" {
		t.Errorf("tools not resolved: %+v", tc.Tools)
	}
}
