package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/notelith/notelith/internal/config"
	"github.com/notelith/notelith/pkg/graph/memstore"
	"github.com/notelith/notelith/pkg/provider/llm"
	llmmock "github.com/notelith/notelith/pkg/provider/llm/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Agents: []config.AgentConfig{{
			Name:         "librarian",
			SystemPrompt: "You keep notes.",
			Tools:        []string{"search_notes", "get_note"},
			HistoryLimit: 50,
		}},
	}
}

func newTestApp(t *testing.T, provider llm.Provider) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(),
		WithStore(memstore.New()),
		WithLLMProvider(provider),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresProviderWithAgents(t *testing.T) {
	_, err := New(context.Background(), testConfig(), WithStore(memstore.New()))
	if err == nil {
		t.Fatal("expected error when agents are configured without a provider")
	}
}

func TestChatEndpoint(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Here you go."}, {FinishReason: "stop"}},
	}
	a := newTestApp(t, provider)

	rec := postJSON(t, a.server.Handler, "/chat",
		`{"session_id":"s1","user_id":"alice","agent":"librarian","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "Here you go." {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
}

func TestChatEndpoint_Validation(t *testing.T) {
	a := newTestApp(t, &llmmock.Provider{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing fields", `{"session_id":"s1"}`, http.StatusBadRequest},
		{"unknown agent", `{"session_id":"s1","user_id":"alice","agent":"nobody","message":"hi"}`, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, a.server.Handler, "/chat", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestCancelEndpoint_IdleSession(t *testing.T) {
	a := newTestApp(t, &llmmock.Provider{})

	rec := postJSON(t, a.server.Handler, "/chat/cancel", `{"session_id":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["cancelled"] {
		t.Error("cancelled an idle session")
	}
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestApp(t, &llmmock.Provider{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200 (body %s)", path, rec.Code, rec.Body.String())
		}
	}
}

func TestApplyConfig_ReloadsAgents(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}},
	}
	a := newTestApp(t, provider)

	old := testConfig()
	updated := testConfig()
	updated.Agents = append(updated.Agents, config.AgentConfig{
		Name:         "archivist",
		SystemPrompt: "You archive notes.",
	})
	a.ApplyConfig(old, updated)

	rec := postJSON(t, a.server.Handler, "/chat",
		`{"session_id":"s1","user_id":"alice","agent":"archivist","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d after reload, body = %s", rec.Code, rec.Body.String())
	}
}

func TestApplyConfig_KeepsAgentsOnBadReload(t *testing.T) {
	a := newTestApp(t, &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}},
	})

	old := testConfig()
	broken := testConfig()
	broken.Agents[0].Tools = []string{"no_such_tool"}
	a.ApplyConfig(old, broken)

	// The previous agent set is still in effect.
	rec := postJSON(t, a.server.Handler, "/chat",
		`{"session_id":"s1","user_id":"alice","agent":"librarian","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after failed reload", rec.Code)
	}
}
