package app

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/notelith/notelith/internal/agent"
	"github.com/notelith/notelith/internal/chat"
	"github.com/notelith/notelith/internal/config"
	"github.com/notelith/notelith/internal/observe"
	"github.com/notelith/notelith/internal/tools"
	"github.com/notelith/notelith/pkg/graph/memstore"
	"github.com/notelith/notelith/pkg/provider/llm"
	llmmock "github.com/notelith/notelith/pkg/provider/llm/mock"
	"github.com/notelith/notelith/pkg/types"
)

// blockingProvider parks StreamCompletion until released or the context is
// cancelled, so tests can hold a session busy deterministically.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (p *blockingProvider) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: "done", FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p *blockingProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *blockingProvider) CountTokens([]types.Message) (int, error) { return 0, nil }

func (p *blockingProvider) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }

var _ llm.Provider = (*blockingProvider)(nil)

func newTestManager(t *testing.T, provider llm.Provider, opts ...SessionManagerOption) *SessionManager {
	t.Helper()

	store := memstore.New()
	registry := tools.NewRegistry()
	router := tools.NewRouter(registry, nil, nil)
	runner := chat.NewRunner(provider, router, store, nil, chat.WithRetryBackoff(time.Millisecond))

	loader := agent.NewLoader(registry)
	set, err := loader.Load([]config.AgentConfig{{
		Name:         "librarian",
		SystemPrompt: "You keep notes.",
	}})
	if err != nil {
		t.Fatalf("load agents: %v", err)
	}
	return NewSessionManager(runner, set, opts...)
}

func TestSessionManager_RunTurn(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "hello"}, {FinishReason: "stop"}},
	}
	sm := newTestManager(t, provider)

	result, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "hi")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q, want %q", result.Content, "hello")
	}
	if sm.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions = %d, want 1", sm.ActiveSessions())
	}
}

func TestSessionManager_UnknownAgent(t *testing.T) {
	sm := newTestManager(t, &llmmock.Provider{})

	_, err := sm.RunTurn(context.Background(), "s1", "alice", "nobody", "hi")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestSessionManager_SecondTurnOnBusySessionRejected(t *testing.T) {
	provider := newBlockingProvider()
	sm := newTestManager(t, provider)

	done := make(chan error, 1)
	go func() {
		_, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "first")
		done <- err
	}()
	<-provider.started

	// Same session: rejected immediately.
	_, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "second")
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}

	// Different session: proceeds in parallel.
	otherDone := make(chan error, 1)
	go func() {
		_, err := sm.RunTurn(context.Background(), "s2", "bob", "librarian", "other")
		otherDone <- err
	}()
	<-provider.started

	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := <-otherDone; err != nil {
		t.Fatalf("other session turn: %v", err)
	}

	// The session is free again once the turn finished.
	if _, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "third"); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

func TestSessionManager_CancelTurn(t *testing.T) {
	provider := newBlockingProvider()
	sm := newTestManager(t, provider)

	done := make(chan error, 1)
	go func() {
		_, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "hi")
		done <- err
	}()
	<-provider.started

	if !sm.CancelTurn("s1") {
		t.Fatal("CancelTurn found no running turn")
	}
	if err := <-done; err == nil {
		t.Fatal("cancelled turn should fail")
	}

	// Nothing running anymore.
	if sm.CancelTurn("s1") {
		t.Error("CancelTurn should report false for an idle session")
	}
}

func TestSessionManager_EvictIdle(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}},
	}
	sm := newTestManager(t, provider, WithIdleAfter(10*time.Millisecond))

	if _, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "hi"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if n := sm.EvictIdle(); n != 0 {
		t.Fatalf("evicted %d sessions before the idle window elapsed", n)
	}

	time.Sleep(20 * time.Millisecond)
	if n := sm.EvictIdle(); n != 1 {
		t.Fatalf("evicted %d sessions, want 1", n)
	}
	if sm.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0", sm.ActiveSessions())
	}
}

func TestSessionManager_SwapAgents(t *testing.T) {
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}},
	}
	sm := newTestManager(t, provider)

	loader := agent.NewLoader(tools.NewRegistry())
	set, err := loader.Load([]config.AgentConfig{{Name: "archivist", SystemPrompt: "New prompt."}})
	if err != nil {
		t.Fatalf("load agents: %v", err)
	}
	sm.SwapAgents(set)

	if _, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "hi"); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent after swap", err)
	}
	if _, err := sm.RunTurn(context.Background(), "s1", "alice", "archivist", "hi"); err != nil {
		t.Fatalf("turn with swapped agent: %v", err)
	}
}

func TestSessionManager_SessionGaugeFollowsEviction(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}},
	}
	sm := newTestManager(t, provider,
		WithIdleAfter(10*time.Millisecond), WithSessionMetrics(metrics))

	gauge := func() int64 {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		for _, sms := range rm.ScopeMetrics {
			for _, m := range sms.Metrics {
				if m.Name != "notelith.active_sessions" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) == 0 {
					t.Fatalf("active sessions gauge = %+v", m.Data)
				}
				return sum.DataPoints[0].Value
			}
		}
		return 0
	}

	if _, err := sm.RunTurn(context.Background(), "s1", "alice", "librarian", "hi"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if _, err := sm.RunTurn(context.Background(), "s2", "bob", "librarian", "hi"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if got := gauge(); got != 2 {
		t.Fatalf("gauge = %d after two sessions, want 2", got)
	}

	time.Sleep(20 * time.Millisecond)
	if n := sm.EvictIdle(); n != 2 {
		t.Fatalf("evicted %d sessions, want 2", n)
	}
	if got := gauge(); got != 0 {
		t.Errorf("gauge = %d after eviction, want 0", got)
	}
}
