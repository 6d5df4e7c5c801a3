// Package app wires all Notelith subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithLLMProvider). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/notelith/notelith/internal/agent"
	"github.com/notelith/notelith/internal/chat"
	"github.com/notelith/notelith/internal/config"
	"github.com/notelith/notelith/internal/health"
	"github.com/notelith/notelith/internal/observe"
	"github.com/notelith/notelith/internal/realtime"
	"github.com/notelith/notelith/internal/tools"
	"github.com/notelith/notelith/internal/tools/notetools"
	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/graph/memstore"
	"github.com/notelith/notelith/pkg/graph/postgres"
	"github.com/notelith/notelith/pkg/provider/llm"
)

// shutdownTimeout bounds the HTTP server drain during Run's teardown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes: storage, tools, the chat runner, the
// realtime hub, and the HTTP server.
type App struct {
	cfg      *config.Config
	provider llm.Provider
	store    graph.Store
	hub      *realtime.Hub
	registry *tools.Registry
	router   *tools.Router
	runner   *chat.Runner
	loader   *agent.Loader
	sessions *SessionManager
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a storage backend instead of creating one from config.
func WithStore(s graph.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLMProvider injects the LLM provider. Required unless the config
// declares no agents.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithMetrics injects a metrics instrument set. Default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// hot reloads can adjust verbosity.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The LLM provider is
// built by main via the config registry (with fallbacks) and injected through
// [WithLLMProvider].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 3. Realtime hub + chat runner ────────────────────────────────────
	a.hub = realtime.NewHub(slog.Default(), realtime.WithMetrics(a.metrics))

	if a.provider == nil && len(cfg.Agents) > 0 {
		return nil, fmt.Errorf("app: an LLM provider is required when agents are configured")
	}
	runnerOpts := []chat.RunnerOption{
		chat.WithMetrics(a.metrics, providerLabel(cfg)),
	}
	if cfg.Chat.RetryBackoff > 0 {
		runnerOpts = append(runnerOpts, chat.WithRetryBackoff(cfg.Chat.RetryBackoff))
	}
	a.runner = chat.NewRunner(a.provider, a.router, a.store, a.hub, runnerOpts...)

	// ── 4. Agents + sessions ─────────────────────────────────────────────
	a.loader = agent.NewLoader(a.registry)
	set, err := a.loader.Load(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("app: load agents: %w", err)
	}
	a.sessions = NewSessionManager(a.runner, set, WithSessionMetrics(a.metrics))

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// providerLabel names the primary provider for metric attributes.
func providerLabel(cfg *config.Config) string {
	if cfg.Providers.LLM.Name == "" {
		return "none"
	}
	return cfg.Providers.LLM.Name
}

// initStore selects the storage backend: an injected one, PostgreSQL when a
// DSN is configured, or the in-memory store for development.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured, using the in-memory store")
		a.store = memstore.New()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initTools builds the tool registry with the note graph toolset and the
// router that executes calls against it.
func (a *App) initTools() error {
	a.registry = tools.NewRegistry()

	resolver := graph.NewResolver(a.store)
	if err := a.registry.RegisterAll(notetools.NewTools(a.store, resolver, a.store)); err != nil {
		return err
	}

	routerOpts := []tools.RouterOption{tools.WithMetrics(a.metrics)}
	if a.cfg.Chat.ToolTimeout > 0 {
		routerOpts = append(routerOpts, tools.WithTimeout(a.cfg.Chat.ToolTimeout))
	}
	if a.cfg.Chat.MaxToolResultBytes > 0 {
		routerOpts = append(routerOpts, tools.WithMaxResultBytes(a.cfg.Chat.MaxToolResultBytes))
	}
	a.router = tools.NewRouter(a.registry, resolver, a.store, routerOpts...)
	return nil
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

// pinger is implemented by storage backends that can probe connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// buildHandler assembles the HTTP mux: health probes, Prometheus metrics,
// the realtime websocket endpoint, and the chat API.
func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{
		{
			Name: "database",
			Check: func(ctx context.Context) error {
				if p, ok := a.store.(pinger); ok {
					return p.Ping(ctx)
				}
				return nil
			},
		},
		{
			Name: "provider",
			Check: func(context.Context) error {
				if a.provider == nil {
					return errors.New("no LLM provider configured")
				}
				return nil
			},
		},
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", a.hub.ServeWS)
	mux.HandleFunc("POST /chat", a.handleChat)
	mux.HandleFunc("POST /chat/cancel", a.handleCancel)

	return observe.Middleware(a.metrics)(mux)
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Agent     string `json:"agent"`
	Message   string `json:"message"`
}

// chatResponse is the POST /chat success body.
type chatResponse struct {
	Content   string           `json:"content"`
	Reasoning string           `json:"reasoning,omitempty"`
	ToolCalls []chatToolStatus `json:"tool_calls,omitempty"`
}

// chatToolStatus summarizes one executed tool call in the response.
type chatToolStatus struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// errorResponse is the JSON body for failed API requests.
type errorResponse struct {
	Error string `json:"error"`
}

// handleChat runs one user turn and responds with the final answer.
func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || req.UserID == "" || req.Agent == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "session_id, user_id, agent, and message are required")
		return
	}

	start := time.Now()
	a.metrics.ActiveTurns.Add(r.Context(), 1)
	result, err := a.sessions.RunTurn(r.Context(), req.SessionID, req.UserID, req.Agent, req.Message)
	a.metrics.ActiveTurns.Add(r.Context(), -1)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrUnknownAgent):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, chat.ErrProviderTransport):
			writeError(w, http.StatusBadGateway, "the model provider is unavailable")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "the turn was cancelled")
		default:
			slog.Error("turn failed", "session_id", req.SessionID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	a.metrics.TurnDuration.Record(r.Context(), time.Since(start).Seconds())
	a.metrics.RecordTurn(r.Context(), req.Agent)

	resp := chatResponse{Content: result.Content, Reasoning: result.Reasoning}
	for _, call := range result.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, chatToolStatus{ID: call.ID, Name: call.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

// cancelRequest is the POST /chat/cancel body.
type cancelRequest struct {
	SessionID string `json:"session_id"`
}

// handleCancel cancels the running turn on a session. Responds 200 whether
// or not a turn was running; the body reports which.
func (a *App) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	cancelled := a.sessions.CancelTurn(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies a hot-reloaded configuration. Only agent definitions
// and the log level change at runtime; provider and database changes need a
// restart. Intended as the [config.Watcher] onChange callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)

	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	if diff.AgentsChanged {
		set, err := a.loader.Load(new.Agents)
		if err != nil {
			slog.Error("agent reload failed, keeping previous agents", "err", err)
			return
		}
		a.sessions.SwapAgents(set)
		a.cfg = new
		slog.Info("agents reloaded", "agents", set.Names(), "changes", len(diff.AgentChanges))
	}
}

// slogLevel maps a config log level onto slog's scale.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// Returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.sessions.RunEviction(ctx, 0)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
