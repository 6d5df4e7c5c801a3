package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/notelith/notelith/internal/observe"
	"github.com/notelith/notelith/internal/realtime"
	"github.com/notelith/notelith/internal/tools"
	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/provider/llm"
	"github.com/notelith/notelith/pkg/types"
)

// guardDeniedAnswer is the synthesized final message when the model requests
// a second tool round within one turn.
const guardDeniedAnswer = "I've already used my tool access for this request, " +
	"so here is my answer based on what I found. Ask again if you'd like me to look up more."

const defaultRetryBackoff = 500 * time.Millisecond

// TurnConfig is the immutable per-turn configuration resolved from the agent
// definition. A config value is never mutated after the turn starts.
type TurnConfig struct {
	// SessionID scopes history and realtime events.
	SessionID string

	// UserID is the acting user; tools run with this identity.
	UserID string

	// SystemPrompt is the agent's instruction block.
	SystemPrompt string

	// Temperature, TopP, and MaxTokens are passed through to the provider.
	Temperature float64
	TopP        float64
	MaxTokens   int

	// Tools is the definition set offered on the first model call of the
	// turn. Nil disables tool calling entirely.
	Tools []types.ToolDefinition

	// HistoryLimit caps the working history; 0 means no cap.
	HistoryLimit int

	// TruncationStrategy selects which messages survive the post-turn
	// truncation. Empty means [KeepLatest].
	TruncationStrategy Strategy
}

// TurnResult is what a completed turn hands back to the transport layer.
type TurnResult struct {
	// Content is the final assistant answer.
	Content string

	// Reasoning is the final call's accumulated reasoning side-channel.
	Reasoning string

	// ToolCalls lists the calls actually executed this turn, after
	// deduplication, in execution order.
	ToolCalls []types.ToolCall
}

// Runner drives one user turn through the orchestration states: stream the
// model, execute at most one tool round, stream the final answer, persist the
// turn's messages as a batch.
//
// A Runner is shared across turns and safe for concurrent use; all per-turn
// state lives on the stack of [Runner.Run].
type Runner struct {
	provider    llm.Provider
	router      *tools.Router
	store       graph.ConversationStore
	broadcaster realtime.Broadcaster
	log         *slog.Logger

	metrics      *observe.Metrics
	providerName string
	retryBackoff time.Duration
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger. Default is [slog.Default].
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithRetryBackoff sets the delay before the single transport-error retry.
func WithRetryBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) { r.retryBackoff = d }
}

// WithMetrics enables recording of stream latency and provider outcomes.
// provider labels the samples with the configured provider name.
func WithMetrics(m *observe.Metrics, provider string) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
		r.providerName = provider
	}
}

// NewRunner creates a [Runner] over the given collaborators. broadcaster may
// be nil for headless operation.
func NewRunner(provider llm.Provider, router *tools.Router, store graph.ConversationStore, broadcaster realtime.Broadcaster, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider:     provider,
		router:       router,
		store:        store,
		broadcaster:  broadcaster,
		log:          slog.Default(),
		retryBackoff: defaultRetryBackoff,
	}
	if broadcaster == nil {
		r.broadcaster = realtime.NopBroadcaster{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one user turn and returns the final answer.
//
// Tool-level failures never abort the turn; they flow back to the model as
// failed tool results. Only a provider transport error (after one retry), a
// history invariant violation, or cancellation terminate the turn with an
// error, in which case nothing is persisted.
func (r *Runner) Run(ctx context.Context, cfg TurnConfig, userText string) (*TurnResult, error) {
	log := r.log.With("session_id", cfg.SessionID, "user_id", cfg.UserID)
	dispatcher := NewDispatcher(r.provider, r.broadcaster, log)

	persisted, err := r.store.History(ctx, cfg.SessionID, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("chat: load history: %w", err)
	}
	history, err := NewHistory(persisted)
	if err != nil {
		return nil, err
	}

	userMsg := types.Message{Role: "user", Content: userText, Timestamp: time.Now()}
	if err := history.Append(userMsg); err != nil {
		return nil, err
	}
	batch := []types.Message{userMsg}

	// A fresh guard per user message: the round count resets with the turn.
	var guard RoundGuard

	turn := &TurnResult{}
	for {
		res, err := r.streamWithRetry(ctx, dispatcher, cfg, history, guard.AllowTools())
		if err != nil {
			return nil, err
		}

		if res.FinishReason != finishToolCalls || len(res.ToolCalls) == 0 {
			turn.Content = res.Content
			turn.Reasoning = res.Reasoning
			msg := finalMessage(res.Content, res.Reasoning)
			if err := history.Append(msg); err != nil {
				return nil, err
			}
			batch = append(batch, msg)
			break
		}

		if !guard.AllowTools() {
			// The model asked for tools although none were offered.
			log.Warn("model requested tools after its round was spent", "calls", len(res.ToolCalls))
			turn.Content = guardDeniedAnswer
			msg := finalMessage(guardDeniedAnswer, "")
			if err := history.Append(msg); err != nil {
				return nil, err
			}
			batch = append(batch, msg)
			break
		}
		guard.NoteRound()

		calls := dedupCalls(res.ToolCalls)
		if len(calls) < len(res.ToolCalls) {
			log.Debug("duplicate tool calls collapsed", "requested", len(res.ToolCalls), "executing", len(calls))
		}

		// The assistant message carrying the calls goes in once, before any
		// execution, so a mid-round failure cannot leave answered calls
		// without their request.
		assistantMsg := types.Message{
			Role:      "assistant",
			Content:   res.Content,
			ToolCalls: calls,
			Reasoning: res.Reasoning,
			Timestamp: time.Now(),
		}
		if err := history.Append(assistantMsg); err != nil {
			return nil, err
		}
		batch = append(batch, assistantMsg)

		for _, call := range calls {
			toolMsg, err := r.executeCall(ctx, cfg, call)
			if err != nil {
				return nil, err
			}
			if err := history.Append(*toolMsg); err != nil {
				return nil, err
			}
			batch = append(batch, *toolMsg)
			turn.ToolCalls = append(turn.ToolCalls, call)
		}
	}

	if err := history.Truncate(cfg.HistoryLimit, cfg.TruncationStrategy); err != nil {
		return nil, err
	}

	// Cancellation discards the turn: no partial batches in the durable
	// history.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.store.AppendMessages(ctx, cfg.SessionID, batch); err != nil {
		return nil, fmt.Errorf("chat: persist turn: %w", err)
	}

	log.Info("turn completed",
		"messages", len(batch),
		"tool_calls", len(turn.ToolCalls),
		"answer_len", len(turn.Content))
	return turn, nil
}

// executeCall runs one tool call through the router, broadcasts its status
// transitions, and returns the tool message to append. Execution is skipped
// only on cancellation; every other failure becomes a failed result.
func (r *Runner) executeCall(ctx context.Context, cfg TurnConfig, call types.ToolCall) (*types.Message, error) {
	// Started tools run to completion (they mutate durable state), but a
	// cancelled turn discards their results instead of appending them.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.broadcaster.Publish(cfg.SessionID, realtime.EventToolStatus, map[string]any{
		"tool": call.Name, "status": "started",
	})

	result := r.router.Execute(ctx, cfg.UserID, call)

	status := "succeeded"
	summary := result.HumanMessage
	if !result.Success {
		status = "failed"
		if summary == "" {
			summary = result.Error
		}
	}
	r.broadcaster.Publish(cfg.SessionID, realtime.EventToolStatus, map[string]any{
		"tool": call.Name, "status": status, "summary": summary,
	})

	encoded, err := result.Encode()
	if err != nil {
		return nil, err
	}
	return &types.Message{
		Role:       "tool",
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    encoded,
		Timestamp:  time.Now(),
	}, nil
}

// streamWithRetry runs one streamed model call, retrying exactly once with
// backoff on a transport error.
func (r *Runner) streamWithRetry(ctx context.Context, d *Dispatcher, cfg TurnConfig, history *History, allowTools bool) (*StreamResult, error) {
	req := llm.CompletionRequest{
		Messages:     history.Messages(),
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
	}
	// Tools stay nil unless offered, so the upstream request omits the
	// field entirely rather than sending an empty list.
	if allowTools && len(cfg.Tools) > 0 {
		req.Tools = cfg.Tools
	}

	res, err := r.stream(ctx, d, cfg.SessionID, req)
	if err == nil || !errors.Is(err, ErrProviderTransport) || ctx.Err() != nil {
		return res, err
	}

	r.log.Warn("provider stream failed, retrying once",
		"session_id", cfg.SessionID, "backoff", r.retryBackoff, "error", err)
	select {
	case <-time.After(r.retryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.stream(ctx, d, cfg.SessionID, req)
}

// stream runs one model call through the dispatcher and records its latency
// and outcome. Retries count as separate provider requests.
func (r *Runner) stream(ctx context.Context, d *Dispatcher, sessionID string, req llm.CompletionRequest) (*StreamResult, error) {
	start := time.Now()
	res, err := d.Stream(ctx, sessionID, req)
	if r.metrics != nil {
		r.metrics.RecordStream(ctx, r.providerName, time.Since(start).Seconds(), err != nil)
	}
	return res, err
}

// dedupCalls collapses calls with identical name and arguments to their first
// occurrence, preserving order.
func dedupCalls(calls []types.ToolCall) []types.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		key := c.Name + "\x00" + c.Arguments
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func finalMessage(content, reasoning string) types.Message {
	return types.Message{
		Role:      "assistant",
		Content:   content,
		Reasoning: reasoning,
		Timestamp: time.Now(),
	}
}
