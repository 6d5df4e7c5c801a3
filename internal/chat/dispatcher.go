package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/notelith/notelith/internal/realtime"
	"github.com/notelith/notelith/pkg/provider/llm"
	"github.com/notelith/notelith/pkg/types"
)

// Finish reasons as emitted by [llm.Chunk].
const (
	finishStop      = "stop"
	finishLength    = "length"
	finishToolCalls = "tool_calls"
	finishError     = "error"
)

// StreamResult is the accumulated outcome of one streamed model call.
type StreamResult struct {
	// Content is the full assistant text.
	Content string

	// Reasoning is the accumulated reasoning side-channel, when the model
	// exposes one.
	Reasoning string

	// ToolCalls are the complete tool invocations requested by the model.
	// Non-empty only when FinishReason is "tool_calls".
	ToolCalls []types.ToolCall

	// FinishReason is why generation stopped: "stop", "length", or
	// "tool_calls".
	FinishReason string
}

// Dispatcher drains one provider stream, forwarding each text and reasoning
// delta to the broadcaster exactly once, in arrival order, and accumulating
// the final [StreamResult].
type Dispatcher struct {
	provider    llm.Provider
	broadcaster realtime.Broadcaster
	log         *slog.Logger
}

// NewDispatcher creates a [Dispatcher]. A nil broadcaster disables event
// publishing; a nil logger uses [slog.Default].
func NewDispatcher(provider llm.Provider, broadcaster realtime.Broadcaster, log *slog.Logger) *Dispatcher {
	if broadcaster == nil {
		broadcaster = realtime.NopBroadcaster{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{provider: provider, broadcaster: broadcaster, log: log}
}

// Stream runs one streamed completion and returns its accumulated result.
// Transport failures — a stream that cannot start, errors mid-stream, or a
// stream that ends without a finish reason — are reported with an error
// wrapping [ErrProviderTransport].
func (d *Dispatcher) Stream(ctx context.Context, sessionID string, req llm.CompletionRequest) (*StreamResult, error) {
	chunks, err := d.provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: start stream: %v", ErrProviderTransport, err)
	}

	var (
		content   strings.Builder
		reasoning strings.Builder
		result    StreamResult
	)

	for chunk := range chunks {
		if chunk.Text != "" {
			content.WriteString(chunk.Text)
			d.broadcaster.Publish(sessionID, realtime.EventToken, map[string]any{"text": chunk.Text})
		}
		if chunk.Reasoning != "" {
			reasoning.WriteString(chunk.Reasoning)
			d.broadcaster.Publish(sessionID, realtime.EventReasoning, map[string]any{"text": chunk.Reasoning})
		}
		if len(chunk.ToolCalls) > 0 {
			result.ToolCalls = append(result.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.FinishReason != "" {
			result.FinishReason = chunk.FinishReason
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch result.FinishReason {
	case finishError:
		return nil, fmt.Errorf("%w: stream reported an error", ErrProviderTransport)
	case "":
		return nil, fmt.Errorf("%w: stream ended without a finish reason", ErrProviderTransport)
	}

	result.Content = content.String()
	result.Reasoning = reasoning.String()
	d.log.Debug("stream finished",
		"session_id", sessionID,
		"finish_reason", result.FinishReason,
		"content_len", len(result.Content),
		"tool_calls", len(result.ToolCalls))
	return &result, nil
}
