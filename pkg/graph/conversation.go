package graph

import (
	"fmt"

	"github.com/notelith/notelith/pkg/types"
)

// ValidateBatch checks the tool-call pairing rules for a message batch before
// it is persisted:
//
//   - an assistant message carrying tool calls must be followed immediately by
//     exactly one tool message per call, matching by ToolCallID in request order;
//   - a tool message must never appear without its requesting assistant message;
//   - every tool message names the tool that produced it;
//   - no tool call may be answered twice.
//
// Implementations of [ConversationStore.AppendMessages] call this and reject
// violating batches with an error wrapping [ErrInvalidSequence].
func ValidateBatch(msgs []types.Message) error {
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == "tool" {
			return fmt.Errorf("%w: tool message %q at position %d has no preceding tool call", ErrInvalidSequence, m.ToolCallID, i)
		}

		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}

		// Consume exactly one tool response per requested call, in order.
		for _, call := range m.ToolCalls {
			i++
			if i >= len(msgs) || msgs[i].Role != "tool" {
				return fmt.Errorf("%w: tool call %q is unanswered", ErrInvalidSequence, call.ID)
			}
			if msgs[i].ToolCallID != call.ID {
				return fmt.Errorf("%w: tool response %q does not match pending call %q", ErrInvalidSequence, msgs[i].ToolCallID, call.ID)
			}
			if msgs[i].Name == "" {
				return fmt.Errorf("%w: tool response %q carries no tool name", ErrInvalidSequence, call.ID)
			}
		}
	}
	return nil
}

// AlignWindow drops leading tool messages from a history window. A limit cut
// can land inside a tool-call group, leaving tool responses whose requesting
// assistant message fell outside the window; such a prefix would fail
// [ValidateBatch] on every later turn of the session. Implementations of
// [ConversationStore.History] apply this before returning a limited window.
func AlignWindow(msgs []types.Message) []types.Message {
	i := 0
	for i < len(msgs) && msgs[i].Role == "tool" {
		i++
	}
	return msgs[i:]
}
