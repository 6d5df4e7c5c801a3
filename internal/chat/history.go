package chat

import (
	"fmt"

	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// Strategy selects which messages survive a history truncation.
type Strategy string

const (
	// KeepLatest drops the oldest messages beyond the limit. The default.
	KeepLatest Strategy = "keep_latest"

	// KeepOldest drops the newest messages beyond the limit.
	KeepOldest Strategy = "keep_oldest"

	// KeepMiddle keeps a centered window and drops both ends.
	KeepMiddle Strategy = "keep_middle"
)

// IsValid reports whether s is one of the known strategies.
func (s Strategy) IsValid() bool {
	switch s {
	case KeepLatest, KeepOldest, KeepMiddle:
		return true
	}
	return false
}

// History owns the ordered message sequence of one conversation during a
// turn. All mutation goes through [History.Append], which is the sole
// serialization point for the turn and enforces the pairing invariants:
//
//   - A tool message must answer the oldest outstanding tool call (results
//     arrive in request order) and must carry the tool's name.
//   - No second tool message may answer an already-answered call.
//   - While tool calls are outstanding, only their answering tool messages
//     may be appended.
//
// History is not safe for concurrent use; exactly one turn owns it at a time.
type History struct {
	msgs []types.Message

	// outstanding holds the IDs of requested-but-unanswered tool calls, in
	// request order.
	outstanding []string
}

// NewHistory builds a History from previously persisted messages. The loaded
// sequence must already satisfy the pairing invariants; violations are
// reported with [ErrInvalidSequence].
func NewHistory(msgs []types.Message) (*History, error) {
	if err := graph.ValidateBatch(msgs); err != nil {
		return nil, fmt.Errorf("chat: load history: %w", err)
	}
	h := &History{msgs: make([]types.Message, len(msgs))}
	copy(h.msgs, msgs)
	return h, nil
}

// Append adds msg to the history, enforcing the pairing invariants. All
// violations are reported with an error wrapping [ErrInvalidSequence].
func (h *History) Append(msg types.Message) error {
	switch {
	case msg.Role == "tool":
		if msg.ToolCallID == "" {
			return fmt.Errorf("%w: tool message without tool_call_id", ErrInvalidSequence)
		}
		if msg.Name == "" {
			return fmt.Errorf("%w: tool message without tool name", ErrInvalidSequence)
		}
		if len(h.outstanding) == 0 {
			return fmt.Errorf("%w: tool message %q answers no outstanding call", ErrInvalidSequence, msg.ToolCallID)
		}
		if h.outstanding[0] != msg.ToolCallID {
			return fmt.Errorf("%w: tool message %q out of order, expected %q",
				ErrInvalidSequence, msg.ToolCallID, h.outstanding[0])
		}
		h.outstanding = h.outstanding[1:]

	case len(msg.ToolCalls) > 0:
		if msg.Role != "assistant" {
			return fmt.Errorf("%w: %s message carries tool calls", ErrInvalidSequence, msg.Role)
		}
		if len(h.outstanding) > 0 {
			return fmt.Errorf("%w: new tool calls while %d remain unanswered", ErrInvalidSequence, len(h.outstanding))
		}
		seen := make(map[string]bool, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" {
				return fmt.Errorf("%w: tool call without id", ErrInvalidSequence)
			}
			if seen[tc.ID] {
				return fmt.Errorf("%w: duplicate tool call id %q", ErrInvalidSequence, tc.ID)
			}
			seen[tc.ID] = true
			h.outstanding = append(h.outstanding, tc.ID)
		}

	default:
		if len(h.outstanding) > 0 {
			return fmt.Errorf("%w: %s message while %d tool calls remain unanswered",
				ErrInvalidSequence, msg.Role, len(h.outstanding))
		}
	}

	h.msgs = append(h.msgs, msg)
	return nil
}

// Validate re-checks the full sequence against the pairing invariants.
func (h *History) Validate() error {
	if err := graph.ValidateBatch(h.msgs); err != nil {
		return err
	}
	if n := len(h.outstanding); n > 0 {
		return fmt.Errorf("%w: %d tool calls unanswered", ErrInvalidSequence, n)
	}
	return nil
}

// Messages returns a copy of the current message sequence.
func (h *History) Messages() []types.Message {
	out := make([]types.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int { return len(h.msgs) }

// Truncate reduces the history to at most limit messages using the given
// strategy. A limit of zero or less means no cap.
//
// The cut never splits a tool-call group: an assistant message carrying tool
// calls and its answering tool messages are kept or dropped together, so the
// result may hold fewer than limit messages. Providers reject histories with
// unanswered tool calls, so group integrity wins over exact counts.
func (h *History) Truncate(limit int, strategy Strategy) error {
	if strategy == "" {
		strategy = KeepLatest
	}
	if !strategy.IsValid() {
		return fmt.Errorf("chat: unknown truncation strategy %q", strategy)
	}
	if limit <= 0 || len(h.msgs) <= limit {
		return nil
	}

	groups := h.groups()
	var kept []types.Message

	switch strategy {
	case KeepLatest:
		// Take whole groups from the end while they fit.
		total := 0
		start := len(groups)
		for i := len(groups) - 1; i >= 0; i-- {
			size := groups[i][1] - groups[i][0]
			if total+size > limit {
				break
			}
			total += size
			start = i
		}
		for _, g := range groups[start:] {
			kept = append(kept, h.msgs[g[0]:g[1]]...)
		}

	case KeepOldest:
		total := 0
		for _, g := range groups {
			size := g[1] - g[0]
			if total+size > limit {
				break
			}
			total += size
			kept = append(kept, h.msgs[g[0]:g[1]]...)
		}

	case KeepMiddle:
		// Keep only groups fully inside the centered window.
		lo := (len(h.msgs) - limit) / 2
		hi := lo + limit
		for _, g := range groups {
			if g[0] >= lo && g[1] <= hi {
				kept = append(kept, h.msgs[g[0]:g[1]]...)
			}
		}
	}

	h.msgs = kept
	return nil
}

// groups partitions the message indices into unsplittable units: an assistant
// message with tool calls plus its answering tool messages form one group,
// every other message forms a group of its own. Each group is a half-open
// [start, end) index pair.
func (h *History) groups() [][2]int {
	var groups [][2]int
	for i := 0; i < len(h.msgs); {
		if len(h.msgs[i].ToolCalls) > 0 {
			end := i + 1
			for end < len(h.msgs) && h.msgs[end].Role == "tool" {
				end++
			}
			groups = append(groups, [2]int{i, end})
			i = end
			continue
		}
		groups = append(groups, [2]int{i, i + 1})
		i++
	}
	return groups
}
