package chat

import (
	"errors"

	"github.com/notelith/notelith/pkg/graph"
)

// ErrProviderTransport reports a streaming failure between the orchestrator
// and the LLM provider. One retry with backoff is attempted per streaming
// state; a second failure is terminal for the turn.
var ErrProviderTransport = errors.New("chat: provider transport error")

// ErrInvalidSequence reports a violation of the tool-call pairing invariants.
// It is the same sentinel the conversation store rejects batches with, so a
// single errors.Is check covers both layers. Always fatal to the turn: a
// broken sequence is a programming fault, never recovered silently.
var ErrInvalidSequence = graph.ErrInvalidSequence
