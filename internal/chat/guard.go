package chat

// RoundGuard enforces the hard cap of one tool-call round per user turn.
//
// On the first model call of a turn the tool list is offered; on every
// subsequent call within the same turn tools are withheld, forcing the model
// to answer with the tool results already in history. This trades multi-step
// tool chains for guaranteed termination.
//
// A guard belongs to a single turn and is not safe for concurrent use.
type RoundGuard struct {
	rounds int
}

// AllowTools reports whether the next model call may offer tools.
func (g *RoundGuard) AllowTools() bool { return g.rounds == 0 }

// NoteRound records that a tool round has been spent.
func (g *RoundGuard) NoteRound() { g.rounds++ }

// Reset clears the round count for a new user message.
func (g *RoundGuard) Reset() { g.rounds = 0 }
