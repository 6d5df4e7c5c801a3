package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notelith/notelith/internal/agent"
	"github.com/notelith/notelith/internal/chat"
	"github.com/notelith/notelith/internal/observe"
)

// ErrSessionBusy is returned by [SessionManager.RunTurn] when a turn is
// already executing on the same session. Clients should retry after the
// running turn finishes.
var ErrSessionBusy = errors.New("app: session busy")

// ErrUnknownAgent is returned when a turn names an agent that is not loaded.
var ErrUnknownAgent = errors.New("app: unknown agent")

// defaultIdleAfter is how long an untouched session entry survives before
// eviction. Only the in-process bookkeeping is evicted; durable history in
// the store is untouched.
const defaultIdleAfter = 30 * time.Minute

// session is the in-process bookkeeping for one conversation.
type session struct {
	id         string
	busy       bool
	cancel     context.CancelFunc
	lastActive time.Time
}

// SessionManager serializes turns per session: each session has exactly one
// writer at a time, and a second concurrent turn is rejected with
// [ErrSessionBusy] instead of queueing. It also tracks per-session
// cancellation and evicts idle entries.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	runner  *chat.Runner
	log     *slog.Logger
	metrics *observe.Metrics

	idleAfter time.Duration

	mu       sync.Mutex
	agents   *agent.Set
	sessions map[string]*session
}

// SessionManagerOption configures a [SessionManager].
type SessionManagerOption func(*SessionManager)

// WithIdleAfter sets how long an inactive session entry is kept before
// [SessionManager.EvictIdle] removes it. The default is 30 minutes.
func WithIdleAfter(d time.Duration) SessionManagerOption {
	return func(sm *SessionManager) {
		if d > 0 {
			sm.idleAfter = d
		}
	}
}

// WithSessionLogger sets the logger. Default is [slog.Default].
func WithSessionLogger(log *slog.Logger) SessionManagerOption {
	return func(sm *SessionManager) { sm.log = log }
}

// WithSessionMetrics enables the tracked-sessions gauge.
func WithSessionMetrics(m *observe.Metrics) SessionManagerOption {
	return func(sm *SessionManager) { sm.metrics = m }
}

// NewSessionManager creates a [SessionManager] running turns through runner
// with the given agent set.
func NewSessionManager(runner *chat.Runner, agents *agent.Set, opts ...SessionManagerOption) *SessionManager {
	sm := &SessionManager{
		runner:    runner,
		agents:    agents,
		log:       slog.Default(),
		idleAfter: defaultIdleAfter,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// SwapAgents replaces the agent set. Running turns keep the configuration
// they started with; only turns started after the swap see the new set.
func (sm *SessionManager) SwapAgents(agents *agent.Set) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.agents = agents
}

// RunTurn executes one user turn on the named session, blocking until the
// final answer is available. A concurrent turn on the same session returns
// [ErrSessionBusy]; turns on different sessions proceed in parallel.
func (sm *SessionManager) RunTurn(ctx context.Context, sessionID, userID, agentName, text string) (*chat.TurnResult, error) {
	turnCtx, release, cfg, err := sm.acquire(ctx, sessionID, userID, agentName)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := sm.runner.Run(turnCtx, cfg, text)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// acquire claims the session for one turn and resolves the agent. The
// returned release function must be called when the turn ends.
func (sm *SessionManager) acquire(ctx context.Context, sessionID, userID, agentName string) (context.Context, func(), chat.TurnConfig, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	a, ok := sm.agents.Get(agentName)
	if !ok {
		return nil, nil, chat.TurnConfig{}, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}

	s, ok := sm.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID}
		sm.sessions[sessionID] = s
		if sm.metrics != nil {
			sm.metrics.ActiveSessions.Add(ctx, 1)
		}
	}
	if s.busy {
		return nil, nil, chat.TurnConfig{}, fmt.Errorf("%w: a turn is already running on session %q", ErrSessionBusy, sessionID)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancel = cancel
	s.lastActive = time.Now()

	release := func() {
		cancel()
		sm.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.lastActive = time.Now()
		sm.mu.Unlock()
	}
	return turnCtx, release, a.TurnConfig(sessionID, userID), nil
}

// CancelTurn cancels the turn running on sessionID, if any. Reports whether
// a running turn was found. The cancelled turn's results are discarded, not
// persisted.
func (sm *SessionManager) CancelTurn(sessionID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[sessionID]
	if !ok || !s.busy || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// ActiveSessions returns the number of tracked sessions.
func (sm *SessionManager) ActiveSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// EvictIdle removes idle session entries and returns how many were evicted.
// Busy sessions are never evicted.
func (sm *SessionManager) EvictIdle() int {
	cutoff := time.Now().Add(-sm.idleAfter)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	evicted := 0
	for id, s := range sm.sessions {
		if !s.busy && s.lastActive.Before(cutoff) {
			delete(sm.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		if sm.metrics != nil {
			sm.metrics.ActiveSessions.Add(context.Background(), int64(-evicted))
		}
		sm.log.Debug("evicted idle sessions", "count", evicted, "remaining", len(sm.sessions))
	}
	return evicted
}

// RunEviction periodically evicts idle sessions until ctx is cancelled.
func (sm *SessionManager) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = sm.idleAfter / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.EvictIdle()
		}
	}
}
