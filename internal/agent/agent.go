// Package agent resolves configured chat agents into immutable runtime
// definitions. An [Agent] is built once from its [config.AgentConfig],
// with its tool capabilities bound to the registry at load time, and then
// only ever read from.
package agent

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/notelith/notelith/internal/chat"
	"github.com/notelith/notelith/internal/config"
	"github.com/notelith/notelith/internal/tools"
	"github.com/notelith/notelith/pkg/types"
)

// Agent is a fully resolved chat agent. All fields are fixed at load time;
// a running turn never observes a half-updated agent.
type Agent struct {
	// Name is the agent's unique identifier, referenced by chat requests.
	Name string

	// SystemPrompt is the instruction block injected before the history.
	SystemPrompt string

	// Temperature, TopP, and MaxTokens are passed through to the provider.
	Temperature float64
	TopP        float64
	MaxTokens   int

	// Tools holds the resolved definitions of the agent's capabilities,
	// sorted by name. Empty disables tool calling.
	Tools []types.ToolDefinition

	// HistoryLimit caps the working history in messages. Zero means no cap.
	HistoryLimit int

	// Truncation selects which messages survive history truncation.
	Truncation chat.Strategy
}

// TurnConfig binds the agent's settings to one session and user, producing
// the per-turn configuration handed to [chat.Runner.Run]. The tool definition
// slice is shared, never copied; agents are immutable after load.
func (a *Agent) TurnConfig(sessionID, userID string) chat.TurnConfig {
	return chat.TurnConfig{
		SessionID:          sessionID,
		UserID:             userID,
		SystemPrompt:       a.SystemPrompt,
		Temperature:        a.Temperature,
		TopP:               a.TopP,
		MaxTokens:          a.MaxTokens,
		Tools:              a.Tools,
		HistoryLimit:       a.HistoryLimit,
		TruncationStrategy: a.Truncation,
	}
}

// Set is an immutable collection of loaded agents, keyed by name.
// Hot reload swaps the whole Set rather than mutating one in place.
type Set struct {
	agents map[string]*Agent
}

// Get returns the agent with the given name.
func (s *Set) Get(name string) (*Agent, bool) {
	a, ok := s.agents[name]
	return a, ok
}

// Names returns the loaded agent names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded agents.
func (s *Set) Len() int {
	return len(s.agents)
}

// Loader resolves agent configurations against the tool registry.
type Loader struct {
	registry *tools.Registry
	log      *slog.Logger
}

// LoaderOption configures a [Loader].
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger. Default is [slog.Default].
func WithLoaderLogger(log *slog.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// NewLoader creates a [Loader] that resolves tool names against registry.
func NewLoader(registry *tools.Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry: registry,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves cfgs into a new [Set]. A tool name that is not registered
// fails the whole load; on a hot reload the caller keeps the previous set.
func (l *Loader) Load(cfgs []config.AgentConfig) (*Set, error) {
	set := &Set{agents: make(map[string]*Agent, len(cfgs))}

	for _, cfg := range cfgs {
		a, err := l.resolve(cfg)
		if err != nil {
			return nil, err
		}
		if _, exists := set.agents[a.Name]; exists {
			return nil, fmt.Errorf("agent: load %q: duplicate agent name", a.Name)
		}
		set.agents[a.Name] = a

		l.log.Debug("agent loaded",
			"agent", a.Name,
			"tools", len(a.Tools),
			"history_limit", a.HistoryLimit,
			"truncation", a.Truncation)
	}

	return set, nil
}

// resolve builds one immutable [Agent] from its configuration.
func (l *Loader) resolve(cfg config.AgentConfig) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: load: agent has no name")
	}

	for _, name := range cfg.Tools {
		if _, ok := l.registry.Get(name); !ok {
			return nil, fmt.Errorf("agent: load %q: unknown tool %q", cfg.Name, name)
		}
	}

	strategy := chat.Strategy(cfg.Truncation)
	if strategy == "" {
		strategy = chat.KeepLatest
	}
	if !strategy.IsValid() {
		return nil, fmt.Errorf("agent: load %q: invalid truncation strategy %q", cfg.Name, cfg.Truncation)
	}

	a := &Agent{
		Name:         cfg.Name,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		MaxTokens:    cfg.MaxTokens,
		HistoryLimit: cfg.HistoryLimit,
		Truncation:   strategy,
	}
	if len(cfg.Tools) > 0 {
		a.Tools = l.registry.Definitions(cfg.Tools...)
	}
	return a, nil
}
