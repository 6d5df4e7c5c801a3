package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// database changes require a restart.
type ConfigDiff struct {
	AgentsChanged   bool        // true if any agent was added, removed, or modified
	AgentChanges    []AgentDiff // per-agent diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// AgentDiff describes what changed for a single agent between two configs.
type AgentDiff struct {
	Name          string
	PromptChanged bool
	TuningChanged bool // temperature, top_p, max_tokens, history_limit, truncation
	ToolsChanged  bool
	Added         bool
	Removed       bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldAgents := make(map[string]*AgentConfig, len(old.Agents))
	for i := range old.Agents {
		oldAgents[old.Agents[i].Name] = &old.Agents[i]
	}
	newAgents := make(map[string]*AgentConfig, len(new.Agents))
	for i := range new.Agents {
		newAgents[new.Agents[i].Name] = &new.Agents[i]
	}

	for name, oldAgent := range oldAgents {
		newAgent, exists := newAgents[name]
		if !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Removed: true})
			d.AgentsChanged = true
			continue
		}
		ad := diffAgent(name, oldAgent, newAgent)
		if ad.PromptChanged || ad.TuningChanged || ad.ToolsChanged {
			d.AgentChanges = append(d.AgentChanges, ad)
			d.AgentsChanged = true
		}
	}

	for name := range newAgents {
		if _, exists := oldAgents[name]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{Name: name, Added: true})
			d.AgentsChanged = true
		}
	}

	return d
}

// diffAgent compares two agent configs with the same name.
func diffAgent(name string, old, new *AgentConfig) AgentDiff {
	ad := AgentDiff{Name: name}

	if old.SystemPrompt != new.SystemPrompt {
		ad.PromptChanged = true
	}
	if old.Temperature != new.Temperature ||
		old.TopP != new.TopP ||
		old.MaxTokens != new.MaxTokens ||
		old.HistoryLimit != new.HistoryLimit ||
		old.Truncation != new.Truncation {
		ad.TuningChanged = true
	}
	if !slices.Equal(old.Tools, new.Tools) {
		ad.ToolsChanged = true
	}

	return ad
}
