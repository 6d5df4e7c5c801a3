package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names without rejecting third-party registrations.
var ValidLLMProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq",
	"llamacpp", "llamafile", "mock",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName(prefix, fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Agents) > 0 {
		errs = append(errs, errors.New("providers.llm is required when agents are configured"))
	}

	// Database availability
	if cfg.Database.PostgresDSN == "" && len(cfg.Agents) > 0 {
		slog.Warn("database.postgres_dsn is empty; falling back to the in-memory store, conversations will not survive restarts")
	}

	// Chat
	if cfg.Chat.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("chat.tool_timeout %s must not be negative", cfg.Chat.ToolTimeout))
	}
	if cfg.Chat.MaxToolResultBytes < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tool_result_bytes %d must not be negative", cfg.Chat.MaxToolResultBytes))
	}

	// Agent duplicate name detection
	agentNamesSeen := make(map[string]int, len(cfg.Agents))

	for i, agent := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := agentNamesSeen[agent.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, agent.Name, prev))
			}
			agentNamesSeen[agent.Name] = i
		}
		if agent.SystemPrompt == "" {
			errs = append(errs, fmt.Errorf("%s.system_prompt is required", prefix))
		}
		if agent.Temperature < 0 || agent.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0.0, 2.0]", prefix, agent.Temperature))
		}
		if agent.TopP < 0 || agent.TopP > 1 {
			errs = append(errs, fmt.Errorf("%s.top_p %.2f is out of range [0.0, 1.0]", prefix, agent.TopP))
		}
		if agent.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("%s.max_tokens %d must not be negative", prefix, agent.MaxTokens))
		}
		if agent.HistoryLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.history_limit %d must not be negative", prefix, agent.HistoryLimit))
		}
		if agent.Truncation != "" && !agent.Truncation.IsValid() {
			errs = append(errs, fmt.Errorf("%s.truncation %q is invalid; valid values: keep_latest, keep_oldest, keep_middle", prefix, agent.Truncation))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidLLMProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidLLMProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidLLMProviderNames,
	)
}
