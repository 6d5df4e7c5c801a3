package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/notelith/notelith/pkg/types"
)

// entry pairs a registered tool with its compiled parameter schema.
type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the tools available for execution, keyed by name.
// Parameter schemas are compiled once at registration time.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

// Register adds t to the registry. It returns an error when the name is
// already taken or the parameter schema does not compile.
func (r *Registry) Register(t Tool) error {
	name := t.Definition.Name
	if name == "" {
		return fmt.Errorf("tools: register: tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: register %q: tool has no handler", name)
	}

	raw, err := json.Marshal(t.Definition.Parameters)
	if err != nil {
		return fmt.Errorf("tools: register %q: encode parameter schema: %w", name, err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("tools: register %q: compile parameter schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tools: register %q: already registered", name)
	}
	r.entries[name] = entry{tool: t, schema: schema}
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first failure.
func (r *Registry) RegisterAll(ts []Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.tool, ok
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Definitions returns the LLM-facing definitions of the named tools, sorted by
// name. Unknown names are skipped. With no names it returns every registered
// definition, so agent configurations can select a capability subset.
func (r *Registry) Definitions(names ...string) []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []types.ToolDefinition
	if len(names) == 0 {
		for _, e := range r.entries {
			defs = append(defs, e.tool.Definition)
		}
	} else {
		for _, name := range names {
			if e, ok := r.entries[name]; ok {
				defs = append(defs, e.tool.Definition)
			}
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
