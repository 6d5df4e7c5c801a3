// Package tools defines the in-process tool surface offered to the model:
// a [Registry] of named tools and a [Router] that executes a single repaired
// tool call with schema validation and permission enforcement.
//
// Tool sub-packages (e.g. notetools) export constructor functions returning
// slices of [Tool] values ready for registration.
package tools

import (
	"context"

	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// Call carries the execution context handed to a tool handler.
type Call struct {
	// UserID identifies the user on whose behalf the tool runs.
	UserID string

	// Args is the repaired, schema-validated argument map.
	Args map[string]any

	// Resource is the resolved target resource when the tool declares a
	// RefArg, nil otherwise. Handlers can rely on the permission check
	// having already passed for it.
	Resource *graph.Resource
}

// Tool represents a built-in tool ready for registration with the [Registry].
//
// Each Tool carries its LLM-facing schema ([types.ToolDefinition]) together
// with the handler function that is invoked when the model calls the tool.
type Tool struct {
	// Definition is the tool's LLM-facing schema including its name,
	// description, JSON Schema parameter specification, and the minimum
	// permission level required on the referenced resource.
	Definition types.ToolDefinition

	// RefArg names the string argument holding the resource reference the
	// permission check applies to (resolved via [graph.Resolver]).
	// Empty means the tool targets no existing resource and skips the check.
	RefArg string

	// Handler executes the tool and returns its structured result value on
	// success, or a descriptive error. Implementations must be safe for
	// concurrent use and must respect context cancellation.
	Handler func(ctx context.Context, call Call) (any, error)
}

// StringArg returns the string value of the named argument, or "" when the
// argument is absent or not a string.
func (c Call) StringArg(name string) string {
	s, _ := c.Args[name].(string)
	return s
}

// IntArg returns the integer value of the named argument, or def when the
// argument is absent or not numeric. JSON numbers decode as float64.
func (c Call) IntArg(name string, def int) int {
	f, ok := c.Args[name].(float64)
	if !ok {
		return def
	}
	return int(f)
}
