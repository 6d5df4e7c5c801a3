package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/notelith/notelith/internal/observe"
	"github.com/notelith/notelith/internal/toolcall"
	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// Failure codes carried in [types.ToolResult.Error]. They are stable strings
// the model can pattern-match on when deciding how to recover.
const (
	CodeMalformedArguments = "malformed_arguments"
	CodeUnknownTool        = "unknown_tool"
	CodeInvalidArguments   = "invalid_arguments"
	CodePermissionDenied   = "permission_denied"
	CodeNotFound           = "not_found"
	CodeAmbiguousReference = "ambiguous_reference"
	CodeTimeout            = "timeout"
	CodeExecutionFailed    = "execution_failed"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxResultBytes = 8 * 1024
)

// Router executes individual tool calls against a [Registry], enforcing
// argument repair, schema validation, and resource permissions. Every call
// produces exactly one [types.ToolResult]; failures are normalized into the
// result rather than returned as errors, so the model always receives a
// response it can react to.
type Router struct {
	registry *Registry
	resolver graph.Resolver
	perms    graph.PermissionChecker
	log      *slog.Logger
	metrics  *observe.Metrics

	timeout        time.Duration
	maxResultBytes int
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithTimeout sets the per-call handler timeout. Default is 30 seconds.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

// WithMaxResultBytes sets the size limit above which a result's data payload
// is replaced by a truncation marker. Default is 8 KiB.
func WithMaxResultBytes(n int) RouterOption {
	return func(r *Router) { r.maxResultBytes = n }
}

// WithLogger sets the logger. Default is [slog.Default].
func WithLogger(log *slog.Logger) RouterOption {
	return func(r *Router) { r.log = log }
}

// WithMetrics enables recording of tool execution latency and outcomes.
func WithMetrics(m *observe.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a [Router] over the given registry and graph
// collaborators.
func NewRouter(registry *Registry, resolver graph.Resolver, perms graph.PermissionChecker, opts ...RouterOption) *Router {
	r := &Router{
		registry:       registry,
		resolver:       resolver,
		perms:          perms,
		log:            slog.Default(),
		timeout:        defaultTimeout,
		maxResultBytes: defaultMaxResultBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs a single tool call on behalf of userID and returns its
// normalized result. It never returns an error: every failure mode is folded
// into the [types.ToolResult] so the caller can re-inject it into the
// conversation unconditionally.
func (r *Router) Execute(ctx context.Context, userID string, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result := r.execute(ctx, userID, call)
	if r.metrics != nil {
		r.metrics.RecordToolExecution(ctx, call.Name, time.Since(start).Seconds(), result.Success)
	}
	return result
}

func (r *Router) execute(ctx context.Context, userID string, call types.ToolCall) types.ToolResult {
	log := r.log.With("tool", call.Name, "call_id", call.ID, "user_id", userID)

	args, err := toolcall.Repair(call.Arguments)
	if err != nil {
		log.Warn("tool call arguments could not be repaired", "error", err)
		return failure(CodeMalformedArguments,
			fmt.Sprintf("The arguments for %s were not valid JSON and could not be repaired.", call.Name))
	}

	e, ok := r.registry.lookup(call.Name)
	if !ok {
		log.Warn("unknown tool requested")
		return failure(CodeUnknownTool,
			fmt.Sprintf("No tool named %q is available.", call.Name))
	}

	// Repaired args come from json.Unmarshal, so they are already in the
	// generic representation the validator expects.
	if err := e.schema.Validate(args); err != nil {
		log.Warn("tool call arguments failed schema validation", "error", err)
		return failure(CodeInvalidArguments,
			fmt.Sprintf("The arguments for %s do not match its schema: %v", call.Name, err))
	}

	c := Call{UserID: userID, Args: args}
	if e.tool.RefArg != "" {
		res, result := r.authorize(ctx, log, userID, e.tool, c)
		if result != nil {
			return *result
		}
		c.Resource = res
	}

	out, err := r.invoke(ctx, e.tool, c)
	if err != nil {
		code, msg := classify(call.Name, err)
		log.Warn("tool execution failed", "code", code, "error", err)
		return failure(code, msg)
	}

	result := types.ToolResult{Success: true, Data: out}
	return r.bound(log, result)
}

// authorize resolves the tool's resource reference and checks the calling
// user's permission on it. On failure it returns the result to hand back to
// the model; on success it returns the resolved resource.
func (r *Router) authorize(ctx context.Context, log *slog.Logger, userID string, t Tool, c Call) (*graph.Resource, *types.ToolResult) {
	ref := c.StringArg(t.RefArg)
	if ref == "" {
		res := failure(CodeInvalidArguments,
			fmt.Sprintf("The %q argument must name the target resource.", t.RefArg))
		return nil, &res
	}

	res, err := r.resolver.ResolveRef(ctx, userID, ref)
	if err != nil {
		code, msg := classify(t.Definition.Name, err)
		if errors.Is(err, graph.ErrNotFound) {
			msg = fmt.Sprintf("No resource matches %q.", ref)
		}
		if errors.Is(err, graph.ErrAmbiguousRef) {
			msg = fmt.Sprintf("Several resources match %q; ask the user to be more specific.", ref)
		}
		log.Warn("reference resolution failed", "ref", ref, "error", err)
		result := failure(code, msg)
		return nil, &result
	}

	if level := t.Definition.Permission; level != "" {
		ok, err := r.perms.HasPermission(ctx, userID, res.ID, level)
		if err != nil {
			log.Error("permission check failed", "resource_id", res.ID, "error", err)
			result := failure(CodeExecutionFailed, "The permission check could not be completed.")
			return nil, &result
		}
		if !ok {
			log.Warn("permission denied", "resource_id", res.ID, "level", level)
			result := failure(CodePermissionDenied,
				fmt.Sprintf("You do not have %s access to %q.", level, res.Title))
			return nil, &result
		}
	}
	return res, nil
}

// invoke runs the handler under the configured timeout with panic recovery.
// The handler runs in its own goroutine so a handler that ignores its context
// cannot stall the turn.
func (r *Router) invoke(ctx context.Context, t Tool, c Call) (out any, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tools: handler panic: %v", p)}
			}
		}()
		o, err := t.Handler(ctx, c)
		done <- outcome{out: o, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// bound enforces the result size limit: when the encoded result exceeds
// maxResultBytes, the data payload is replaced with a truncation marker so
// oversized handler output cannot blow up the conversation context.
func (r *Router) bound(log *slog.Logger, result types.ToolResult) types.ToolResult {
	encoded, err := json.Marshal(result)
	if err != nil {
		log.Error("tool result is not serializable", "error", err)
		return failure(CodeExecutionFailed, "The tool produced a result that could not be serialized.")
	}
	if len(encoded) <= r.maxResultBytes {
		return result
	}

	log.Warn("tool result truncated", "size_bytes", len(encoded), "limit_bytes", r.maxResultBytes)
	result.Data = nil
	result.HumanMessage = fmt.Sprintf("truncated, original size %d bytes", len(encoded))
	return result
}

// classify maps a handler or resolution error to a stable failure code and a
// model-facing message.
func classify(toolName string, err error) (code, msg string) {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return CodeNotFound, "The referenced resource does not exist."
	case errors.Is(err, graph.ErrAmbiguousRef):
		return CodeAmbiguousReference, "The reference matches several resources."
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout, fmt.Sprintf("%s did not finish in time.", toolName)
	case errors.Is(err, context.Canceled):
		return CodeTimeout, fmt.Sprintf("%s was cancelled.", toolName)
	default:
		return CodeExecutionFailed, fmt.Sprintf("%s failed: %v", toolName, err)
	}
}

func failure(code, humanMessage string) types.ToolResult {
	return types.ToolResult{Success: false, Error: code, HumanMessage: humanMessage}
}
