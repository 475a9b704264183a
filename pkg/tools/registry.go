package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
)

var errUnknownTool = errors.New("unknown tool")

// Registry holds a tool set and dispatches calls to it. Agents run
// against a Subset view so a tool outside their catalog behaves
// exactly like one that does not exist.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		logger: slog.Default().With("component", "tools"),
	}
	for _, t := range tools {
		r.register(t)
	}
	return r
}

func (r *Registry) register(t Tool) {
	name := t.Definition().Name
	if _, dup := r.tools[name]; dup {
		r.logger.Warn("Duplicate tool registration ignored", "tool", name)
		return
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// Subset returns a registry view exposing only the named tools, in
// the given order. Names missing from the catalog are skipped with a
// warning so one config typo does not take the whole agent down.
func (r *Registry) Subset(names []string) *Registry {
	sub := &Registry{
		tools:  make(map[string]Tool, len(names)),
		logger: r.logger,
	}
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			r.logger.Warn("Configured tool not in catalog, skipping", "tool", name)
			continue
		}
		if _, dup := sub.tools[name]; dup {
			continue
		}
		sub.tools[name] = t
		sub.order = append(sub.order, name)
	}
	return sub
}

// Execute runs one tool call and always returns model-facing text.
// Unknown tools, execution errors, and empty results are converted to
// the error strings the model has been taught to recognize; the turn
// never fails because a tool did.
//
// Injected invocation slots are blanked unless the tool declares the
// matching capability, so a tool can never read context it did not
// ask for.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) string {
	start := time.Now()

	tracer := observability.GetTracer("cfr_agents.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)))
	defer span.End()

	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn("Unknown tool requested", "tool", name)
		span.SetStatus(codes.Error, "tool not found")
		observability.GetGlobalMetrics().RecordToolCall(ctx, name, time.Since(start), errUnknownTool)
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	if _, ok := tool.(IndexAware); !ok {
		inv.IndexName = ""
	}
	if _, ok := tool.(FingerprintAware); !ok {
		inv.Fingerprint = ""
	}
	if _, ok := tool.(MemoAware); !ok {
		inv.Memo = nil
	}

	result, err := tool.Execute(ctx, inv)
	duration := time.Since(start)
	observability.GetGlobalMetrics().RecordToolCall(ctx, name, duration, err)

	if err != nil {
		r.logger.Error("Tool execution failed", "tool", name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))

	// The model API rejects empty text blocks.
	if strings.TrimSpace(result) == "" {
		return fmt.Sprintf("Tool %s completed but returned no content.", name)
	}
	return result
}
