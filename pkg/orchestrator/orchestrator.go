// Copyright 2026 Tudor Baraboi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator runs conversation turns. Each turn replays the
// stored transcript to the model, streams normalized events to the
// transport, executes the tools the model requests, and persists
// completed rounds. Turns on the same conversation are serialized;
// turns on different conversations run independently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tudor-baraboi/cfr-agents/pkg/agent"
	"github.com/tudor-baraboi/cfr-agents/pkg/config"
	"github.com/tudor-baraboi/cfr-agents/pkg/convstore"
	"github.com/tudor-baraboi/cfr-agents/pkg/llm"
	"github.com/tudor-baraboi/cfr-agents/pkg/observability"
	"github.com/tudor-baraboi/cfr-agents/pkg/quota"
	"github.com/tudor-baraboi/cfr-agents/pkg/tools"
)

const (
	// eventBuffer absorbs bursts of model deltas so the provider reader
	// does not stall while the transport catches up.
	eventBuffer = 64

	// toolResultPreview bounds the tool_result event payload. The model
	// always receives the full result text.
	toolResultPreview = 500

	// Context-pressure estimate: roughly four characters per token,
	// warn once the transcript passes three quarters of the window.
	tokenWarningThreshold = 150000
	tokenLimit            = 200000
)

// RetryPolicy bounds model-call retries within one round. Rate-limited
// calls get the full backoff schedule, transient connection failures a
// single retry, fatal errors none.
type RetryPolicy struct {
	RateLimitRetries int
	TransientRetries int
	BaseDelay        time.Duration
	Multiplier       int
}

// DefaultRetryPolicy sleeps 2s, 4s, 8s across rate-limit retries.
var DefaultRetryPolicy = RetryPolicy{
	RateLimitRetries: 3,
	TransientRetries: 1,
	BaseDelay:        2 * time.Second,
	Multiplier:       2,
}

// Delay returns the backoff before retry n (zero-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < retry; i++ {
		d *= time.Duration(p.Multiplier)
	}
	return d
}

func (p RetryPolicy) budget(kind llm.ErrorKind) int {
	switch kind {
	case llm.KindRateLimited:
		return p.RateLimitRetries
	case llm.KindTransient:
		return p.TransientRetries
	default:
		return 0
	}
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Provider llm.Provider
	Store    convstore.Store
	Catalog  *tools.Registry

	// Quota meters turn completions. Nil means unmetered.
	Quota quota.Service

	Limits config.LimitsConfig

	// Retry overrides DefaultRetryPolicy when set.
	Retry *RetryPolicy
}

// Orchestrator drives one turn at a time per conversation.
type Orchestrator struct {
	provider llm.Provider
	store    convstore.Store
	catalog  *tools.Registry
	quota    quota.Service
	limits   config.LimitsConfig
	retry    RetryPolicy
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	gates   map[string]chan struct{}
	memos   map[string]*tools.MemoStore
	subsets map[string]*tools.Registry
}

// New validates the wiring and returns a ready orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("orchestrator requires an llm provider")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator requires a conversation store")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("orchestrator requires a tool catalog")
	}

	limits := cfg.Limits
	limits.SetDefaults()

	q := cfg.Quota
	if q == nil {
		q = quota.Unlimited{}
	}

	retry := DefaultRetryPolicy
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	return &Orchestrator{
		provider: cfg.Provider,
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		quota:    q,
		limits:   limits,
		retry:    retry,
		logger:   slog.Default().With("component", "orchestrator"),
		sleep:    sleepContext,
		gates:    make(map[string]chan struct{}),
		memos:    make(map[string]*tools.MemoStore),
		subsets:  make(map[string]*tools.Registry),
	}, nil
}

// TurnRequest identifies one user turn.
type TurnRequest struct {
	ConversationID string
	UserText       string
	Agent          *agent.Agent
	Fingerprint    string
}

// HandleTurn runs one turn asynchronously. The returned channel yields
// the turn's event stream and closes after the terminal event; it must
// be drained. Cancelling ctx aborts the model stream and any in-flight
// tool cooperatively and discards the round's partial state.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if req.Agent == nil {
		return nil, errors.New("turn request requires an agent")
	}
	if req.ConversationID == "" {
		return nil, errors.New("turn request requires a conversation id")
	}
	if strings.TrimSpace(req.UserText) == "" {
		return nil, errors.New("turn request requires a user message")
	}

	events := make(chan Event, eventBuffer)
	go o.runTurn(ctx, req, events)
	return events, nil
}

// EndConversation drops per-conversation turn state: the personal
// document memo and, when free, the serialization gate. Call it when
// the last client session for the conversation closes.
func (o *Orchestrator) EndConversation(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.memos, conversationID)

	gate, ok := o.gates[conversationID]
	if !ok {
		return
	}
	select {
	case gate <- struct{}{}:
		// Gate was free; safe to drop.
		delete(o.gates, conversationID)
	default:
		// A turn still holds it; the next EndConversation reclaims it.
	}
}

func (o *Orchestrator) runTurn(parent context.Context, req TurnRequest, events chan Event) {
	defer close(events)

	t := &turn{
		o:      o,
		req:    req,
		events: events,
		parent: parent,
		reg:    o.subsetFor(req.Agent),
		memo:   o.memoFor(req.ConversationID),
		logger: o.logger.With("conversation", req.ConversationID, "agent", req.Agent.Name),
	}

	// Concurrent turns on one conversation queue behind each other.
	gate := o.gateFor(req.ConversationID)
	select {
	case gate <- struct{}{}:
	default:
		t.emit(Event{Type: EventWarning, Content: "A previous turn is still running; your message is queued behind it."})
		select {
		case gate <- struct{}{}:
		case <-parent.Done():
			return
		}
	}
	defer func() { <-gate }()

	ctx, cancel := context.WithTimeout(parent, time.Duration(o.limits.TurnTimeoutS)*time.Second)
	defer cancel()

	tracer := observability.GetTracer("cfr_agents.orchestrator")
	ctx, span := tracer.Start(ctx, observability.SpanTurn, trace.WithAttributes(
		attribute.String(observability.AttrAgentName, req.Agent.Name),
		attribute.String(observability.AttrConversationID, req.ConversationID),
	))
	defer span.End()

	start := time.Now()
	err := t.run(ctx)
	observability.GetGlobalMetrics().RecordTurn(ctx, req.Agent.Name, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (o *Orchestrator) gateFor(conversationID string) chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	gate, ok := o.gates[conversationID]
	if !ok {
		gate = make(chan struct{}, 1)
		o.gates[conversationID] = gate
	}
	return gate
}

func (o *Orchestrator) memoFor(conversationID string) *tools.MemoStore {
	o.mu.Lock()
	defer o.mu.Unlock()
	memo, ok := o.memos[conversationID]
	if !ok {
		memo = tools.NewMemoStore()
		o.memos[conversationID] = memo
	}
	return memo
}

func (o *Orchestrator) subsetFor(a *agent.Agent) *tools.Registry {
	o.mu.Lock()
	defer o.mu.Unlock()
	reg, ok := o.subsets[a.Name]
	if !ok {
		reg = o.catalog.Subset(a.Tools)
		o.subsets[a.Name] = reg
	}
	return reg
}

// turn carries the state of one in-flight turn.
type turn struct {
	o      *Orchestrator
	req    TurnRequest
	events chan<- Event

	// parent is the connection-scoped context: it bounds event
	// delivery, while the turn's own budget is a child of it.
	parent context.Context

	reg    *tools.Registry
	memo   *tools.MemoStore
	logger *slog.Logger

	messages  []llm.Message
	completed []convstore.Turn
}

func (t *turn) run(ctx context.Context) error {
	turns, err := t.o.store.LoadTurns(ctx, t.req.ConversationID)
	if err != nil {
		t.logger.Error("Failed to load conversation history", "error", err)
		t.emit(Event{Type: EventError, Content: "Failed to load conversation history.", Classification: "storage"})
		return fmt.Errorf("load turns: %w", err)
	}

	userMsg := llm.UserMessage(t.req.UserText)
	t.messages = append(convstore.Messages(turns), userMsg)

	// The user turn lands immediately: if the round aborts, the
	// question survives even though the answer never happened.
	if _, err := t.o.store.AppendTurn(ctx, t.req.ConversationID, convstore.FromMessage(userMsg)); err != nil {
		t.logger.Warn("Failed to persist user turn", "error", err)
		t.emit(Event{Type: EventWarning, Content: "Your message could not be saved and may be missing after a reload."})
	}

	t.warnIfNearContextLimit()

	toolDefs := toolDefinitions(t.reg)
	toolsEnabled := len(toolDefs) > 0
	toolRounds := 0

	t.logger.Info("Turn started", "history_turns", len(turns), "tools", len(toolDefs))

	for round := 1; ; round++ {
		modelReq := llm.Request{System: t.req.Agent.SystemPrompt, Messages: t.messages}
		if toolsEnabled {
			modelReq.Tools = toolDefs
		}

		msg, err := t.streamModel(ctx, modelReq, round)
		if err != nil {
			return t.fail(ctx, err)
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 || !toolsEnabled {
			return t.finish(ctx, msg)
		}

		results, err := t.executeTools(ctx, calls)
		if err != nil {
			return t.fail(ctx, err)
		}

		// The assistant turn and its results commit together so a
		// replayed transcript never carries an unanswered tool call.
		resultMsg := llm.ToolResultMessage(results...)
		t.messages = append(t.messages, *msg, resultMsg)
		t.completed = append(t.completed, convstore.FromMessage(*msg), convstore.FromMessage(resultMsg))

		toolRounds++
		if toolRounds >= t.o.limits.MaxToolRounds && toolsEnabled {
			t.logger.Warn("Tool round limit reached, forcing final synthesis", "rounds", toolRounds)
			t.emit(Event{Type: EventWarning, Content: "⚠️ Tool call limit reached for this turn. Answering with the information gathered so far."})
			toolsEnabled = false
		}
	}
}

// streamModel runs one model call under the retry policy. Retry
// notices stream to the client as inline text.
func (t *turn) streamModel(ctx context.Context, req llm.Request, round int) (*llm.Message, error) {
	var rateLimitRetries, transientRetries int

	for {
		msg, err := t.streamOnce(ctx, req, round)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		pe, ok := llm.AsProviderError(err)
		if !ok {
			return nil, err
		}

		var retries *int
		var notice string
		switch pe.Kind {
		case llm.KindRateLimited:
			retries = &rateLimitRetries
			notice = "\n\n*API busy, retrying in %ds...*\n\n"
		case llm.KindTransient:
			retries = &transientRetries
			notice = "\n\n*Connection error, retrying in %ds...*\n\n"
		default:
			return nil, err
		}
		if *retries >= t.o.retry.budget(pe.Kind) {
			return nil, err
		}

		delay := t.o.retry.Delay(*retries)
		if pe.RetryAfter > delay {
			delay = pe.RetryAfter
		}
		*retries++

		t.logger.Warn("Model call failed, retrying",
			"kind", pe.Kind.String(), "delay", delay, "retry", *retries, "round", round)
		t.emit(Event{Type: EventText, Content: fmt.Sprintf(notice, int(delay.Seconds()))})

		if err := t.o.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// streamOnce makes a single streaming model call, forwarding deltas to
// the client as they arrive and returning the assembled message.
func (t *turn) streamOnce(ctx context.Context, req llm.Request, round int) (*llm.Message, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(t.o.limits.RequestTimeoutS)*time.Second)
	defer cancel()

	tracer := observability.GetTracer("cfr_agents.orchestrator")
	reqCtx, span := tracer.Start(reqCtx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, t.o.provider.ModelName())))
	defer span.End()

	start := time.Now()
	stream, err := t.o.provider.Stream(reqCtx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordLLMRequest(reqCtx, t.o.provider.ModelName(), time.Since(start), 0, 0, err)
		return nil, err
	}

	var (
		final      *llm.Message
		usage      llm.Usage
		stopReason string
		streamErr  error
	)
	for ev := range stream {
		switch ev.Type {
		case llm.EventText:
			if !t.emit(Event{Type: EventText, Content: ev.Text}) {
				cancel()
			}
		case llm.EventReasoning:
			if !t.emit(Event{Type: EventReasoning, Content: ev.Text}) {
				cancel()
			}
		case llm.EventToolUse:
			if ev.ToolCall == nil {
				continue
			}
			t.logger.Info("Model requested tool", "tool", ev.ToolCall.Name, "round", round)
			if !t.emit(Event{Type: EventToolUse, Tool: ev.ToolCall.Name, ToolCallID: ev.ToolCall.ID, Input: ev.ToolCall.Input}) {
				cancel()
			}
		case llm.EventStop:
			final = ev.Message
			stopReason = ev.StopReason
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case llm.EventError:
			streamErr = ev.Err
		}
	}

	observability.GetGlobalMetrics().RecordLLMRequest(reqCtx, t.o.provider.ModelName(),
		time.Since(start), usage.InputTokens, usage.OutputTokens, streamErr)

	if streamErr == nil && final == nil {
		streamErr = errors.New("model stream ended without a final message")
	}
	if streamErr != nil {
		// A request that outlived its own budget while the turn is
		// still alive is retryable.
		if errors.Is(streamErr, context.DeadlineExceeded) && ctx.Err() == nil {
			streamErr = &llm.ProviderError{Kind: llm.KindTransient, Message: "model request timed out", Err: streamErr}
		}
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, streamErr.Error())
		return nil, streamErr
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.Int("llm.input_tokens", usage.InputTokens),
		attribute.Int("llm.output_tokens", usage.OutputTokens),
	)

	if stopReason == "max_tokens" {
		t.logger.Warn("Response truncated by max_tokens", "round", round, "output_tokens", usage.OutputTokens)
	}
	t.logger.Info("Model round complete", "round", round, "stop_reason", stopReason, "output_tokens", usage.OutputTokens)
	return final, nil
}

// executeTools runs the round's tool calls in request order. Tool
// failures come back as model-facing text, never as turn errors; the
// only error out of here is context death.
func (t *turn) executeTools(ctx context.Context, calls []*llm.ToolCall) ([]llm.ContentBlock, error) {
	results := make([]llm.ContentBlock, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		t.emit(Event{Type: EventToolExecuting, Tool: call.Name, ToolCallID: call.ID, Input: call.Input})

		toolCtx, cancel := context.WithTimeout(ctx, time.Duration(t.o.limits.ToolTimeoutS)*time.Second)
		result := t.reg.Execute(toolCtx, call.Name, tools.Invocation{
			Args:        call.Input,
			IndexName:   t.req.Agent.IndexName,
			Fingerprint: t.req.Fingerprint,
			Memo:        t.memo,
		})
		cancel()

		results = append(results, llm.ToolResultBlock(call.ID, result, false))
		t.emit(Event{Type: EventToolResult, Tool: call.Name, ToolCallID: call.ID, Content: preview(result, toolResultPreview)})
	}
	return results, nil
}

// finish persists the transcript and closes the stream with done.
func (t *turn) finish(ctx context.Context, msg *llm.Message) error {
	t.completed = append(t.completed, convstore.FromMessage(*msg))
	t.flush(context.WithoutCancel(ctx))

	t.emitQuotaUpdate(ctx)

	done := Event{Type: EventDone}
	if citations := t.req.Agent.ExtractCitations(msg.Text()); len(citations) > 0 {
		done.Citations = citations
	}
	t.emit(done)

	t.logger.Info("Turn completed", "citations", len(done.Citations))
	return nil
}

// fail classifies a terminal error, persists the completed rounds, and
// closes the stream with error. A client disconnect skips both: there
// is nobody to deliver to, and an aborted round leaves no trace beyond
// the user turn.
func (t *turn) fail(ctx context.Context, err error) error {
	if t.parent.Err() != nil {
		t.logger.Info("Turn cancelled by client")
		return t.parent.Err()
	}

	ev := Event{Type: EventError}
	switch pe, ok := llm.AsProviderError(err); {
	case errors.Is(err, context.DeadlineExceeded):
		ev.Content = fmt.Sprintf("Turn timed out after %ds.", t.o.limits.TurnTimeoutS)
		ev.Classification = "timeout"
	case ok && pe.Kind == llm.KindRateLimited:
		ev.Content = fmt.Sprintf("LLM API unavailable after %d retries: %s", t.o.retry.RateLimitRetries, pe.Message)
		ev.Classification = pe.Kind.String()
	case ok && pe.Kind == llm.KindTransient:
		ev.Content = fmt.Sprintf("LLM API connection error: %s", pe.Message)
		ev.Classification = pe.Kind.String()
	case ok:
		ev.Content = fmt.Sprintf("LLM API error: %s", pe.Message)
		ev.Classification = pe.Kind.String()
	default:
		ev.Content = fmt.Sprintf("LLM API error: %v", err)
		ev.Classification = "fatal"
	}

	t.logger.Error("Turn failed", "error", err, "classification", ev.Classification)

	// Completed rounds persist even on a failed turn; only the round
	// in flight is lost.
	t.flush(context.WithoutCancel(ctx))
	t.emit(ev)
	return err
}

// flush persists the buffered rounds. Failures surface as a warning:
// the user already has the content on screen, so losing the save is
// not worth killing the turn over.
func (t *turn) flush(ctx context.Context) {
	if len(t.completed) == 0 {
		return
	}
	if err := t.o.store.AppendTurns(ctx, t.req.ConversationID, t.completed); err != nil {
		t.logger.Warn("Failed to persist turn transcript", "error", err, "turns", len(t.completed))
		t.emit(Event{Type: EventWarning, Content: "This exchange could not be saved and may be missing after a reload."})
		return
	}
	t.completed = nil
}

// emitQuotaUpdate debits one turn and reports the balance. Billing
// happens only on success; a failed turn costs nothing.
func (t *turn) emitQuotaUpdate(ctx context.Context) {
	if t.req.Fingerprint == "" {
		return
	}
	st, err := t.o.quota.Consume(ctx, t.req.Fingerprint)
	if err != nil && !errors.Is(err, quota.ErrExhausted) {
		t.logger.Warn("Failed to record quota usage", "error", err)
		return
	}
	if st.Limit < 0 {
		return
	}
	t.emit(Event{Type: EventQuotaUpdate, Quota: &st})
}

// warnIfNearContextLimit estimates the request size and warns the user
// before the provider starts rejecting oversized transcripts.
func (t *turn) warnIfNearContextLimit() {
	estimated := estimateTokens(t.req.Agent.SystemPrompt, t.messages)
	if estimated <= tokenWarningThreshold {
		return
	}
	pct := estimated * 100 / tokenLimit
	t.logger.Warn("Conversation approaching context limit", "estimated_tokens", estimated)
	t.emit(Event{Type: EventWarning, Content: fmt.Sprintf(
		"⚠️ This conversation is using ~%d%% of the context limit (%s / %s tokens). Consider starting a new conversation to avoid errors.",
		pct, groupThousands(estimated), groupThousands(tokenLimit))})
}

// emit delivers one event, applying backpressure when the transport's
// buffer is full. Events are abandoned only once the client connection
// itself is gone.
func (t *turn) emit(ev Event) bool {
	ev.Timestamp = time.Now().UTC()
	select {
	case t.events <- ev:
		return true
	default:
	}
	select {
	case t.events <- ev:
		return true
	case <-t.parent.Done():
		return false
	}
}

func toolDefinitions(reg *tools.Registry) []llm.ToolDefinition {
	defs := reg.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

func estimateTokens(system string, msgs []llm.Message) int {
	total := len(system)
	for _, msg := range msgs {
		for _, b := range msg.Content {
			total += len(b.Text) + len(b.Thinking) + len(b.Content)
			for k, v := range b.Input {
				total += len(k) + len(fmt.Sprint(v))
			}
		}
	}
	return total / 4
}

// preview clips s to at most n runes for event payloads.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// groupThousands renders a non-negative count with comma separators,
// e.g. 150000 becomes "150,000".
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
