// Package orchestrator drives the conversation loop: build request, stream,
// execute tool calls, repeat until the model stops asking for tools.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loom/internal/approval"
	"loom/internal/budget"
	"loom/internal/client"
	"loom/internal/logging"
	"loom/internal/mcp"
	"loom/internal/message"
	"loom/internal/stream"
)

// Callbacks are notification-only presentation hooks. All of them may be
// nil; none of them may influence control flow.
type Callbacks struct {
	OnText           func(text string)
	OnReasoning      func(text string)
	OnAssistantDone  func(msg *message.Assistant)
	OnToolCallStart  func(id string)
	OnToolCallResult func(call message.ToolCall, result *message.Tool)
	OnError          func(err error)
}

// Interrupter is consulted at state transitions; when it reports true the
// turn winds down cooperatively.
type Interrupter interface {
	ShouldInterrupt() bool
}

// Config tunes one orchestrator.
type Config struct {
	SystemPrompt string

	// MaxToolCallsPerTurn caps tool executions within one user turn.
	MaxToolCallsPerTurn int

	// MaxStreamRetries bounds retries of a failed stream that assembled
	// nothing. Backoff is linear.
	MaxStreamRetries int
	RetryDelay       time.Duration
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxToolCallsPerTurn: 25,
		MaxStreamRetries:    2,
		RetryDelay:          2 * time.Second,
	}
}

// Orchestrator owns one conversation: the append-only log, the completion
// client, the tool gateway, and the approval gate.
type Orchestrator struct {
	client    client.Client
	gateway   *mcp.Gateway
	gate      *approval.Gate
	budget    *budget.Manager
	log       *message.Log
	config    Config
	callbacks Callbacks

	interrupter Interrupter
	interrupted atomic.Bool

	mu    sync.Mutex
	state State
	busy  bool
}

// New creates an orchestrator. gate may be nil when no approvals are wanted.
func New(c client.Client, gateway *mcp.Gateway, gate *approval.Gate, bm *budget.Manager, cfg Config) *Orchestrator {
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = 25
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Orchestrator{
		client:  c,
		gateway: gateway,
		gate:    gate,
		budget:  bm,
		log:     message.NewLog(),
		config:  cfg,
		state:   StateIdle,
	}
}

// SetCallbacks installs the presentation hooks.
func (o *Orchestrator) SetCallbacks(cb Callbacks) {
	o.callbacks = cb
}

// SetInterrupter installs an external interrupt predicate.
func (o *Orchestrator) SetInterrupter(i Interrupter) {
	o.interrupter = i
}

// Interrupt requests a cooperative stop of the current turn. The log stays
// valid; nothing is rolled back.
func (o *Orchestrator) Interrupt() {
	o.interrupted.Store(true)
}

// Log returns the conversation log.
func (o *Orchestrator) Log() *message.Log {
	return o.log
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	logging.Debug("orchestrator state", "state", s.String())
}

func (o *Orchestrator) shouldStop() bool {
	if o.interrupted.Load() {
		return true
	}
	return o.interrupter != nil && o.interrupter.ShouldInterrupt()
}

func (o *Orchestrator) reportError(err error) {
	if o.callbacks.OnError != nil {
		o.callbacks.OnError(err)
	}
}

// ProcessTurn runs one user turn to completion: the user message is
// appended, then request/stream/execute cycles run until the model finishes
// without tool calls, the tool-call cap trips, or the turn is interrupted.
func (o *Orchestrator) ProcessTurn(ctx context.Context, userText string, attachments []string) error {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return fmt.Errorf("a turn is already in progress")
	}
	o.busy = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
		o.setState(StateIdle)
	}()

	o.interrupted.Store(false)
	o.log.Append(message.NewUser(userText, attachments...))

	callsUsed := 0
	for {
		o.setState(StateBuildingRequest)
		if o.shouldStop() {
			return nil
		}

		plan, err := o.budget.Plan(ctx, o.log.Messages(), o.config.SystemPrompt)
		if err != nil {
			// Configuration errors are fatal for the turn, never retried.
			o.reportError(err)
			return err
		}

		req := &client.Request{
			SystemPrompt: plan.SystemPrompt(o.config.SystemPrompt),
			Messages:     plan.Messages,
			Tools:        o.gateway.Declarations(),
		}

		o.setState(StateStreaming)
		resp, err := o.streamWithRetry(ctx, req)
		if err != nil {
			o.reportError(err)
			return err
		}

		assistant := message.NewAssistant(resp.Content, resp.Reasoning, resp.ToolCalls)
		o.log.Append(assistant)
		if o.callbacks.OnAssistantDone != nil {
			o.callbacks.OnAssistantDone(assistant)
		}

		if resp.Status != stream.StatusToolCalls {
			return nil
		}

		o.setState(StateAwaitingTools)
		done, err := o.executeToolCalls(ctx, resp.ToolCalls, &callsUsed)
		if err != nil {
			o.reportError(err)
			return err
		}
		if done {
			return nil
		}
	}
}

// streamWithRetry opens the completion stream and assembles it, retrying
// with linear backoff only when the failed attempt assembled nothing. A
// stream that delivered content before failing is surfaced, not replayed.
func (o *Orchestrator) streamWithRetry(ctx context.Context, req *client.Request) (*stream.Response, error) {
	handler := &stream.Handler{
		OnText:          o.callbacks.OnText,
		OnReasoning:     o.callbacks.OnReasoning,
		OnToolCallStart: o.callbacks.OnToolCallStart,
	}

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxStreamRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * o.config.RetryDelay
			logging.Info("retrying turn", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		events, err := o.client.Stream(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := stream.New().Consume(ctx, events, handler)
		if err == nil {
			return resp, nil
		}
		if !resp.Empty() {
			return nil, fmt.Errorf("stream failed after partial response: %w", err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("stream failed after %d retries: %w", o.config.MaxStreamRetries, lastErr)
}

// executeToolCalls runs the requested calls strictly in order. Every call
// receives exactly one result message, including rejected, interrupted, and
// truncated calls. Returns done=true when the turn must end here.
func (o *Orchestrator) executeToolCalls(ctx context.Context, calls []message.ToolCall, callsUsed *int) (bool, error) {
	o.setState(StateExecutingTools)

	allowed := o.config.MaxToolCallsPerTurn - *callsUsed
	truncated := len(calls) > allowed

	for i, call := range calls {
		if i >= allowed {
			o.appendToolResult(call, message.NewToolError(call.ID, call.Name, "not executed: tool-call limit for this turn reached"))
			continue
		}

		if o.shouldStop() {
			o.resolveRemaining(calls[i:], "not executed: turn interrupted by user")
			return true, nil
		}

		resp, stop, err := o.checkApproval(ctx, call)
		if err != nil {
			o.resolveRemaining(calls[i:], "not executed: approval prompt failed")
			return true, err
		}
		if stop {
			o.resolveRemaining(calls[i:], "not executed: turn cancelled by user")
			return true, nil
		}
		if resp.Decision == approval.Reject {
			*callsUsed++
			o.appendToolResult(call, message.NewToolError(call.ID, call.Name, approval.RejectionContent(resp)))
			continue
		}

		result, err := o.gateway.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			// Only context cancellation escapes the gateway as an error.
			o.resolveRemaining(calls[i:], "not executed: turn cancelled")
			return true, err
		}

		*callsUsed++
		var toolMsg *message.Tool
		if result.IsError {
			toolMsg = message.NewToolError(call.ID, call.Name, result.Content)
		} else {
			toolMsg = message.NewTool(call.ID, call.Name, result.Content)
		}
		o.appendToolResult(call, toolMsg)
	}

	if truncated {
		notice := fmt.Sprintf("tool-call limit reached: %d calls were executed this turn; the remaining requests were skipped", o.config.MaxToolCallsPerTurn)
		o.log.Append(message.NewSystem(notice))
		logging.Warn("tool-call cap hit", "cap", o.config.MaxToolCallsPerTurn)
		return true, nil
	}
	return false, nil
}

// checkApproval consults the gate for local tools. Remote provider tools
// pass through: their approval story lives server-side.
func (o *Orchestrator) checkApproval(ctx context.Context, call message.ToolCall) (approval.Response, bool, error) {
	if o.gate == nil {
		return approval.Response{Decision: approval.Approve}, false, nil
	}
	tool, ok := o.gateway.LocalTool(call.Name)
	if !ok {
		return approval.Response{Decision: approval.Approve}, false, nil
	}

	resp, err := o.gate.Check(ctx, tool, call.Arguments)
	if err != nil {
		return resp, false, err
	}
	if resp.Decision == approval.Cancel {
		return resp, true, nil
	}
	return resp, false, nil
}

// resolveRemaining appends one synthesized error result per unexecuted
// call, keeping the one-result-per-call invariant even on abort paths.
func (o *Orchestrator) resolveRemaining(calls []message.ToolCall, reason string) {
	for _, call := range calls {
		o.appendToolResult(call, message.NewToolError(call.ID, call.Name, reason))
	}
}

func (o *Orchestrator) appendToolResult(call message.ToolCall, result *message.Tool) {
	o.log.Append(result)
	if o.callbacks.OnToolCallResult != nil {
		o.callbacks.OnToolCallResult(call, result)
	}
}
