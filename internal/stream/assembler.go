package stream

import (
	"context"
	"strings"

	"loom/internal/logging"
	"loom/internal/message"
)

// Status classifies a finalized response.
type Status string

const (
	// StatusDone means the model finished with plain text.
	StatusDone Status = "done"
	// StatusToolCalls means the model requested tool execution.
	StatusToolCalls Status = "tool_calls"
)

// Response is the finalized result of one completion stream.
type Response struct {
	Status    Status
	Content   string
	Reasoning string
	ToolCalls []message.ToolCall

	InputTokens  int
	OutputTokens int
}

// Empty reports whether nothing at all was assembled. The orchestrator
// retries a failed stream only when this holds, so a half-delivered
// response with side effects pending is never replayed.
func (r *Response) Empty() bool {
	return r == nil || (r.Content == "" && r.Reasoning == "" && len(r.ToolCalls) == 0)
}

// Handler provides notification-only callbacks fired while assembling.
type Handler struct {
	// OnText is called for each text fragment.
	OnText func(text string)

	// OnReasoning is called for each reasoning fragment.
	OnReasoning func(text string)

	// OnToolCallStart is called once per tool call, when its id is first
	// announced. The name may still be incomplete at that point.
	OnToolCallStart func(id string)
}

// Assembler folds a single ordered event stream into a Response. It is
// single-consumer state: one assembler per stream, no concurrent use.
type Assembler struct {
	text      strings.Builder
	reasoning strings.Builder

	// Open tool-call accumulator. Fragments are concatenated raw; the
	// arguments document is parsed only by the tool layer.
	openID   string
	openName strings.Builder
	openArgs strings.Builder

	completed []message.ToolCall

	inputTokens  int
	outputTokens int
}

// New creates an empty assembler.
func New() *Assembler {
	return &Assembler{}
}

// Consume drains events until a finish event, a stream error, or context
// cancellation. On a transport error it returns the error together with the
// partial response assembled so far; it never fabricates a finalized
// assistant message from a broken stream.
func (a *Assembler) Consume(ctx context.Context, events <-chan Event, h *Handler) (*Response, error) {
	if h == nil {
		h = &Handler{}
	}

	for {
		select {
		case <-ctx.Done():
			return a.snapshot(StatusDone), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Producer closed without a finish event; treat as stop.
				return a.finalize(FinishStop), nil
			}

			if ev.Err != nil {
				logging.Warn("stream error mid-completion", "error", ev.Err)
				return a.snapshot(StatusDone), ev.Err
			}

			if ev.InputTokens > 0 {
				a.inputTokens = ev.InputTokens
			}
			if ev.OutputTokens > 0 {
				a.outputTokens += ev.OutputTokens
			}

			if ev.Text != "" {
				a.text.WriteString(ev.Text)
				if h.OnText != nil {
					h.OnText(ev.Text)
				}
			}

			if ev.Reasoning != "" {
				a.reasoning.WriteString(ev.Reasoning)
				if h.OnReasoning != nil {
					h.OnReasoning(ev.Reasoning)
				}
			}

			if ev.ToolCall != nil {
				a.applyToolDelta(ev.ToolCall, h)
			}

			if ev.Finish != "" {
				return a.finalize(ev.Finish), nil
			}
		}
	}
}

// applyToolDelta folds one tool-call fragment into the open accumulator.
func (a *Assembler) applyToolDelta(d *ToolCallDelta, h *Handler) {
	if d.ID != "" && d.ID != a.openID {
		a.closeOpenCall()
		a.openID = d.ID
		if h.OnToolCallStart != nil {
			h.OnToolCallStart(d.ID)
		}
	}
	a.openName.WriteString(d.Name)
	a.openArgs.WriteString(d.Arguments)
}

// closeOpenCall finalizes the open accumulator, if any, into the result list.
func (a *Assembler) closeOpenCall() {
	if a.openID == "" {
		return
	}
	a.completed = append(a.completed, message.ToolCall{
		ID:        a.openID,
		Name:      a.openName.String(),
		Arguments: a.openArgs.String(),
	})
	a.openID = ""
	a.openName.Reset()
	a.openArgs.Reset()
}

// finalize closes any open call and classifies the response. A stop signal
// that arrives while a tool call is still open still yields tool_calls:
// some providers never send an explicit tool_calls finish reason. The
// tool_calls status always carries at least one call.
func (a *Assembler) finalize(reason FinishReason) *Response {
	a.closeOpenCall()

	status := StatusDone
	if len(a.completed) > 0 {
		status = StatusToolCalls
	} else if reason == FinishToolCalls {
		logging.Warn("tool_calls finish with no accumulated calls")
	}
	return a.snapshot(status)
}

func (a *Assembler) snapshot(status Status) *Response {
	return &Response{
		Status:       status,
		Content:      a.text.String(),
		Reasoning:    a.reasoning.String(),
		ToolCalls:    a.completed,
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
	}
}
