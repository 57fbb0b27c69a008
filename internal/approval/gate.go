// Package approval gates tool executions behind user consent.
package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"loom/internal/logging"
	"loom/internal/tools"
)

// Decision is the user's answer to an approval prompt.
type Decision int

const (
	// Approve allows this execution only.
	Approve Decision = iota
	// ApproveSession allows this tool for the rest of the session.
	ApproveSession
	// Reject refuses this execution; the refusal reaches the model as an
	// error tool result so it can take another path.
	Reject
	// Cancel aborts the whole turn.
	Cancel
)

// Request describes one pending tool execution.
type Request struct {
	ToolName  string
	Arguments string // raw argument document, for display
	Diff      string // unified diff when the tool previews file changes
}

// Response carries the decision and optional feedback text that travels
// back to the model on rejection.
type Response struct {
	Decision Decision
	Feedback string
}

// Prompter asks the user for a decision. Implemented by the console
// frontend; tests substitute scripted prompters.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (Response, error)
}

// Gate decides whether tool executions may proceed, remembering
// session-wide approvals per tool.
type Gate struct {
	prompter Prompter
	autoOK   bool

	mu       sync.Mutex
	approved map[string]bool
}

// NewGate creates a gate backed by the given prompter.
func NewGate(prompter Prompter) *Gate {
	return &Gate{
		prompter: prompter,
		approved: make(map[string]bool),
	}
}

// SetAutoApprove bypasses prompting entirely. Used by non-interactive runs.
func (g *Gate) SetAutoApprove(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoOK = on
}

// Check decides whether the named tool may run with the given raw
// arguments. Tools that don't require approval pass through. Returns the
// response; a Cancel decision or prompter failure is the only path that
// stops the turn.
func (g *Gate) Check(ctx context.Context, tool tools.Tool, rawArgs string) (Response, error) {
	needsApproval := false
	if ar, ok := tool.(tools.ApprovalRequired); ok {
		args, err := tools.ParseArguments(tool.Name(), rawArgs)
		if err != nil {
			// Argument problems surface at execution; don't block here.
			args = map[string]any{}
		}
		needsApproval = ar.RequiresApproval(args)
	}
	if !needsApproval {
		return Response{Decision: Approve}, nil
	}

	g.mu.Lock()
	auto := g.autoOK || g.approved[tool.Name()]
	g.mu.Unlock()
	if auto {
		return Response{Decision: Approve}, nil
	}

	req := Request{ToolName: tool.Name(), Arguments: rawArgs}
	if dp, ok := tool.(tools.DiffPreviewer); ok {
		if args, err := tools.ParseArguments(tool.Name(), rawArgs); err == nil {
			if preview, err := dp.Preview(args); err == nil && preview != nil {
				req.Diff = RenderDiff(preview)
			} else if err != nil {
				logging.Debug("diff preview failed", "tool", tool.Name(), "error", err)
			}
		}
	}

	resp, err := g.prompter.Prompt(ctx, req)
	if err != nil {
		return Response{Decision: Cancel}, fmt.Errorf("approval prompt failed: %w", err)
	}

	if resp.Decision == ApproveSession {
		g.mu.Lock()
		g.approved[tool.Name()] = true
		g.mu.Unlock()
		resp.Decision = Approve
	}
	return resp, nil
}

// ParseAnswer interprets a typed answer. A bare acknowledgement approves,
// an explicit negative rejects, and "cancel"/ctrl-d style abort words
// cancel the turn. Anything else is treated as a rejection whose text goes
// back to the model as feedback.
func ParseAnswer(input string) Response {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "", "y", "yes", "ok", "approve":
		return Response{Decision: Approve}
	case "a", "always", "session":
		return Response{Decision: ApproveSession}
	case "n", "no", "reject", "deny":
		return Response{Decision: Reject}
	case "q", "quit", "cancel", "abort":
		return Response{Decision: Cancel}
	default:
		return Response{Decision: Reject, Feedback: strings.TrimSpace(input)}
	}
}

// RejectionContent renders the tool-result text for a rejected execution.
func RejectionContent(resp Response) string {
	if resp.Feedback != "" {
		return "user rejected this tool call: " + resp.Feedback
	}
	return "user rejected this tool call"
}
