package budget

import (
	"context"
	"errors"
	"fmt"

	"loom/internal/logging"
	"loom/internal/message"
)

// ErrSystemPromptTooLarge reports that the system prompt alone exceeds the
// budget. This is a configuration problem, not a normal trim: the turn must
// fail loudly rather than send an empty history and hope.
var ErrSystemPromptTooLarge = errors.New("system prompt alone exceeds the context budget")

// Mode selects what happens to messages cut by a trim.
type Mode int

const (
	// ModeDrop discards cut messages from the outgoing view.
	ModeDrop Mode = iota
	// ModeSummarize condenses cut messages with one auxiliary model call
	// and appends the result to the system prompt.
	ModeSummarize
)

// Plan is the outgoing request view computed from the full log.
type Plan struct {
	// Messages is the selected history: empty, or beginning with a user
	// message, and containing no orphaned assistant/tool pairs.
	Messages []message.Message

	// TotalTokens is the estimated cost of system prompt plus Messages.
	TotalTokens int

	// MaxAllowed is the ceiling the plan was computed against.
	MaxAllowed int

	// DroppedCount is how many messages were cut from the view.
	DroppedCount int

	// Summary is the condensed form of cut messages in summarize mode.
	Summary string

	// Degraded is set when summarization was requested but failed and
	// the manager fell back to dropping.
	Degraded bool
}

// Summarizer condenses a span of messages into one short text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []message.Message) (string, error)
}

// Manager computes outgoing request views under a token budget. It reads
// the log, never mutates it.
type Manager struct {
	budget     Budget
	mode       Mode
	summarizer Summarizer
}

// NewManager creates a budget manager. summarizer may be nil, which forces
// drop mode.
func NewManager(b Budget, mode Mode, summarizer Summarizer) *Manager {
	if summarizer == nil {
		mode = ModeDrop
	}
	return &Manager{budget: b, mode: mode, summarizer: summarizer}
}

// Budget returns the configured budget.
func (m *Manager) Budget() Budget {
	return m.budget
}

// Plan selects the history to send alongside the given system prompt.
//
// The fast path returns the history unchanged when everything fits; it does
// no allocation beyond the cost sums and is idempotent. The slow path scans
// forward from the oldest message until the surplus is covered, then
// advances the cut to the next user message so the remainder never starts
// mid tool-call cycle.
func (m *Manager) Plan(ctx context.Context, history []message.Message, systemPrompt string) (*Plan, error) {
	maxAllowed := m.budget.MaxAllowed()

	systemCost := EstimateText(systemPrompt)
	if systemCost > maxAllowed {
		return nil, fmt.Errorf("%w: %d tokens against %d allowed", ErrSystemPromptTooLarge, systemCost, maxAllowed)
	}

	historyCost := EstimateMessages(history)
	if systemCost+historyCost <= maxAllowed {
		return &Plan{
			Messages:    history,
			TotalTokens: systemCost + historyCost,
			MaxAllowed:  maxAllowed,
		}, nil
	}

	surplus := systemCost + historyCost - maxAllowed

	// Walk forward accumulating costs until the surplus is covered.
	cut := 0
	covered := 0
	for cut < len(history) && covered < surplus {
		covered += EstimateMessage(history[cut])
		cut++
	}

	// Advance to the next user message so the remaining history starts a
	// complete tool-call cycle.
	for cut < len(history) && history[cut].Kind() != message.KindUser {
		cut++
	}

	dropped := history[:cut]
	kept := history[cut:]

	plan := &Plan{
		Messages:     kept,
		MaxAllowed:   maxAllowed,
		DroppedCount: len(dropped),
	}

	if m.mode == ModeSummarize && len(dropped) > 0 {
		summary, err := m.summarizer.Summarize(ctx, dropped)
		if err != nil {
			logging.Warn("history summarization failed, dropping instead", "error", err, "messages", len(dropped))
			plan.Degraded = true
		} else {
			plan.Summary = summary
			systemCost += EstimateText(summary)
		}
	}

	// The summary itself costs tokens; if it pushed the request back over
	// the ceiling, keep cutting at user boundaries until it fits.
	for systemCost+EstimateMessages(kept) > maxAllowed && len(kept) > 0 {
		next := 1
		for next < len(kept) && kept[next].Kind() != message.KindUser {
			next++
		}
		kept = kept[next:]
		plan.DroppedCount += next
	}
	plan.Messages = kept

	plan.TotalTokens = systemCost + EstimateMessages(kept)

	logging.Info("history trimmed for budget",
		"dropped", plan.DroppedCount,
		"kept", len(kept),
		"tokens", plan.TotalTokens,
		"max_allowed", maxAllowed,
		"degraded", plan.Degraded)

	return plan, nil
}

// SystemPrompt combines the base system prompt with a trim summary, if any.
func (p *Plan) SystemPrompt(base string) string {
	if p.Summary == "" {
		return base
	}
	return base + "\n\n[prior conversation summary]\n" + p.Summary
}
