// Package budget keeps the outgoing conversation within a token ceiling,
// selecting or compressing history before each completion request.
package budget

import (
	"strings"

	"loom/internal/message"
)

// Budget describes the token ceiling for outgoing requests.
type Budget struct {
	// MaxContextTokens is the model's configured context size.
	MaxContextTokens int

	// TargetRatio is the utilization target applied to MaxContextTokens,
	// typically 0.7-0.8.
	TargetRatio float64
}

// MaxAllowed returns the effective ceiling for system prompt plus history.
func (b Budget) MaxAllowed() int {
	ratio := b.TargetRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.8
	}
	return int(float64(b.MaxContextTokens) * ratio)
}

// Token estimation. The trim path must not make network calls, so costs are
// estimated locally: roughly four characters per token for prose plus a flat
// per-message envelope overhead.
const (
	charsPerToken      = 4
	perMessageOverhead = 4
)

// EstimateText estimates the token cost of a raw string.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// EstimateMessage estimates the token cost of a single message, including
// tool-call names and argument documents for assistant messages.
func EstimateMessage(m message.Message) int {
	cost := perMessageOverhead + EstimateText(m.Text())

	switch msg := m.(type) {
	case *message.Assistant:
		cost += EstimateText(msg.Reasoning)
		for _, tc := range msg.ToolCalls {
			cost += EstimateText(tc.Name) + EstimateText(tc.Arguments)
		}
	case *message.Tool:
		cost += EstimateText(msg.Name)
	case *message.User:
		cost += EstimateText(strings.Join(msg.Attachments, " "))
	}

	return cost
}

// EstimateMessages sums message costs.
func EstimateMessages(msgs []message.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
