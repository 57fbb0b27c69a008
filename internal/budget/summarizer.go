package budget

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/client"
	"loom/internal/message"
)

const summaryPrompt = `Condense the following conversation fragment into a short factual summary.
Preserve: decisions made, files touched, tool results that later turns depend on, and unresolved questions.
Omit pleasantries and duplicated tool output. Answer with the summary only.`

// maxSummaryInputChars bounds the text handed to the auxiliary call so the
// summarization request itself cannot blow the context window.
const maxSummaryInputChars = 48000

// ClientSummarizer condenses trimmed history with one auxiliary completion
// call against the configured client.
type ClientSummarizer struct {
	client client.Client
}

// NewClientSummarizer creates a summarizer backed by the given client.
func NewClientSummarizer(c client.Client) *ClientSummarizer {
	return &ClientSummarizer{client: c}
}

// Summarize renders the messages to a transcript and asks the model for a
// condensed version. One call, no tools, no streaming callbacks.
func (s *ClientSummarizer) Summarize(ctx context.Context, msgs []message.Message) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(string(m.Kind()))
		sb.WriteString(": ")
		switch msg := m.(type) {
		case *message.Assistant:
			if msg.Content != "" {
				sb.WriteString(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(&sb, " [called %s %s]", tc.Name, tc.Arguments)
			}
		case *message.Tool:
			fmt.Fprintf(&sb, "[%s result] %s", msg.Name, msg.Content)
		default:
			sb.WriteString(m.Text())
		}
		sb.WriteString("\n")
	}

	transcript := sb.String()
	if len(transcript) > maxSummaryInputChars {
		transcript = transcript[len(transcript)-maxSummaryInputChars:]
	}

	text, err := s.client.Complete(ctx, summaryPrompt, transcript)
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}

	return strings.TrimSpace(text), nil
}
