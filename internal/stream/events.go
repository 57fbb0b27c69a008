// Package stream assembles incremental completion-service events into a
// finalized assistant response, accumulating in-flight tool calls.
package stream

// FinishReason indicates why the model stopped producing events.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxTokens FinishReason = "max_tokens"
)

// Event is one incremental event from a completion stream. Exactly one of
// the payload groups is meaningful per event; producers emit zero values for
// the rest.
type Event struct {
	// Text is a fragment of assistant-visible output.
	Text string

	// Reasoning is a fragment of secondary "thinking" output.
	Reasoning string

	// ToolCall carries a tool-call delta when non-nil.
	ToolCall *ToolCallDelta

	// Finish is set on the terminal event of a successful stream.
	Finish FinishReason

	// Err reports a transport failure; the stream ends after it.
	Err error

	// InputTokens and OutputTokens carry usage metadata when the
	// provider reports it (typically on the final event).
	InputTokens  int
	OutputTokens int
}

// ToolCallDelta is a fragment of an in-flight tool call. A delta with a
// non-empty ID different from the currently open call starts a new call;
// Name and Arguments are raw fragments concatenated by the assembler.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}
