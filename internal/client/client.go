// Package client talks to hosted completion services. Each implementation
// turns a provider's wire protocol into the ordered event stream consumed by
// the assembler; none of them interpret tool-call argument fragments.
package client

import (
	"context"

	"google.golang.org/genai"

	"loom/internal/message"
	"loom/internal/stream"
)

// Request is one outgoing completion request: the system prompt, the
// budget-selected history view, and the active tool declarations.
type Request struct {
	SystemPrompt    string
	Messages        []message.Message
	Tools           []*genai.FunctionDeclaration
	MaxOutputTokens int
}

// Client is the interface to one completion provider.
type Client interface {
	// Stream starts a completion and returns the event channel. The
	// channel is closed when the stream ends; a transport failure is
	// delivered as an Event with Err set.
	Stream(ctx context.Context, req *Request) (<-chan stream.Event, error)

	// Complete performs a single non-streaming, tool-free exchange.
	// Used for auxiliary calls such as history summarization.
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)

	// Model returns the configured model name.
	Model() string

	// Close releases the client's resources.
	Close() error
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string // Model identifier (e.g. "gemini-2.5-flash")
	Name        string // Human-readable name
	Provider    string // "gemini", "anthropic", or "ollama"
	MaxContext  int    // Context window in tokens
	Description string
}

// AvailableModels lists the supported models across providers.
var AvailableModels = []ModelInfo{
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "gemini", MaxContext: 1048576, Description: "Fast default"},
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: "gemini", MaxContext: 1048576, Description: "Most capable Gemini"},
	{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: "anthropic", MaxContext: 200000, Description: "Anthropic flagship coding model"},
	{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Provider: "anthropic", MaxContext: 200000, Description: "Fast Anthropic model"},
	{ID: "ollama", Name: "Ollama (local)", Provider: "ollama", MaxContext: 32768, Description: "Local model, use --model from 'ollama list'"},
}

// LookupModel returns info for a model id, with fuzzy provider matching.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range AvailableModels {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
