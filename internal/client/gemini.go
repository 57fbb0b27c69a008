package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"loom/internal/logging"
	"loom/internal/message"
	"loom/internal/stream"
)

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	Retry           RetryConfig
}

// GeminiClient wraps the Google Gemini API behind the Client interface.
type GeminiClient struct {
	client *genai.Client
	config GeminiConfig
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key required (set GEMINI_API_KEY or api.gemini_key)")
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, config: cfg}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.config.Model
}

// Close is a no-op; the genai client has no explicit close.
func (c *GeminiClient) Close() error {
	return nil
}

// Stream starts a streaming completion against the Gemini API.
func (c *GeminiClient) Stream(ctx context.Context, req *Request) (<-chan stream.Event, error) {
	contents := convertToGeminiContents(req.Messages)

	genConfig := &genai.GenerateContentConfig{}
	if c.config.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(c.config.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxOutputTokens)
	} else if c.config.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = c.config.MaxOutputTokens
	}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: req.Tools}}
	}

	events := make(chan stream.Event, 16)
	go c.streamWithRetry(ctx, contents, genConfig, events)
	return events, nil
}

// streamWithRetry runs the streaming request, retrying transient failures
// that occur before any event has been delivered. Once data flows, a failure
// surfaces in-band and the turn-level policy decides what happens next.
func (c *GeminiClient) streamWithRetry(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig, events chan<- stream.Event) {
	defer close(events)

	var lastErr error
	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.Retry.RetryDelay, attempt-1, c.config.Retry.MaxDelay)
			logging.Info("retrying Gemini request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				events <- stream.Event{Err: ctx.Err()}
				return
			}
		}

		delivered, err := c.runStream(ctx, contents, genConfig, events)
		if err == nil {
			return
		}
		lastErr = err

		if delivered || !isRetryable(err, 0) {
			events <- stream.Event{Err: err}
			return
		}
		logging.Warn("Gemini request failed, will retry", "attempt", attempt, "error", err)
	}

	events <- stream.Event{Err: fmt.Errorf("max retries (%d) exceeded: %w", c.config.Retry.MaxRetries, lastErr)}
}

// runStream performs one streaming attempt. It reports whether any event was
// delivered before the error, so the caller knows if a retry is safe.
func (c *GeminiClient) runStream(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig, events chan<- stream.Event) (bool, error) {
	delivered := false
	sawToolCalls := false

	send := func(ev stream.Event) bool {
		select {
		case events <- ev:
			delivered = true
			return true
		case <-ctx.Done():
			return false
		}
	}

	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.config.Model, contents, genConfig) {
		if err != nil {
			return delivered, err
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			if !send(stream.Event{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}) {
				return delivered, ctx.Err()
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		candidate := resp.Candidates[0]
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				var ev stream.Event
				switch {
				case part.Thought && part.Text != "":
					ev = stream.Event{Reasoning: part.Text}
				case part.Text != "":
					ev = stream.Event{Text: part.Text}
				case part.FunctionCall != nil:
					sawToolCalls = true
					for _, callEv := range functionCallEvents(part.FunctionCall) {
						if !send(callEv) {
							return delivered, ctx.Err()
						}
					}
					continue
				default:
					continue
				}
				if !send(ev) {
					return delivered, ctx.Err()
				}
			}
		}

		if candidate.FinishReason != "" {
			finish := stream.FinishStop
			switch {
			case sawToolCalls:
				finish = stream.FinishToolCalls
			case candidate.FinishReason == genai.FinishReasonMaxTokens:
				finish = stream.FinishMaxTokens
			}
			send(stream.Event{Finish: finish})
			return delivered, nil
		}
	}

	if sawToolCalls {
		send(stream.Event{Finish: stream.FinishToolCalls})
	} else {
		send(stream.Event{Finish: stream.FinishStop})
	}
	return delivered, nil
}

// functionCallEvents renders one complete function call as delta events:
// an opening delta carrying id and name, then the whole argument document
// as a single fragment. Gemini delivers calls whole, not incrementally.
func functionCallEvents(call *genai.FunctionCall) []stream.Event {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}

	events := []stream.Event{{ToolCall: &stream.ToolCallDelta{ID: id, Name: call.Name}}}

	args, err := json.Marshal(call.Args)
	if err != nil {
		logging.Warn("failed to marshal function call args", "tool", call.Name, "error", err)
		args = []byte("{}")
	}
	events = append(events, stream.Event{ToolCall: &stream.ToolCallDelta{ID: id, Arguments: string(args)}})
	return events
}

// Complete performs a single non-streaming, tool-free exchange.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	genConfig := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(userText, genai.RoleUser)}

	var lastErr error
	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.Retry.RetryDelay, attempt-1, c.config.Retry.MaxDelay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genConfig)
		if err == nil {
			return resp.Text(), nil
		}
		lastErr = err
		if !isRetryable(err, 0) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", c.config.Retry.MaxRetries, lastErr)
}

// convertToGeminiContents renders the history view as genai contents. Each
// part carries exactly one of text, function call, or function response.
func convertToGeminiContents(msgs []message.Message) []*genai.Content {
	var out []*genai.Content

	for _, m := range msgs {
		switch msg := m.(type) {
		case *message.User:
			text := msg.Content
			if text == "" {
				text = " "
			}
			out = append(out, genai.NewContentFromText(text, genai.RoleUser))

		case *message.Assistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				part := genai.NewPartFromFunctionCall(tc.Name, args)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(" "))
			}
			out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case *message.Tool:
			part := genai.NewPartFromFunctionResponse(msg.Name, map[string]any{"output": msg.Content})
			part.FunctionResponse.ID = msg.ToolCallID
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})

		case *message.System:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return out
}
