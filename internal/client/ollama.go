package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"google.golang.org/genai"

	"loom/internal/logging"
	"loom/internal/message"
	"loom/internal/stream"
)

// OllamaConfig configures a local Ollama client.
type OllamaConfig struct {
	BaseURL     string // Default: "http://localhost:11434"
	Model       string // e.g. "llama3.2", "qwen2.5-coder"
	Temperature float32
	MaxTokens   int32
	HTTPTimeout time.Duration
	Retry       RetryConfig
}

// OllamaClient implements Client against a local or remote Ollama server.
type OllamaClient struct {
	client *api.Client
	config OllamaConfig
}

// NewOllamaClient creates an Ollama API client.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("Ollama connection uses unencrypted HTTP to remote host", "host", host)
		}
	}

	return &OllamaClient{
		client: api.NewClient(baseURL, &http.Client{Timeout: cfg.HTTPTimeout}),
		config: cfg,
	}, nil
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.config.Model
}

// Close is a no-op; the Ollama client keeps no persistent connection.
func (c *OllamaClient) Close() error {
	return nil
}

// Healthcheck verifies the Ollama server is reachable. The SDK has no ping,
// so List doubles as the probe.
func (c *OllamaClient) Healthcheck(ctx context.Context) error {
	if _, err := c.client.List(ctx); err != nil {
		return wrapOllamaError(err, c.config.Model)
	}
	return nil
}

// ListModels returns the models installed on the server.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, wrapOllamaError(err, c.config.Model)
	}
	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Stream starts a streaming chat completion.
func (c *OllamaClient) Stream(ctx context.Context, req *Request) (<-chan stream.Event, error) {
	chatReq := c.buildChatRequest(req)
	events := make(chan stream.Event, 16)
	go c.streamWithRetry(ctx, chatReq, events)
	return events, nil
}

func (c *OllamaClient) buildChatRequest(req *Request) *api.ChatRequest {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, convertToOllamaMessages(req.Messages)...)

	chatReq := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   new(bool),
		Options:  map[string]any{"num_predict": c.config.MaxTokens},
	}
	*chatReq.Stream = true
	if req.MaxOutputTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxOutputTokens
	}
	if c.config.Temperature > 0 {
		chatReq.Options["temperature"] = c.config.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOllamaTools(req.Tools)
	}
	return chatReq
}

func (c *OllamaClient) streamWithRetry(ctx context.Context, chatReq *api.ChatRequest, events chan<- stream.Event) {
	defer close(events)

	var lastErr error
	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.Retry.RetryDelay, attempt-1, c.config.Retry.MaxDelay)
			logging.Info("retrying Ollama request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				events <- stream.Event{Err: ctx.Err()}
				return
			}
		}

		delivered, err := c.runChat(ctx, chatReq, events)
		if err == nil {
			return
		}
		lastErr = err

		if delivered || !isOllamaRetryable(err) {
			events <- stream.Event{Err: wrapOllamaError(err, c.config.Model)}
			return
		}
		logging.Warn("Ollama request failed, will retry", "attempt", attempt, "error", err)
	}

	events <- stream.Event{Err: fmt.Errorf("max retries (%d) exceeded: %w", c.config.Retry.MaxRetries, wrapOllamaError(lastErr, c.config.Model))}
}

// runChat performs one streaming attempt, reporting whether any event was
// delivered before a failure.
func (c *OllamaClient) runChat(ctx context.Context, chatReq *api.ChatRequest, events chan<- stream.Event) (bool, error) {
	delivered := false
	sawToolCalls := false

	send := func(ev stream.Event) error {
		select {
		case events <- ev:
			delivered = true
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			if err := send(stream.Event{Text: resp.Message.Content}); err != nil {
				return err
			}
		}
		if resp.Message.Thinking != "" {
			if err := send(stream.Event{Reasoning: resp.Message.Thinking}); err != nil {
				return err
			}
		}

		for i, tc := range resp.Message.ToolCalls {
			sawToolCalls = true
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
				if tc.Function.Index > 0 {
					id = fmt.Sprintf("call_%d", tc.Function.Index)
				}
			}
			if err := send(stream.Event{ToolCall: &stream.ToolCallDelta{ID: id, Name: tc.Function.Name}}); err != nil {
				return err
			}
			args, merr := json.Marshal(tc.Function.Arguments.ToMap())
			if merr != nil {
				args = []byte("{}")
			}
			if err := send(stream.Event{ToolCall: &stream.ToolCallDelta{ID: id, Arguments: string(args)}}); err != nil {
				return err
			}
		}

		if resp.Done {
			if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
				if err := send(stream.Event{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}); err != nil {
					return err
				}
			}
			finish := stream.FinishStop
			if sawToolCalls {
				finish = stream.FinishToolCalls
			}
			return send(stream.Event{Finish: finish})
		}
		return nil
	})

	return delivered, err
}

// Complete performs a single non-streaming, tool-free exchange.
func (c *OllamaClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	messages := []api.Message{}
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userText})

	streamOff := false
	req := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   &streamOff,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", wrapOllamaError(err, c.config.Model)
	}
	return sb.String(), nil
}

// convertToOllamaMessages renders the history view as Ollama chat messages.
func convertToOllamaMessages(msgs []message.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))

	for _, m := range msgs {
		switch msg := m.(type) {
		case *message.User:
			out = append(out, api.Message{Role: "user", Content: msg.Content})

		case *message.Assistant:
			am := api.Message{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				var parsed map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &parsed); err != nil {
					parsed = map[string]any{}
				}
				args := api.NewToolCallFunctionArguments()
				for k, v := range parsed {
					args.Set(k, v)
				}
				am.ToolCalls = append(am.ToolCalls, api.ToolCall{
					ID:       tc.ID,
					Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, am)

		case *message.Tool:
			content := msg.Content
			if msg.IsError {
				content = "Error: " + content
			}
			out = append(out, api.Message{
				Role:       "tool",
				Content:    content,
				ToolName:   msg.Name,
				ToolCallID: msg.ToolCallID,
			})

		case *message.System:
			out = append(out, api.Message{Role: "user", Content: msg.Content})
		}
	}

	return out
}

// convertToOllamaTools renders function declarations as Ollama tools.
func convertToOllamaTools(decls []*genai.FunctionDeclaration) []api.Tool {
	tools := make([]api.Tool, 0, len(decls))

	for _, decl := range decls {
		if decl == nil {
			continue
		}
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}
		if decl.Parameters != nil {
			params.Required = decl.Parameters.Required
			for name, propSchema := range decl.Parameters.Properties {
				prop := api.ToolProperty{Description: propSchema.Description}
				if propSchema.Type != "" {
					prop.Type = api.PropertyType{strings.ToLower(string(propSchema.Type))}
				}
				if len(propSchema.Enum) > 0 {
					enumVals := make([]any, len(propSchema.Enum))
					for i, v := range propSchema.Enum {
						enumVals[i] = v
					}
					prop.Enum = enumVals
				}
				params.Properties.Set(name, prop)
			}
		}

		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
		})
	}

	return tools
}

func isOllamaRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return isRetryable(err, 0)
}

// wrapOllamaError attaches actionable hints to the common failure modes.
func wrapOllamaError(err error, model string) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") {
		return fmt.Errorf("Ollama server is not running (start it with 'ollama serve'): %w", err)
	}

	var statusErr *api.StatusError
	notFound := errors.As(err, &statusErr) && statusErr.StatusCode == 404
	if notFound || (strings.Contains(errStr, "model") && strings.Contains(errStr, "not found")) {
		return fmt.Errorf("model %q is not installed (pull it with 'ollama pull %s'): %w", model, model, err)
	}

	return err
}
