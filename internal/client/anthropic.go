package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"loom/internal/logging"
	"loom/internal/message"
	"loom/internal/stream"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicConfig configures an Anthropic-compatible client. Several
// providers speak this dialect behind custom base URLs.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Retry     RetryConfig
}

// AnthropicClient talks to the Anthropic Messages API over SSE.
type AnthropicClient struct {
	config     AnthropicConfig
	httpClient *http.Client
}

// NewAnthropicClient creates a client for the Anthropic Messages API.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &AnthropicClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.config.Model
}

// Close releases idle connections.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Stream starts a streaming completion. Request setup is retried with
// backoff for transient failures; once the SSE stream is open, failures are
// delivered in-band and never retried here.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (<-chan stream.Event, error) {
	body := map[string]any{
		"model":      c.config.Model,
		"max_tokens": c.config.MaxTokens,
		"stream":     true,
		"messages":   convertToAnthropicMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}
	if req.MaxOutputTokens > 0 {
		body["max_tokens"] = req.MaxOutputTokens
	}
	if len(req.Tools) > 0 {
		body["tools"] = convertToAnthropicTools(req.Tools)
	}

	resp, err := c.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan stream.Event, 16)
	go c.scanSSE(ctx, resp.Body, events)
	return events, nil
}

// doWithRetry posts the request body, retrying transient failures.
func (c *AnthropicClient) doWithRetry(ctx context.Context, body map[string]any) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.config.Retry.RetryDelay, attempt-1, c.config.Retry.MaxDelay)
			logging.Info("retrying completion request", "attempt", attempt, "delay", delay, "last_status", lastStatus)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			lastStatus = httpErr.StatusCode
		}
		if !isRetryable(err, lastStatus) {
			return nil, err
		}
		logging.Warn("completion request failed, will retry", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.config.Retry.MaxRetries, lastErr)
}

func (c *AnthropicClient) doRequest(ctx context.Context, body map[string]any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			respBody = []byte("(failed to read response body)")
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return resp, nil
}

// scanSSE reads the event stream line by line and emits assembler events.
// Tool-call argument fragments pass through verbatim: the raw partial JSON
// is concatenated downstream, never parsed here.
func (c *AnthropicClient) scanSSE(ctx context.Context, body io.ReadCloser, events chan<- stream.Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Block index → tool-call id, so input_json_delta events can be
	// attributed to the right call.
	toolBlocks := make(map[int]string)
	finished := false

	send := func(ev stream.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			send(stream.Event{Err: ctx.Err()})
			return
		default:
		}

		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			logging.Warn("failed to parse SSE event", "error", err)
			continue
		}

		for _, ev := range anthropicEvents(event, toolBlocks) {
			if ev.Finish != "" {
				finished = true
			}
			if !send(ev) {
				return
			}
			if ev.Finish != "" || ev.Err != nil {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(stream.Event{Err: fmt.Errorf("stream read failed: %w", err)})
		return
	}
	if !finished {
		// Connection dropped before the terminal event.
		send(stream.Event{Err: errors.New("stream ended without a finish event")})
	}
}

// anthropicEvents maps one wire event to zero or more assembler events.
func anthropicEvents(event map[string]any, toolBlocks map[int]string) []stream.Event {
	eventType, _ := event["type"].(string)

	switch eventType {
	case "content_block_start":
		block, _ := event["content_block"].(map[string]any)
		if blockType, _ := block["type"].(string); blockType == "tool_use" {
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			if idx, ok := event["index"].(float64); ok {
				toolBlocks[int(idx)] = id
			}
			return []stream.Event{{ToolCall: &stream.ToolCallDelta{ID: id, Name: name}}}
		}

	case "content_block_delta":
		delta, _ := event["delta"].(map[string]any)
		switch deltaType, _ := delta["type"].(string); deltaType {
		case "text_delta":
			if text, _ := delta["text"].(string); text != "" {
				return []stream.Event{{Text: text}}
			}
		case "thinking_delta":
			if thinking, _ := delta["thinking"].(string); thinking != "" {
				return []stream.Event{{Reasoning: thinking}}
			}
		case "input_json_delta":
			partial, _ := delta["partial_json"].(string)
			if partial == "" {
				return nil
			}
			var id string
			if idx, ok := event["index"].(float64); ok {
				id = toolBlocks[int(idx)]
			}
			return []stream.Event{{ToolCall: &stream.ToolCallDelta{ID: id, Arguments: partial}}}
		}

	case "message_delta":
		var out []stream.Event
		if usage, ok := event["usage"].(map[string]any); ok {
			if n, ok := usage["output_tokens"].(float64); ok {
				out = append(out, stream.Event{OutputTokens: int(n)})
			}
		}
		if delta, ok := event["delta"].(map[string]any); ok {
			if stopReason, ok := delta["stop_reason"].(string); ok {
				out = append(out, stream.Event{Finish: mapStopReason(stopReason)})
			}
		}
		return out

	case "message_start":
		if msg, ok := event["message"].(map[string]any); ok {
			if usage, ok := msg["usage"].(map[string]any); ok {
				if n, ok := usage["input_tokens"].(float64); ok {
					return []stream.Event{{InputTokens: int(n)}}
				}
			}
		}

	case "message_stop":
		return []stream.Event{{Finish: stream.FinishStop}}

	case "error":
		errData, _ := event["error"].(map[string]any)
		errType, _ := errData["type"].(string)
		errMsg, _ := errData["message"].(string)
		return []stream.Event{{Err: fmt.Errorf("API error: %s: %s", errType, errMsg)}}
	}

	return nil
}

func mapStopReason(reason string) stream.FinishReason {
	switch reason {
	case "tool_use":
		return stream.FinishToolCalls
	case "max_tokens":
		return stream.FinishMaxTokens
	default:
		return stream.FinishStop
	}
}

// Complete performs a single non-streaming, tool-free exchange.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	body := map[string]any{
		"model":      c.config.Model,
		"max_tokens": c.config.MaxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": userText},
		},
	}
	if systemPrompt != "" {
		body["system"] = systemPrompt
	}

	resp, err := c.doWithRetry(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// convertToAnthropicMessages renders the history view in the Messages API
// shape. Tool results become tool_result blocks inside a user message;
// consecutive tool results merge into one.
func convertToAnthropicMessages(msgs []message.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))

	appendToolResult := func(m *message.Tool) {
		block := map[string]any{
			"type":        "tool_result",
			"tool_use_id": m.ToolCallID,
			"content":     m.Content,
		}
		if m.IsError {
			block["is_error"] = true
		}

		if len(out) > 0 {
			last := out[len(out)-1]
			if last["role"] == "user" {
				if blocks, ok := last["content"].([]map[string]any); ok && len(blocks) > 0 && blocks[0]["type"] == "tool_result" {
					last["content"] = append(blocks, block)
					return
				}
			}
		}
		out = append(out, map[string]any{
			"role":    "user",
			"content": []map[string]any{block},
		})
	}

	for _, m := range msgs {
		switch msg := m.(type) {
		case *message.User:
			content := msg.Content
			if content == "" {
				content = "(empty)"
			}
			out = append(out, map[string]any{"role": "user", "content": content})

		case *message.Assistant:
			blocks := make([]map[string]any, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": argumentsToObject(tc.Arguments),
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, map[string]any{"type": "text", "text": "(empty)"})
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})

		case *message.Tool:
			appendToolResult(msg)

		case *message.System:
			// Transcript notices travel as user text.
			out = append(out, map[string]any{"role": "user", "content": msg.Content})
		}
	}

	return out
}

// argumentsToObject decodes the accumulated arguments document for the wire.
// The API requires an object here; an unparseable document degrades to an
// empty one (the tool layer has already reported the schema error).
func argumentsToObject(arguments string) map[string]any {
	if arguments == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(arguments), &obj); err != nil {
		logging.Warn("unparseable tool arguments in history", "error", err)
		return map[string]any{}
	}
	return obj
}

// convertToAnthropicTools renders function declarations as Anthropic tools.
func convertToAnthropicTools(decls []*genai.FunctionDeclaration) []map[string]any {
	tools := make([]map[string]any, 0, len(decls))
	for _, d := range decls {
		if d == nil {
			continue
		}
		tools = append(tools, map[string]any{
			"name":         d.Name,
			"description":  d.Description,
			"input_schema": genaiSchemaToMap(d.Parameters),
		})
	}
	return tools
}

// genaiSchemaToMap renders a genai schema as plain JSON Schema.
func genaiSchemaToMap(s *genai.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object"}
	}

	out := map[string]any{}
	switch s.Type {
	case genai.TypeString:
		out["type"] = "string"
	case genai.TypeNumber:
		out["type"] = "number"
	case genai.TypeInteger:
		out["type"] = "integer"
	case genai.TypeBoolean:
		out["type"] = "boolean"
	case genai.TypeArray:
		out["type"] = "array"
		if s.Items != nil {
			out["items"] = genaiSchemaToMap(s.Items)
		}
	default:
		out["type"] = "object"
		if len(s.Properties) > 0 {
			props := make(map[string]any, len(s.Properties))
			for name, prop := range s.Properties {
				props[name] = genaiSchemaToMap(prop)
			}
			out["properties"] = props
		}
		if len(s.Required) > 0 {
			out["required"] = s.Required
		}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	return out
}
