package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"loom/internal/logging"
)

// SSETransport talks to a server over the legacy SSE pairing: one long-lived
// GET carries server-to-client events, and the first event names the
// endpoint client-to-server messages are POSTed to.
type SSETransport struct {
	sseURL  string
	headers map[string]string
	timeout time.Duration
	client  *http.Client

	endpoint string
	recvChan chan *JSONRPCMessage

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSSETransport opens the event stream and waits for the server to
// announce its message endpoint.
func NewSSETransport(sseURL string, headers map[string]string, timeout time.Duration) (*SSETransport, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	t := &SSETransport{
		sseURL:  sseURL,
		headers: headers,
		timeout: timeout,
		// No client timeout: the event stream stays open indefinitely.
		client:   &http.Client{},
		recvChan: make(chan *JSONRPCMessage, 10),
		ctx:      ctx,
		cancel:   cancel,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("SSE connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("SSE connection failed: HTTP %d", resp.StatusCode)
	}

	endpointCh := make(chan string, 1)
	go t.readEvents(resp.Body, endpointCh)

	select {
	case endpoint := <-endpointCh:
		resolved, err := t.resolveEndpoint(endpoint)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.endpoint = resolved
	case <-time.After(timeout):
		t.Close()
		return nil, fmt.Errorf("timed out waiting for SSE endpoint event")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logging.Debug("MCP SSE transport connected", "url", sseURL, "endpoint", t.endpoint)
	return t, nil
}

// resolveEndpoint resolves a possibly-relative endpoint against the SSE URL.
func (t *SSETransport) resolveEndpoint(endpoint string) (string, error) {
	base, err := url.Parse(t.sseURL)
	if err != nil {
		return "", fmt.Errorf("invalid SSE URL: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// readEvents scans the event stream, delivering the endpoint announcement
// once and JSON-RPC messages thereafter.
func (t *SSETransport) readEvents(body io.ReadCloser, endpointCh chan<- string) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventType := ""
	var data strings.Builder

	dispatch := func() {
		defer func() {
			eventType = ""
			data.Reset()
		}()
		payload := strings.TrimSpace(data.String())
		if payload == "" {
			return
		}
		switch eventType {
		case "endpoint":
			select {
			case endpointCh <- payload:
			default:
			}
		case "message", "":
			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				logging.Warn("failed to parse SSE message", "error", err)
				return
			}
			select {
			case t.recvChan <- &msg:
			case <-t.ctx.Done():
			}
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	dispatch()
}

func (t *SSETransport) Send(msg *JSONRPCMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	endpoint := t.endpoint
	t.mu.Unlock()

	if endpoint == "" {
		return fmt.Errorf("SSE endpoint not established")
	}

	msg.JSONRPC = "2.0"
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := (&http.Client{Timeout: t.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (t *SSETransport) Receive() (*JSONRPCMessage, error) {
	select {
	case msg := <-t.recvChan:
		return msg, nil
	case <-t.ctx.Done():
		return nil, io.EOF
	}
}

func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}
