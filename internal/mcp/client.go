package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loom/internal/logging"
)

// failureThreshold is the number of consecutive request failures after
// which a server is considered unhealthy.
const failureThreshold = 3

// Client handles JSON-RPC communication with one MCP server.
type Client struct {
	transport  Transport
	serverName string
	timeout    time.Duration

	serverInfo  *ServerInfo
	initialized bool
	mu          sync.RWMutex

	nextID    int64
	pending   map[int64]chan *JSONRPCMessage
	pendingMu sync.Mutex

	consecutiveFailures atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client over an already-open transport and starts its
// receive loop.
func NewClient(serverName string, transport Transport, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		transport:  transport,
		serverName: serverName,
		timeout:    timeout,
		pending:    make(map[int64]chan *JSONRPCMessage),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

func (c *Client) receiveLoop() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msg, err := c.transport.Receive()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			logging.Warn("MCP receive error", "server", c.serverName, "error", err)
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *JSONRPCMessage) {
	if msg.IsResponse() {
		// JSON numbers decode as float64.
		id, ok := msg.ID.(float64)
		if !ok {
			logging.Warn("MCP response with invalid ID type", "id", msg.ID)
			return
		}

		c.pendingMu.Lock()
		ch, exists := c.pending[int64(id)]
		if exists {
			delete(c.pending, int64(id))
		}
		c.pendingMu.Unlock()

		if exists {
			select {
			case ch <- msg:
			default:
			}
		} else {
			logging.Warn("MCP response for unknown request", "server", c.serverName, "id", id)
		}
	} else if msg.IsNotification() {
		logging.Debug("MCP notification received", "server", c.serverName, "method", msg.Method)
	}
}

// request sends a request and waits for its response, tracking consecutive
// failures so the gateway can report unhealthy servers.
func (c *Client) request(ctx context.Context, method string, params any) (*JSONRPCMessage, error) {
	resp, err := c.doRequest(ctx, method, params)
	if err != nil {
		c.consecutiveFailures.Add(1)
		return nil, err
	}
	c.consecutiveFailures.Store(0)
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method string, params any) (*JSONRPCMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	respCh := make(chan *JSONRPCMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := &JSONRPCMessage{ID: id, Method: method, Params: params}
	if err := c.transport.Send(msg); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("request timeout after %v", c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) notify(method string, params any) error {
	return c.transport.Send(&JSONRPCMessage{Method: method, Params: params})
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	params := &InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      &ClientInfo{Name: "loom", Version: "1.0.0"},
		Capabilities:    map[string]any{},
	}

	resp, err := c.request(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result InitializeResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}
	c.serverInfo = result.ServerInfo

	if err := c.notify(MethodInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}
	c.initialized = true

	name, version := "unknown", ""
	if c.serverInfo != nil {
		name, version = c.serverInfo.Name, c.serverInfo.Version
	}
	logging.Info("MCP server initialized", "name", c.serverName, "server", name, "version", version)
	return nil
}

// ListTools retrieves the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]*ToolInfo, error) {
	if !c.IsInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	resp, err := c.request(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	var result ListToolsResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if !c.IsInitialized() {
		return nil, fmt.Errorf("client not initialized")
	}

	resp, err := c.request(ctx, MethodToolsCall, &CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tools/call failed: %w", err)
	}

	var result CallToolResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse call result: %w", err)
	}
	return &result, nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsInitialized() {
		return fmt.Errorf("client not initialized")
	}
	_, err := c.request(ctx, MethodPing, nil)
	return err
}

// IsInitialized reports whether the handshake completed.
func (c *Client) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Healthy reports whether the server has not exceeded the consecutive
// failure threshold.
func (c *Client) Healthy() bool {
	return c.consecutiveFailures.Load() < failureThreshold
}

// ServerName returns the configured provider name.
func (c *Client) ServerName() string {
	return c.serverName
}

// Close stops the receive loop and closes the transport.
func (c *Client) Close() error {
	c.cancel()

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		logging.Warn("MCP client receive loop did not stop in time", "server", c.serverName)
	}

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// decodeResult re-marshals a decoded JSON-RPC result into a typed struct.
func decodeResult(result any, out any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
