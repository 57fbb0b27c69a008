package mcp

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	"loom/internal/logging"
	"loom/internal/tools"
)

// Result is the outcome of one gateway invocation. Failures are carried in
// the result so they reach the model as tool output instead of aborting the
// turn.
type Result struct {
	Content string
	IsError bool
}

// ToolError attributes an invocation failure to its qualified tool name.
type ToolError struct {
	Qualified string
	Err       error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Qualified, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// connection is one connected remote provider.
type connection struct {
	config ServerConfig
	client *Client
	// actualTransport may differ from config.Transport after fallback.
	actualTransport TransportKind
	tools           []*ToolInfo
	err             error
}

// ProviderStatus describes one provider for status displays.
type ProviderStatus struct {
	Name                string
	ConfiguredTransport TransportKind
	ActualTransport     TransportKind
	Connected           bool
	Healthy             bool
	ToolCount           int
	Err                 error
}

// Gateway unifies the built-in tool registry and remote MCP servers behind
// one invocation surface keyed by qualified tool names.
type Gateway struct {
	local *tools.Registry

	mu          sync.RWMutex
	connections map[string]*connection
}

// NewGateway creates a gateway over the given built-in registry. The
// registry may be nil when only remote providers are wanted.
func NewGateway(local *tools.Registry) *Gateway {
	return &Gateway{
		local:       local,
		connections: make(map[string]*connection),
	}
}

// Connect establishes one remote provider connection. An HTTP provider
// whose handshake fails is retried once over SSE at a derived URL; the
// status records both the configured and the actual transport.
func (g *Gateway) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if strings.Contains(cfg.Name, Separator) {
		return fmt.Errorf("provider name %q must not contain %q", cfg.Name, Separator)
	}

	conn := &connection{config: cfg, actualTransport: cfg.Transport}

	client, actual, err := g.dial(ctx, cfg)
	if err != nil {
		conn.err = err
		g.mu.Lock()
		g.connections[cfg.Name] = conn
		g.mu.Unlock()
		return fmt.Errorf("provider %s: %w", cfg.Name, err)
	}
	conn.client = client
	conn.actualTransport = actual

	toolList, err := client.ListTools(ctx)
	if err != nil {
		conn.err = err
		logging.Warn("provider connected but tool discovery failed", "provider", cfg.Name, "error", err)
	}
	conn.tools = toolList

	g.mu.Lock()
	if old, ok := g.connections[cfg.Name]; ok && old.client != nil {
		old.client.Close()
	}
	g.connections[cfg.Name] = conn
	g.mu.Unlock()

	logging.Info("provider connected",
		"provider", cfg.Name,
		"transport", actual,
		"tools", len(toolList))
	return nil
}

// dial opens a transport and completes the handshake, applying the
// HTTP-to-SSE fallback.
func (g *Gateway) dial(ctx context.Context, cfg ServerConfig) (*Client, TransportKind, error) {
	switch cfg.Transport {
	case TransportStdio:
		transport, err := NewStdioTransport(cfg.Command, cfg.Args, cfg.Env)
		if err != nil {
			return nil, cfg.Transport, err
		}
		client := NewClient(cfg.Name, transport, cfg.Timeout)
		if err := client.Initialize(ctx); err != nil {
			client.Close()
			return nil, cfg.Transport, err
		}
		return client, TransportStdio, nil

	case TransportHTTP:
		client := NewClient(cfg.Name, NewHTTPTransport(cfg.URL, cfg.Headers, cfg.Timeout), cfg.Timeout)
		httpErr := client.Initialize(ctx)
		if httpErr == nil {
			return client, TransportHTTP, nil
		}
		client.Close()

		sseURL, derr := DeriveSSEURL(cfg.URL)
		if derr != nil {
			return nil, cfg.Transport, httpErr
		}
		logging.Info("HTTP handshake failed, retrying over SSE",
			"provider", cfg.Name, "sse_url", sseURL, "error", httpErr)

		transport, err := NewSSETransport(sseURL, cfg.Headers, cfg.Timeout)
		if err != nil {
			return nil, cfg.Transport, fmt.Errorf("HTTP handshake failed (%v); SSE fallback failed: %w", httpErr, err)
		}
		client = NewClient(cfg.Name, transport, cfg.Timeout)
		if err := client.Initialize(ctx); err != nil {
			client.Close()
			return nil, cfg.Transport, fmt.Errorf("HTTP handshake failed (%v); SSE handshake failed: %w", httpErr, err)
		}
		return client, TransportSSE, nil

	case TransportSSE:
		transport, err := NewSSETransport(cfg.URL, cfg.Headers, cfg.Timeout)
		if err != nil {
			return nil, cfg.Transport, err
		}
		client := NewClient(cfg.Name, transport, cfg.Timeout)
		if err := client.Initialize(ctx); err != nil {
			client.Close()
			return nil, cfg.Transport, err
		}
		return client, TransportSSE, nil

	default:
		return nil, cfg.Transport, fmt.Errorf("unknown transport type: %s", cfg.Transport)
	}
}

// DeriveSSEURL guesses a provider's SSE endpoint from its HTTP endpoint by
// replacing the last path segment with "sse" (".../mcp" becomes ".../sse").
// Best effort: servers with unconventional layouts need explicit config.
func DeriveSSEURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	p := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i]
	}
	u.Path = p + "/sse"
	return u.String(), nil
}

// ConnectAll connects every configured provider, tolerating individual
// failures so one bad server does not take down the rest.
func (g *Gateway) ConnectAll(ctx context.Context, configs []ServerConfig) {
	for _, cfg := range configs {
		if err := g.Connect(ctx, cfg); err != nil {
			logging.Warn("provider connection failed", "provider", cfg.Name, "error", err)
		}
	}
}

// Declarations returns every available tool declaration: built-in tools
// under their plain names, remote tools under qualified names. Output is
// sorted for a stable request shape.
func (g *Gateway) Declarations() []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	if g.local != nil {
		decls = append(decls, g.local.Declarations()...)
	}

	g.mu.RLock()
	for name, conn := range g.connections {
		if conn.client == nil {
			continue
		}
		for _, tool := range conn.tools {
			decls = append(decls, ConvertTool(name, tool))
		}
	}
	g.mu.RUnlock()

	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Invoke executes one tool call. The raw argument document is parsed here
// and nowhere upstream; a malformed document, an unknown tool, and an
// execution failure all come back as error results. The returned error is
// non-nil only for context cancellation.
func (g *Gateway) Invoke(ctx context.Context, name, rawArgs string) (Result, error) {
	args, err := tools.ParseArguments(name, rawArgs)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}

	provider, localName := SplitQualified(name)
	if provider == "" {
		return g.invokeLocal(ctx, localName, args)
	}

	g.mu.RLock()
	conn, ok := g.connections[provider]
	g.mu.RUnlock()
	if !ok || conn.client == nil {
		// A qualified name with an unknown provider may be a local tool
		// whose name happens to contain the separator.
		if g.local != nil {
			if _, found := g.local.Get(name); found {
				return g.invokeLocal(ctx, name, args)
			}
		}
		return Result{Content: fmt.Sprintf("unknown tool provider: %s", provider), IsError: true}, nil
	}

	callResult, err := conn.client.CallTool(ctx, localName, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{Content: (&ToolError{Qualified: name, Err: err}).Error(), IsError: true}, nil
	}

	return Result{
		Content: FormatContentBlocks(callResult.Content),
		IsError: callResult.IsError,
	}, nil
}

func (g *Gateway) invokeLocal(ctx context.Context, name string, args map[string]any) (Result, error) {
	if g.local == nil {
		return Result{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
	tool, ok := g.local.Get(name)
	if !ok {
		return Result{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{Content: (&ToolError{Qualified: name, Err: err}).Error(), IsError: true}, nil
	}
	return Result{Content: res.Content, IsError: res.IsError}, nil
}

// LocalTool resolves a name to a built-in tool, for approval checks.
func (g *Gateway) LocalTool(name string) (tools.Tool, bool) {
	if g.local == nil {
		return nil, false
	}
	if t, ok := g.local.Get(name); ok {
		return t, true
	}
	return nil, false
}

// Status reports the state of every remote provider, sorted by name.
func (g *Gateway) Status() []ProviderStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(g.connections))
	for name, conn := range g.connections {
		s := ProviderStatus{
			Name:                name,
			ConfiguredTransport: conn.config.Transport,
			ActualTransport:     conn.actualTransport,
			Connected:           conn.client != nil,
			ToolCount:           len(conn.tools),
			Err:                 conn.err,
		}
		if conn.client != nil {
			s.Healthy = conn.client.Healthy()
		}
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Close shuts down all remote provider connections.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for name, conn := range g.connections {
		if conn.client == nil {
			continue
		}
		if err := conn.client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing provider %s: %w", name, err)
		}
	}
	g.connections = make(map[string]*connection)
	return firstErr
}
