package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"loom/internal/tools"
)

// mcpHandler answers the minimal method set a gateway connection exercises.
func mcpHandler(toolNames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := answer(&msg, toolNames)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func answer(msg *JSONRPCMessage, toolNames []string) *JSONRPCMessage {
	if msg.IsNotification() {
		return nil
	}
	resp := &JSONRPCMessage{JSONRPC: "2.0", ID: msg.ID}
	switch msg.Method {
	case MethodInitialize:
		resp.Result = InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      &ServerInfo{Name: "test-server", Version: "0.1"},
		}
	case MethodToolsList:
		var list []*ToolInfo
		for _, name := range toolNames {
			list = append(list, &ToolInfo{
				Name:        name,
				InputSchema: &JSONSchema{Type: "object"},
			})
		}
		resp.Result = ListToolsResult{Tools: list}
	case MethodToolsCall:
		resp.Result = CallToolResult{
			Content: []*ContentBlock{{Type: "text", Text: "remote result"}},
		}
	default:
		resp.Error = &Error{Code: -32601, Message: "method not found"}
	}
	return resp
}

// echoTool is a local tool used by gateway tests.
type echoTool struct {
	name string
}

func (e *echoTool) Name() string { return e.name }

func (e *echoTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: e.name, Description: "echoes its input"}
}

func (e *echoTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	text, _ := tools.GetString(args, "text")
	return tools.Ok("echo: " + text), nil
}

func newTestRegistry(t *testing.T, names ...string) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, name := range names {
		if err := reg.Register(&echoTool{name: name}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return reg
}

func TestGatewayQualifiedNamesStayUnique(t *testing.T) {
	t.Parallel()

	// Two remote providers advertise a tool named "search"; a local tool
	// shares the name too. All three must remain addressable.
	srvA := httptest.NewServer(mcpHandler([]string{"search"}))
	defer srvA.Close()
	srvB := httptest.NewServer(mcpHandler([]string{"search"}))
	defer srvB.Close()

	g := NewGateway(newTestRegistry(t, "search"))
	defer g.Close()

	ctx := context.Background()
	for name, url := range map[string]string{"alpha": srvA.URL, "beta": srvB.URL} {
		if err := g.Connect(ctx, ServerConfig{
			Name:      name,
			Transport: TransportHTTP,
			URL:       url,
			Timeout:   5 * time.Second,
		}); err != nil {
			t.Fatalf("connect %s: %v", name, err)
		}
	}

	decls := g.Declarations()
	seen := map[string]bool{}
	for _, d := range decls {
		if seen[d.Name] {
			t.Fatalf("duplicate declaration name %q", d.Name)
		}
		seen[d.Name] = true
	}
	for _, want := range []string{"search", "alpha__search", "beta__search"} {
		if !seen[want] {
			t.Errorf("missing declaration %q (have %v)", want, declNames(decls))
		}
	}
}

func declNames(decls []*genai.FunctionDeclaration) []string {
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	return names
}

func TestGatewayInvokeRoutes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(mcpHandler([]string{"search"}))
	defer srv.Close()

	g := NewGateway(newTestRegistry(t, "echo"))
	defer g.Close()

	ctx := context.Background()
	if err := g.Connect(ctx, ServerConfig{
		Name: "remote", Transport: TransportHTTP, URL: srv.URL, Timeout: 5 * time.Second,
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	cases := []struct {
		name        string
		tool        string
		args        string
		wantErrText bool
		wantContain string
	}{
		{"local tool", "echo", `{"text":"hi"}`, false, "echo: hi"},
		{"remote tool", "remote__search", `{"q":"x"}`, false, "remote result"},
		{"empty args means none", "echo", "", false, "echo: "},
		{"malformed args", "echo", `{"text":`, true, "invalid arguments"},
		{"unknown local tool", "nope", "{}", true, "unknown tool"},
		{"unknown provider", "ghost__tool", "{}", true, "unknown tool provider"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Invoke(ctx, tc.tool, tc.args)
			if err != nil {
				t.Fatalf("Invoke returned error: %v", err)
			}
			if res.IsError != tc.wantErrText {
				t.Errorf("IsError = %v, want %v (content %q)", res.IsError, tc.wantErrText, res.Content)
			}
			if !strings.Contains(res.Content, tc.wantContain) {
				t.Errorf("content %q does not contain %q", res.Content, tc.wantContain)
			}
		})
	}
}

func TestGatewayInvokeCancelledContext(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	if err := reg.Register(&blockingTool{}); err != nil {
		t.Fatal(err)
	}
	g := NewGateway(reg)
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Invoke(ctx, "block", "{}")
	if err == nil {
		t.Fatal("cancelled context should surface as an error, not a result")
	}
}

type blockingTool struct{}

func (b *blockingTool) Name() string { return "block" }

func (b *blockingTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: "block"}
}

func (b *blockingTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	<-ctx.Done()
	return tools.Result{}, ctx.Err()
}

func TestGatewayHTTPFallsBackToSSE(t *testing.T) {
	t.Parallel()

	// The server refuses streamable HTTP at /mcp but speaks SSE at /sse,
	// with responses delivered over the event stream.
	responses := make(chan *JSONRPCMessage, 10)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "streamable HTTP not supported", http.StatusNotFound)
	})
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "no flusher", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case resp := <-responses:
				data, _ := json.Marshal(resp)
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if resp := answer(&msg, []string{"lookup"}); resp != nil {
			responses <- resp
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGateway(nil)
	defer g.Close()

	ctx := context.Background()
	err := g.Connect(ctx, ServerConfig{
		Name:      "legacy",
		Transport: TransportHTTP,
		URL:       srv.URL + "/mcp",
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("connect with fallback: %v", err)
	}

	statuses := g.Status()
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	s := statuses[0]
	if s.ConfiguredTransport != TransportHTTP {
		t.Errorf("configured transport = %s", s.ConfiguredTransport)
	}
	if s.ActualTransport != TransportSSE {
		t.Errorf("actual transport = %s, want sse", s.ActualTransport)
	}
	if !s.Connected || s.ToolCount != 1 {
		t.Errorf("status = %+v", s)
	}

	res, err := g.Invoke(ctx, "legacy__lookup", `{}`)
	if err != nil {
		t.Fatalf("invoke over fallback: %v", err)
	}
	if res.IsError || res.Content != "remote result" {
		t.Errorf("result = %+v", res)
	}
}

func TestGatewayConnectToleratesFailure(t *testing.T) {
	t.Parallel()

	good := httptest.NewServer(mcpHandler([]string{"ok_tool"}))
	defer good.Close()

	g := NewGateway(nil)
	defer g.Close()

	g.ConnectAll(context.Background(), []ServerConfig{
		{Name: "dead", Transport: TransportHTTP, URL: "http://127.0.0.1:1/mcp", Timeout: time.Second},
		{Name: "live", Transport: TransportHTTP, URL: good.URL, Timeout: 5 * time.Second},
	})

	statuses := g.Status()
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses", len(statuses))
	}
	byName := map[string]ProviderStatus{}
	for _, s := range statuses {
		byName[s.Name] = s
	}
	if byName["dead"].Connected {
		t.Error("dead provider reported connected")
	}
	if byName["dead"].Err == nil {
		t.Error("dead provider should carry its error")
	}
	if !byName["live"].Connected || byName["live"].ToolCount != 1 {
		t.Errorf("live status = %+v", byName["live"])
	}
}

func TestGatewayRejectsSeparatorInProviderName(t *testing.T) {
	t.Parallel()

	g := NewGateway(nil)
	err := g.Connect(context.Background(), ServerConfig{Name: "a__b", Transport: TransportHTTP, URL: "http://x"})
	if err == nil {
		t.Fatal("provider name containing the separator must be rejected")
	}
}
