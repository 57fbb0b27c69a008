package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"loom/internal/approval"
	"loom/internal/budget"
	"loom/internal/client"
	"loom/internal/mcp"
	"loom/internal/message"
	"loom/internal/stream"
	"loom/internal/tools"
)

// scriptedClient replays prepared event streams, one per Stream call. A nil
// script entry simulates a failure to open the stream.
type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]stream.Event
	calls   int
}

func (c *scriptedClient) Stream(ctx context.Context, req *client.Request) (<-chan stream.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calls >= len(c.scripts) {
		return nil, fmt.Errorf("unexpected stream call %d", c.calls)
	}
	script := c.scripts[c.calls]
	c.calls++
	if script == nil {
		return nil, errors.New("connect failed")
	}

	ch := make(chan stream.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	return "", errors.New("not implemented")
}

func (c *scriptedClient) Model() string { return "scripted" }
func (c *scriptedClient) Close() error  { return nil }

func (c *scriptedClient) streamCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// countingTool records executions.
type countingTool struct {
	name     string
	mu       sync.Mutex
	executed int
	approval bool
}

func (t *countingTool) Name() string { return t.name }

func (t *countingTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: t.name}
}

func (t *countingTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	t.mu.Lock()
	t.executed++
	t.mu.Unlock()
	return tools.Ok("done"), nil
}

func (t *countingTool) RequiresApproval(args map[string]any) bool { return t.approval }

func (t *countingTool) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executed
}

// scriptedPrompter replays prepared approval answers.
type scriptedPrompter struct {
	answers []approval.Response
	calls   int
}

func (p *scriptedPrompter) Prompt(ctx context.Context, req approval.Request) (approval.Response, error) {
	if p.calls >= len(p.answers) {
		return approval.Response{}, errors.New("unexpected prompt")
	}
	resp := p.answers[p.calls]
	p.calls++
	return resp, nil
}

func textDone(text string) []stream.Event {
	return []stream.Event{
		{Text: text},
		{Finish: stream.FinishStop},
	}
}

func callEvents(calls ...message.ToolCall) []stream.Event {
	var evs []stream.Event
	for _, c := range calls {
		evs = append(evs,
			stream.Event{ToolCall: &stream.ToolCallDelta{ID: c.ID, Name: c.Name}},
			stream.Event{ToolCall: &stream.ToolCallDelta{Arguments: c.Arguments}},
		)
	}
	return append(evs, stream.Event{Finish: stream.FinishToolCalls})
}

func newTestOrchestrator(t *testing.T, c client.Client, tool tools.Tool, prompter approval.Prompter, cfg Config) (*Orchestrator, *mcp.Gateway) {
	t.Helper()

	reg := tools.NewRegistry()
	if tool != nil {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	gateway := mcp.NewGateway(reg)
	t.Cleanup(func() { gateway.Close() })

	var gate *approval.Gate
	if prompter != nil {
		gate = approval.NewGate(prompter)
	}

	bm := budget.NewManager(budget.Budget{MaxContextTokens: 100000, TargetRatio: 0.8}, budget.ModeDrop, nil)
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return New(c, gateway, gate, bm, cfg), gateway
}

func TestProcessTurnPlainResponse(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{scripts: [][]stream.Event{textDone("hello there")}}
	o, _ := newTestOrchestrator(t, c, nil, nil, Config{})

	if err := o.ProcessTurn(context.Background(), "hi", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	msgs := o.Log().Messages()
	if len(msgs) != 2 {
		t.Fatalf("log has %d messages, want 2", len(msgs))
	}
	if msgs[0].Kind() != message.KindUser || msgs[1].Kind() != message.KindAssistant {
		t.Errorf("kinds = %s, %s", msgs[0].Kind(), msgs[1].Kind())
	}
	if o.State() != StateIdle {
		t.Errorf("state = %s, want idle", o.State())
	}
}

func TestProcessTurnExecutesToolsThenContinues(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "lookup"}
	c := &scriptedClient{scripts: [][]stream.Event{
		callEvents(message.ToolCall{ID: "call_1", Name: "lookup", Arguments: `{"q":"a"}`}),
		textDone("all done"),
	}}
	o, _ := newTestOrchestrator(t, c, tool, nil, Config{})

	if err := o.ProcessTurn(context.Background(), "look it up", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if tool.count() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.count())
	}

	// user, assistant(call), tool result, assistant(text)
	msgs := o.Log().Messages()
	if len(msgs) != 4 {
		t.Fatalf("log has %d messages, want 4", len(msgs))
	}
	result, ok := msgs[2].(*message.Tool)
	if !ok {
		t.Fatalf("message 2 is %T", msgs[2])
	}
	if result.ToolCallID != "call_1" || result.IsError {
		t.Errorf("result = %+v", result)
	}
}

func TestProcessTurnOneResultPerCall(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "lookup"}
	calls := []message.ToolCall{
		{ID: "call_1", Name: "lookup", Arguments: "{}"},
		{ID: "call_2", Name: "missing_tool", Arguments: "{}"},
		{ID: "call_3", Name: "lookup", Arguments: "not json"},
	}
	c := &scriptedClient{scripts: [][]stream.Event{
		callEvents(calls...),
		textDone("done"),
	}}
	o, _ := newTestOrchestrator(t, c, tool, nil, Config{})

	if err := o.ProcessTurn(context.Background(), "go", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	results := map[string]*message.Tool{}
	for _, m := range o.Log().Messages() {
		if tm, ok := m.(*message.Tool); ok {
			if _, dup := results[tm.ToolCallID]; dup {
				t.Fatalf("duplicate result for %s", tm.ToolCallID)
			}
			results[tm.ToolCallID] = tm
		}
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want exactly one per call", len(results))
	}
	if results["call_1"].IsError {
		t.Error("call_1 should succeed")
	}
	if !results["call_2"].IsError || !results["call_3"].IsError {
		t.Error("failed calls must yield error results")
	}
}

func TestProcessTurnToolCallCap(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "lookup"}
	var calls []message.ToolCall
	for i := 0; i < 5; i++ {
		calls = append(calls, message.ToolCall{
			ID: fmt.Sprintf("call_%d", i), Name: "lookup", Arguments: "{}",
		})
	}
	c := &scriptedClient{scripts: [][]stream.Event{callEvents(calls...)}}
	o, _ := newTestOrchestrator(t, c, tool, nil, Config{MaxToolCallsPerTurn: 3})

	if err := o.ProcessTurn(context.Background(), "go", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if tool.count() != 3 {
		t.Errorf("tool executed %d times, want cap of 3", tool.count())
	}
	if c.streamCalls() != 1 {
		t.Errorf("stream called %d times, want 1 (turn ends at the cap)", c.streamCalls())
	}

	msgs := o.Log().Messages()
	var resultCount int
	var sawNotice bool
	for _, m := range msgs {
		switch tm := m.(type) {
		case *message.Tool:
			resultCount++
			_ = tm
		case *message.System:
			if strings.Contains(tm.Content, "limit") {
				sawNotice = true
			}
		}
	}
	if resultCount != 5 {
		t.Errorf("got %d results, want one per requested call", resultCount)
	}
	if !sawNotice {
		t.Error("missing visible truncation notice")
	}
}

func TestStreamRetryOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	// First attempt fails with nothing assembled, second succeeds.
	c := &scriptedClient{scripts: [][]stream.Event{
		{{Err: errors.New("reset")}},
		textDone("recovered"),
	}}
	o, _ := newTestOrchestrator(t, c, nil, nil, Config{MaxStreamRetries: 2})

	if err := o.ProcessTurn(context.Background(), "hi", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if c.streamCalls() != 2 {
		t.Errorf("stream called %d times, want 2", c.streamCalls())
	}
}

func TestStreamNoRetryAfterPartialContent(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{scripts: [][]stream.Event{
		{{Text: "partial"}, {Err: errors.New("reset")}},
		textDone("should never be used"),
	}}
	o, _ := newTestOrchestrator(t, c, nil, nil, Config{MaxStreamRetries: 2})

	err := o.ProcessTurn(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("partial failure must surface as an error")
	}
	if c.streamCalls() != 1 {
		t.Errorf("stream called %d times, want 1 (no replay after partial)", c.streamCalls())
	}
}

func TestStreamRetriesExhausted(t *testing.T) {
	t.Parallel()

	c := &scriptedClient{scripts: [][]stream.Event{nil, nil, nil}}
	o, _ := newTestOrchestrator(t, c, nil, nil, Config{MaxStreamRetries: 2})

	if err := o.ProcessTurn(context.Background(), "hi", nil); err == nil {
		t.Fatal("want error after retries exhausted")
	}
	if c.streamCalls() != 3 {
		t.Errorf("stream called %d times, want 3", c.streamCalls())
	}
}

func TestApprovalRejectionBecomesToolResult(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "write_thing", approval: true}
	c := &scriptedClient{scripts: [][]stream.Event{
		callEvents(message.ToolCall{ID: "call_1", Name: "write_thing", Arguments: "{}"}),
		textDone("understood"),
	}}
	prompter := &scriptedPrompter{answers: []approval.Response{
		{Decision: approval.Reject, Feedback: "wrong file"},
	}}
	o, _ := newTestOrchestrator(t, c, tool, prompter, Config{})

	if err := o.ProcessTurn(context.Background(), "write it", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if tool.count() != 0 {
		t.Errorf("rejected tool ran %d times", tool.count())
	}

	var result *message.Tool
	for _, m := range o.Log().Messages() {
		if tm, ok := m.(*message.Tool); ok {
			result = tm
		}
	}
	if result == nil {
		t.Fatal("rejection produced no tool result")
	}
	if !result.IsError || !strings.Contains(result.Content, "wrong file") {
		t.Errorf("result = %+v", result)
	}
}

func TestApprovalCancelEndsTurn(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "write_thing", approval: true}
	c := &scriptedClient{scripts: [][]stream.Event{
		callEvents(
			message.ToolCall{ID: "call_1", Name: "write_thing", Arguments: "{}"},
			message.ToolCall{ID: "call_2", Name: "write_thing", Arguments: "{}"},
		),
	}}
	prompter := &scriptedPrompter{answers: []approval.Response{
		{Decision: approval.Cancel},
	}}
	o, _ := newTestOrchestrator(t, c, tool, prompter, Config{})

	if err := o.ProcessTurn(context.Background(), "write it", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if tool.count() != 0 {
		t.Errorf("cancelled tool ran %d times", tool.count())
	}
	if c.streamCalls() != 1 {
		t.Errorf("stream called %d times, want 1", c.streamCalls())
	}

	// Both pending calls still get a result.
	var resultIDs []string
	for _, m := range o.Log().Messages() {
		if tm, ok := m.(*message.Tool); ok {
			resultIDs = append(resultIDs, tm.ToolCallID)
		}
	}
	if len(resultIDs) != 2 {
		t.Errorf("got results %v, want both calls resolved", resultIDs)
	}
}

func TestInterruptResolvesRemainingCalls(t *testing.T) {
	t.Parallel()

	tool := &countingTool{name: "lookup"}
	c := &scriptedClient{scripts: [][]stream.Event{
		callEvents(
			message.ToolCall{ID: "call_1", Name: "lookup", Arguments: "{}"},
			message.ToolCall{ID: "call_2", Name: "lookup", Arguments: "{}"},
		),
	}}
	o, _ := newTestOrchestrator(t, c, tool, nil, Config{})

	// Interrupt raised before the turn reaches tool execution still lets
	// every requested call resolve to an error result.
	o.SetCallbacks(Callbacks{
		OnAssistantDone: func(msg *message.Assistant) { o.Interrupt() },
	})

	if err := o.ProcessTurn(context.Background(), "go", nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if tool.count() != 0 {
		t.Errorf("tool ran %d times after interrupt", tool.count())
	}

	var errResults int
	for _, m := range o.Log().Messages() {
		if tm, ok := m.(*message.Tool); ok && tm.IsError {
			errResults++
		}
	}
	if errResults != 2 {
		t.Errorf("got %d error results, want 2", errResults)
	}
}

func TestProcessTurnRejectsConcurrentUse(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	tool := &blockingUntil{name: "wait", release: block, started: make(chan struct{})}
	c := &scriptedClient{scripts: [][]stream.Event{
		callEvents(message.ToolCall{ID: "call_1", Name: "wait", Arguments: "{}"}),
		textDone("done"),
	}}
	o, _ := newTestOrchestrator(t, c, tool, nil, Config{})

	done := make(chan error, 1)
	go func() { done <- o.ProcessTurn(context.Background(), "first", nil) }()

	<-tool.started
	if err := o.ProcessTurn(context.Background(), "second", nil); err == nil {
		t.Error("second concurrent turn should be refused")
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}
}

type blockingUntil struct {
	name    string
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingUntil) Name() string { return b.name }

func (b *blockingUntil) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: b.name}
}

func (b *blockingUntil) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return tools.Ok("ok"), nil
}
