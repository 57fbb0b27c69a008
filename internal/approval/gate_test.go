package approval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"loom/internal/tools"
)

func TestParseAnswer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in           string
		wantDecision Decision
		wantFeedback string
	}{
		{"", Approve, ""},
		{"y", Approve, ""},
		{"YES", Approve, ""},
		{"  ok  ", Approve, ""},
		{"approve", Approve, ""},
		{"a", ApproveSession, ""},
		{"always", ApproveSession, ""},
		{"session", ApproveSession, ""},
		{"n", Reject, ""},
		{"no", Reject, ""},
		{"deny", Reject, ""},
		{"q", Cancel, ""},
		{"quit", Cancel, ""},
		{"cancel", Cancel, ""},
		{"abort", Cancel, ""},
		{"use the other file instead", Reject, "use the other file instead"},
		{"  Try /tmp please  ", Reject, "Try /tmp please"},
	}
	for _, tc := range cases {
		got := ParseAnswer(tc.in)
		if got.Decision != tc.wantDecision || got.Feedback != tc.wantFeedback {
			t.Errorf("ParseAnswer(%q) = %+v, want {%v %q}", tc.in, got, tc.wantDecision, tc.wantFeedback)
		}
	}
}

func TestRejectionContent(t *testing.T) {
	t.Parallel()

	if got := RejectionContent(Response{Decision: Reject}); got != "user rejected this tool call" {
		t.Errorf("plain rejection = %q", got)
	}
	got := RejectionContent(Response{Decision: Reject, Feedback: "wrong path"})
	if !strings.Contains(got, "wrong path") {
		t.Errorf("feedback rejection = %q", got)
	}
}

func TestRenderDiffNewFile(t *testing.T) {
	t.Parallel()

	out := RenderDiff(&tools.DiffPreview{
		Path:       "notes.txt",
		NewContent: "one\ntwo\n",
		IsNewFile:  true,
	})
	if !strings.Contains(out, "+++ notes.txt (new file)") {
		t.Errorf("missing new-file header:\n%s", out)
	}
	if !strings.Contains(out, "+one\n+two\n") {
		t.Errorf("missing added lines:\n%s", out)
	}
	if strings.Contains(out, "\n-") {
		t.Errorf("new file diff has removals:\n%s", out)
	}
}

func TestRenderDiffModification(t *testing.T) {
	t.Parallel()

	out := RenderDiff(&tools.DiffPreview{
		Path:       "main.go",
		OldContent: "hello world\n",
		NewContent: "goodbye world\n",
	})
	if !strings.Contains(out, "--- main.go") || !strings.Contains(out, "+++ main.go") {
		t.Errorf("missing headers:\n%s", out)
	}
	if !strings.Contains(out, "-hello") || !strings.Contains(out, "+goodbye") {
		t.Errorf("change not represented:\n%s", out)
	}
}

// stubPrompter replays one scripted response and counts prompts.
type stubPrompter struct {
	resp  Response
	err   error
	calls int
}

func (p *stubPrompter) Prompt(ctx context.Context, req Request) (Response, error) {
	p.calls++
	return p.resp, p.err
}

// guardedTool requires approval for every execution.
type guardedTool struct{ name string }

func (g *guardedTool) Name() string { return g.name }

func (g *guardedTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: g.name}
}

func (g *guardedTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	return tools.Ok("ran"), nil
}

func (g *guardedTool) RequiresApproval(args map[string]any) bool { return true }

// openTool never requires approval.
type openTool struct{}

func (o *openTool) Name() string { return "open" }

func (o *openTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: "open"}
}

func (o *openTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	return tools.Ok("ran"), nil
}

func TestGatePassesThroughUnguardedTools(t *testing.T) {
	t.Parallel()

	p := &stubPrompter{resp: Response{Decision: Reject}}
	g := NewGate(p)

	resp, err := g.Check(context.Background(), &openTool{}, "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Decision != Approve {
		t.Errorf("decision = %v, want approve", resp.Decision)
	}
	if p.calls != 0 {
		t.Errorf("prompter consulted %d times for an unguarded tool", p.calls)
	}
}

func TestGateSessionApprovalSticks(t *testing.T) {
	t.Parallel()

	p := &stubPrompter{resp: Response{Decision: ApproveSession}}
	g := NewGate(p)
	tool := &guardedTool{name: "write_file"}

	resp, err := g.Check(context.Background(), tool, "{}")
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if resp.Decision != Approve {
		t.Errorf("session approval should collapse to approve, got %v", resp.Decision)
	}

	// Second check on the same tool skips the prompt.
	if _, err := g.Check(context.Background(), tool, "{}"); err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("prompter consulted %d times, want 1", p.calls)
	}

	// A different guarded tool still prompts.
	if _, err := g.Check(context.Background(), &guardedTool{name: "bash"}, "{}"); err != nil {
		t.Fatalf("third Check: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("prompter consulted %d times, want 2", p.calls)
	}
}

func TestGateAutoApprove(t *testing.T) {
	t.Parallel()

	p := &stubPrompter{resp: Response{Decision: Reject}}
	g := NewGate(p)
	g.SetAutoApprove(true)

	resp, err := g.Check(context.Background(), &guardedTool{name: "bash"}, "{}")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Decision != Approve || p.calls != 0 {
		t.Errorf("auto-approve did not bypass the prompt: %+v, calls %d", resp, p.calls)
	}
}

func TestGatePrompterFailureCancels(t *testing.T) {
	t.Parallel()

	p := &stubPrompter{err: errors.New("stdin closed")}
	g := NewGate(p)

	resp, err := g.Check(context.Background(), &guardedTool{name: "bash"}, "{}")
	if err == nil {
		t.Fatal("want error from failed prompt")
	}
	if resp.Decision != Cancel {
		t.Errorf("decision = %v, want cancel", resp.Decision)
	}
}

func TestGateMalformedArgsStillPrompt(t *testing.T) {
	t.Parallel()

	// Argument problems are reported at execution time; approval still runs
	// with what it has.
	p := &stubPrompter{resp: Response{Decision: Approve}}
	g := NewGate(p)

	resp, err := g.Check(context.Background(), &guardedTool{name: "bash"}, `{"cmd":`)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Decision != Approve || p.calls != 1 {
		t.Errorf("resp = %+v, calls = %d", resp, p.calls)
	}
}
