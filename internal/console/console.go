// Package console is the interactive line-based frontend: it reads user
// input, renders streamed output, and answers approval prompts.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"loom/internal/approval"
	"loom/internal/chat"
	"loom/internal/mcp"
	"loom/internal/message"
	"loom/internal/orchestrator"
)

// Console runs the read-eval-print loop over an orchestrator.
type Console struct {
	orch    *orchestrator.Orchestrator
	gateway *mcp.Gateway
	store   *chat.Store
	session *chat.Session

	in  *bufio.Reader
	out io.Writer
}

// New creates a console over the given components. The orchestrator is
// bound in Run, after the approval gate built on this console's prompter
// exists. store and session may be nil when persistence is disabled.
func New(gateway *mcp.Gateway, store *chat.Store, session *chat.Session) *Console {
	return &Console{
		gateway: gateway,
		store:   store,
		session: session,
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}
}

// Run executes the interactive loop until EOF or /quit.
func (c *Console) Run(ctx context.Context, orch *orchestrator.Orchestrator) error {
	c.orch = orch
	c.orch.SetCallbacks(orchestrator.Callbacks{
		OnText:      func(text string) { fmt.Fprint(c.out, text) },
		OnReasoning: func(text string) { fmt.Fprint(c.out, reasoningStyle.Render(text)) },
		OnToolCallStart: func(id string) {
			fmt.Fprintln(c.out)
		},
		OnToolCallResult: func(call message.ToolCall, result *message.Tool) {
			line := fmt.Sprintf("tool %s done", call.Name)
			if result.IsError {
				line = fmt.Sprintf("tool %s failed: %s", call.Name, firstLine(result.Content))
			}
			fmt.Fprintln(c.out, toolStyle.Render(line))
		},
		OnError: func(err error) {
			fmt.Fprintln(c.out, errorStyle.Render("error: "+err.Error()))
		},
	})

	fmt.Fprintln(c.out, noticeStyle.Render("loom ready. /help for commands, ctrl-d to exit."))

	for {
		fmt.Fprint(c.out, promptStyle.Render("> "))
		line, err := c.in.ReadString('\n')
		if err == io.EOF {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := c.runCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		if err := c.orch.ProcessTurn(ctx, input, nil); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Already reported via OnError; keep the loop alive.
		}
		fmt.Fprintln(c.out)

		c.saveSession()
	}
}

// runCommand handles slash commands. Returns true when the loop should end.
func (c *Console) runCommand(ctx context.Context, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Fprintln(c.out, `commands:
  /sessions        list stored sessions
  /resume <id>     resume a stored session
  /mcp             show tool provider status
  /state           show orchestrator state
  /quit            exit`)

	case "/sessions":
		c.listSessions()

	case "/resume":
		c.resumeSession(arg)

	case "/mcp":
		c.showProviders()

	case "/state":
		fmt.Fprintln(c.out, c.orch.State().String())

	default:
		fmt.Fprintln(c.out, errorStyle.Render("unknown command: "+cmd))
	}
	return false
}

func (c *Console) listSessions() {
	if c.store == nil {
		fmt.Fprintln(c.out, "session persistence is disabled")
		return
	}
	infos, err := c.store.List()
	if err != nil {
		fmt.Fprintln(c.out, errorStyle.Render("listing sessions: "+err.Error()))
		return
	}
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "no stored sessions")
		return
	}
	for _, info := range infos {
		fmt.Fprintf(c.out, "%s  %3d msgs  %s\n", info.ID, info.MessageCount, info.Summary)
	}
}

func (c *Console) resumeSession(id string) {
	if c.store == nil {
		fmt.Fprintln(c.out, "session persistence is disabled")
		return
	}
	if id == "" {
		fmt.Fprintln(c.out, "usage: /resume <session-id>")
		return
	}
	sess, err := c.store.Load(id)
	if err != nil {
		fmt.Fprintln(c.out, errorStyle.Render("loading session: "+err.Error()))
		return
	}
	loaded := sess.Log.Len()
	c.orch.Log().Append(sess.Log.Messages()...)
	// Autosave must keep following the live log, not the loaded snapshot.
	sess.Log = c.orch.Log()
	c.session = sess
	fmt.Fprintf(c.out, "resumed session %s (%d messages)\n", sess.ID, loaded)
}

func (c *Console) showProviders() {
	statuses := c.gateway.Status()
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "no remote providers configured")
		return
	}
	for _, s := range statuses {
		state := "connected"
		if !s.Connected {
			state = "failed"
		} else if !s.Healthy {
			state = "unhealthy"
		}
		transport := string(s.ActualTransport)
		if s.ActualTransport != s.ConfiguredTransport {
			transport = fmt.Sprintf("%s (configured %s)", s.ActualTransport, s.ConfiguredTransport)
		}
		fmt.Fprintf(c.out, "%-20s %-10s %s, %d tools", s.Name, transport, state, s.ToolCount)
		if s.Err != nil {
			fmt.Fprintf(c.out, "  %s", firstLine(s.Err.Error()))
		}
		fmt.Fprintln(c.out)
	}
}

func (c *Console) saveSession() {
	if c.store == nil || c.session == nil {
		return
	}
	if err := c.store.Save(c.session); err != nil {
		fmt.Fprintln(c.out, errorStyle.Render("saving session: "+err.Error()))
	}
}

// Prompt implements approval.Prompter by asking on the terminal.
func (c *Console) Prompt(ctx context.Context, req approval.Request) (approval.Response, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "%s wants to run\n", req.ToolName)
	if req.Diff != "" {
		body.WriteString(renderDiff(req.Diff))
	} else if req.Arguments != "" {
		body.WriteString(req.Arguments)
		body.WriteString("\n")
	}
	body.WriteString("approve? [y]es / [a]lways / [n]o / [q]uit turn")

	fmt.Fprintln(c.out, approvalStyle.Render(body.String()))
	fmt.Fprint(c.out, promptStyle.Render("? "))

	answer, err := c.in.ReadString('\n')
	if err != nil {
		return approval.Response{}, err
	}
	return approval.ParseAnswer(answer), nil
}

// renderDiff colors added and removed diff lines.
func renderDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			sb.WriteString(diffAddStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(diffDelStyle.Render(line))
		default:
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func firstLine(s string) string {
	if line, _, found := strings.Cut(s, "\n"); found {
		return line
	}
	return s
}
