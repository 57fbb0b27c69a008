package tools

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"google.golang.org/genai"
)

const (
	defaultBashTimeout = 2 * time.Minute
	maxBashTimeout     = 10 * time.Minute
	maxBashOutput      = 100 * 1024
)

// BashTool runs shell commands in the workspace directory.
type BashTool struct {
	workDir string
}

// NewBashTool creates a bash tool rooted at workDir.
func NewBashTool(workDir string) *BashTool {
	return &BashTool{workDir: workDir}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: "Executes a shell command in the workspace and returns its combined output.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"command": {
					Type:        genai.TypeString,
					Description: "The command to execute",
				},
				"timeout_seconds": {
					Type:        genai.TypeInteger,
					Description: "Timeout in seconds. Optional, defaults to 120.",
				},
			},
			Required: []string{"command"},
		},
	}
}

// RequiresApproval reports that shell commands always need user approval.
func (t *BashTool) RequiresApproval(args map[string]any) bool {
	return true
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, ok := GetString(args, "command")
	if !ok || command == "" {
		return Fail("command is required"), nil
	}

	timeout := defaultBashTimeout
	if secs, ok := GetInt(args, "timeout_seconds"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.workDir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	output := buf.String()
	if len(output) > maxBashOutput {
		output = output[:maxBashOutput] + "\n... (output truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Fail("command timed out after %s\n%s", timeout, output), nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Fail("command exited with code %d\n%s", exitErr.ExitCode(), output), nil
		}
		return Fail("command failed: %s\n%s", err, output), nil
	}

	if output == "" {
		output = "(no output)"
	}
	return Ok(output), nil
}
