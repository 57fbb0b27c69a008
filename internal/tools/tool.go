// Package tools holds the built-in tool provider: local tools executed in
// process and exposed to the model through function declarations.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// Tool is one locally executable tool.
type Tool interface {
	// Name returns the unique local name of the tool.
	Name() string

	// Declaration returns the function declaration advertised to the model.
	Declaration() *genai.FunctionDeclaration

	// Execute runs the tool with already-parsed arguments.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Result is the outcome of one tool execution. Failures travel as results,
// not Go errors, so the model sees them in the transcript.
type Result struct {
	Content string
	IsError bool
}

// Ok creates a successful result.
func Ok(content string) Result {
	return Result{Content: content}
}

// Fail creates a failed result.
func Fail(format string, a ...any) Result {
	return Result{Content: fmt.Sprintf(format, a...), IsError: true}
}

// SchemaError reports that a tool-call argument document could not be
// decoded. It surfaces as an error result attributed to the call.
type SchemaError struct {
	Tool string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ParseArguments decodes one accumulated argument document. This is the
// only place raw argument text is interpreted: upstream the fragments are
// carried verbatim. An empty document means no arguments.
func ParseArguments(toolName, raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &SchemaError{Tool: toolName, Err: err}
	}
	return args, nil
}

// ApprovalRequired is implemented by tools whose executions need user
// approval before they run.
type ApprovalRequired interface {
	RequiresApproval(args map[string]any) bool
}

// DiffPreview describes a pending file change for the approval prompt.
type DiffPreview struct {
	Path       string
	OldContent string
	NewContent string
	IsNewFile  bool
}

// DiffPreviewer is implemented by tools that can render the change they are
// about to make, so approval prompts can show a diff instead of raw args.
type DiffPreviewer interface {
	Preview(args map[string]any) (*DiffPreview, error)
}

// GetString extracts a string argument.
func GetString(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// GetStringDefault extracts a string argument with a default.
func GetStringDefault(args map[string]any, key, def string) string {
	if val, ok := GetString(args, key); ok {
		return val
	}
	return def
}

// GetInt extracts an integer argument. JSON decoding delivers numbers as
// float64, so that form is accepted too.
func GetInt(args map[string]any, key string) (int, bool) {
	val, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// GetIntDefault extracts an integer argument with a default.
func GetIntDefault(args map[string]any, key string, def int) int {
	if val, ok := GetInt(args, key); ok {
		return val
	}
	return def
}

// GetBool extracts a boolean argument.
func GetBool(args map[string]any, key string) (bool, bool) {
	val, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}
