package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// EditFileTool performs exact string replacement in a file.
type EditFileTool struct {
	workDir string
}

// NewEditFileTool creates an edit_file tool rooted at workDir.
func NewEditFileTool(workDir string) *EditFileTool {
	return &EditFileTool{workDir: workDir}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: "Replaces an exact string in a file. The old string must appear exactly once unless replace_all is set.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path": {
					Type:        genai.TypeString,
					Description: "Path to the file, absolute or relative to the workspace",
				},
				"old_string": {
					Type:        genai.TypeString,
					Description: "The exact text to replace",
				},
				"new_string": {
					Type:        genai.TypeString,
					Description: "The replacement text",
				},
				"replace_all": {
					Type:        genai.TypeBoolean,
					Description: "Replace every occurrence instead of requiring a unique match. Optional.",
				},
			},
			Required: []string{"path", "old_string", "new_string"},
		},
	}
}

// RequiresApproval reports that edits always need user approval.
func (t *EditFileTool) RequiresApproval(args map[string]any) bool {
	return true
}

// Preview renders the pending change for the approval prompt.
func (t *EditFileTool) Preview(args map[string]any) (*DiffPreview, error) {
	path, _ := GetString(args, "path")
	resolved, err := resolvePath(t.workDir, path)
	if err != nil {
		return nil, err
	}

	old, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}

	updated, err := applyEdit(string(old), args)
	if err != nil {
		return nil, err
	}
	return &DiffPreview{Path: path, OldContent: string(old), NewContent: updated}, nil
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, ok := GetString(args, "path")
	if !ok || path == "" {
		return Fail("path is required"), nil
	}

	resolved, err := resolvePath(t.workDir, path)
	if err != nil {
		return Fail("%s", err), nil
	}

	old, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("file not found: %s", path), nil
		}
		return Fail("error reading file: %s", err), nil
	}

	updated, err := applyEdit(string(old), args)
	if err != nil {
		return Fail("%s", err), nil
	}

	if err := atomicWrite(resolved, []byte(updated)); err != nil {
		return Fail("error writing file: %s", err), nil
	}
	return Ok(fmt.Sprintf("edited %s", path)), nil
}

func applyEdit(content string, args map[string]any) (string, error) {
	oldStr, ok := GetString(args, "old_string")
	if !ok || oldStr == "" {
		return "", fmt.Errorf("old_string is required")
	}
	newStr, _ := GetString(args, "new_string")
	if oldStr == newStr {
		return "", fmt.Errorf("old_string and new_string are identical")
	}
	replaceAll, _ := GetBool(args, "replace_all")

	count := strings.Count(content, oldStr)
	switch {
	case count == 0:
		return "", fmt.Errorf("old_string not found in file")
	case count > 1 && !replaceAll:
		return "", fmt.Errorf("old_string matches %d times, pass replace_all or make it unique", count)
	}

	if replaceAll {
		return strings.ReplaceAll(content, oldStr, newStr), nil
	}
	return strings.Replace(content, oldStr, newStr, 1), nil
}
