package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/genai"
)

// WriteFileTool creates or overwrites files. Writes go through a temp file
// and rename so a crash never leaves a half-written file.
type WriteFileTool struct {
	workDir string
}

// NewWriteFileTool creates a write_file tool rooted at workDir.
func NewWriteFileTool(workDir string) *WriteFileTool {
	return &WriteFileTool{workDir: workDir}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: "Writes content to a file, creating it if needed and overwriting it otherwise.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path": {
					Type:        genai.TypeString,
					Description: "Path to the file, absolute or relative to the workspace",
				},
				"content": {
					Type:        genai.TypeString,
					Description: "The full content to write",
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

// RequiresApproval reports that writes always need user approval.
func (t *WriteFileTool) RequiresApproval(args map[string]any) bool {
	return true
}

// Preview renders the pending change for the approval prompt.
func (t *WriteFileTool) Preview(args map[string]any) (*DiffPreview, error) {
	path, _ := GetString(args, "path")
	content, _ := GetString(args, "content")

	resolved, err := resolvePath(t.workDir, path)
	if err != nil {
		return nil, err
	}

	old, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return &DiffPreview{Path: path, NewContent: content, IsNewFile: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &DiffPreview{Path: path, OldContent: string(old), NewContent: content}, nil
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, ok := GetString(args, "path")
	if !ok || path == "" {
		return Fail("path is required"), nil
	}
	content, ok := GetString(args, "content")
	if !ok {
		return Fail("content is required"), nil
	}

	resolved, err := resolvePath(t.workDir, path)
	if err != nil {
		return Fail("%s", err), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Fail("error creating directory: %s", err), nil
	}
	if err := atomicWrite(resolved, []byte(content)); err != nil {
		return Fail("error writing file: %s", err), nil
	}

	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// atomicWrite writes data through a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
