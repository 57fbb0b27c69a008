package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

// ReadFileTool reads files and returns their contents with line numbers.
type ReadFileTool struct {
	workDir string
}

// NewReadFileTool creates a read_file tool rooted at workDir.
func NewReadFileTool(workDir string) *ReadFileTool {
	return &ReadFileTool{workDir: workDir}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: "Reads a file and returns its contents with line numbers. Use offset and limit for large files.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path": {
					Type:        genai.TypeString,
					Description: "Path to the file, absolute or relative to the workspace",
				},
				"offset": {
					Type:        genai.TypeInteger,
					Description: "Line number to start reading from (1-indexed). Optional.",
				},
				"limit": {
					Type:        genai.TypeInteger,
					Description: "Maximum number of lines to read. Optional, defaults to 2000.",
				},
			},
			Required: []string{"path"},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, ok := GetString(args, "path")
	if !ok || path == "" {
		return Fail("path is required"), nil
	}

	resolved, err := resolvePath(t.workDir, path)
	if err != nil {
		return Fail("%s", err), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("file not found: %s", path), nil
		}
		return Fail("error accessing file: %s", err), nil
	}
	if info.IsDir() {
		return Fail("%s is a directory, not a file", path), nil
	}

	offset := GetIntDefault(args, "offset", 1)
	if offset < 1 {
		offset = 1
	}
	limit := GetIntDefault(args, "limit", defaultReadLimit)
	if limit <= 0 {
		limit = defaultReadLimit
	}

	file, err := os.Open(resolved)
	if err != nil {
		return Fail("error opening file: %s", err), nil
	}
	defer file.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	linesRead := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", lineNum, line)
		linesRead++
	}
	if err := scanner.Err(); err != nil {
		return Fail("error reading file: %s", err), nil
	}

	content := sb.String()
	if content == "" {
		if offset > 1 && lineNum > 0 {
			content = fmt.Sprintf("(offset %d is beyond end of file, file has %d lines)", offset, lineNum)
		} else {
			content = "(empty file)"
		}
	}
	return Ok(content), nil
}
