package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"google.golang.org/genai"
)

const maxGlobResults = 500

// GlobTool finds files matching glob patterns, newest first.
type GlobTool struct {
	workDir string
}

// NewGlobTool creates a glob tool rooted at workDir.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: "Finds files matching a glob pattern (supports ** for recursive matching). Results are sorted by modification time, newest first.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"pattern": {
					Type:        genai.TypeString,
					Description: "Glob pattern, e.g. \"**/*.go\" or \"cmd/*/main.go\"",
				},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	pattern, ok := GetString(args, "pattern")
	if !ok || pattern == "" {
		return Fail("pattern is required"), nil
	}
	if strings.Contains(pattern, "..") {
		return Fail("pattern must not contain \"..\""), nil
	}

	fullPattern := filepath.Join(t.workDir, pattern)
	matches, err := doublestar.FilepathGlob(fullPattern)
	if err != nil {
		return Fail("invalid pattern: %s", err), nil
	}
	if len(matches) == 0 {
		return Ok("no files match " + pattern), nil
	}

	type match struct {
		path    string
		modTime int64
	}
	files := make([]match, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(t.workDir, m)
		if err != nil {
			rel = m
		}
		files = append(files, match{path: rel, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })

	truncated := false
	if len(files) > maxGlobResults {
		files = files[:maxGlobResults]
		truncated = true
	}

	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(f.path)
		sb.WriteString("\n")
	}
	if truncated {
		fmt.Fprintf(&sb, "... (showing first %d matches)\n", maxGlobResults)
	}
	return Ok(sb.String()), nil
}
