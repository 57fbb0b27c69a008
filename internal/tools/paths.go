package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolvePath resolves a tool-supplied path against the workspace root and
// rejects paths that escape it.
func resolvePath(workDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workDir, abs)
	}
	abs = filepath.Clean(abs)

	root := filepath.Clean(workDir)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the workspace", path)
	}
	return abs, nil
}
