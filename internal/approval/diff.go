package approval

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"loom/internal/tools"
)

// RenderDiff renders a file-change preview as a unified-style diff for the
// approval prompt.
func RenderDiff(preview *tools.DiffPreview) string {
	var sb strings.Builder

	if preview.IsNewFile {
		fmt.Fprintf(&sb, "--- /dev/null\n+++ %s (new file)\n", preview.Path)
		for _, line := range splitLines(preview.NewContent) {
			sb.WriteString("+")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", preview.Path, preview.Path)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(preview.OldContent, preview.NewContent, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range splitLines(d.Text) {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
