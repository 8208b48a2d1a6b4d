package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openclaw/mongomem/internal/memerr"
)

// ReadFileRequest selects a line window of a workspace-relative file.
// From is 1-based; Lines <= 0 reads to the end.
type ReadFileRequest struct {
	Path  string
	From  int
	Lines int
}

// ReadFileResult carries the selected window.
type ReadFileResult struct {
	Path       string
	From       int
	Lines      int
	TotalLines int
	Content    string
}

// ReadFile reads a window of lines from a workspace file. Paths resolving
// outside the workspace root are rejected without touching the filesystem.
func (m *Manager) ReadFile(req ReadFileRequest) (*ReadFileResult, error) {
	if err := m.guard("readFile"); err != nil {
		return nil, err
	}

	abs, rel, err := resolveWorkspacePath(m.cfg.Workspace.Root, req.Path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	lines := strings.Split(string(content), "\n")
	total := len(lines)

	from := req.From
	if from < 1 {
		from = 1
	}
	if from > total {
		return &ReadFileResult{Path: rel, From: from, TotalLines: total}, nil
	}

	end := total
	if req.Lines > 0 && from-1+req.Lines < end {
		end = from - 1 + req.Lines
	}
	window := lines[from-1 : end]

	return &ReadFileResult{
		Path:       rel,
		From:       from,
		Lines:      len(window),
		TotalLines: total,
		Content:    strings.Join(window, "\n"),
	}, nil
}

// resolveWorkspacePath joins path onto root and verifies the result stays
// inside root after cleaning. Absolute paths and ".." escapes are integrity
// errors.
func resolveWorkspacePath(root, path string) (abs, rel string, err error) {
	if filepath.IsAbs(path) {
		return "", "", memerr.New(memerr.KindIntegrity, "readFile",
			fmt.Errorf("absolute paths are not allowed: %s", path))
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	abs = filepath.Join(rootAbs, path)

	rel, err = filepath.Rel(rootAbs, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", memerr.New(memerr.KindIntegrity, "readFile",
			fmt.Errorf("path escapes the workspace: %s", path))
	}
	return abs, filepath.ToSlash(rel), nil
}
