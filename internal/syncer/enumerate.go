package syncer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/mongomem/internal/config"
)

// FileEntry is one candidate file found on disk.
type FileEntry struct {
	RelPath string // workspace-relative, slash-separated
	AbsPath string
	ModTime time.Time
	Size    int64
}

// indexableExtensions are the file types the chunker understands.
var indexableExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// EnumerateMemoryFiles lists workspace memory files: MEMORY.md, memory.md,
// everything under memory/, plus configured extra paths. Symlinks are
// skipped.
func EnumerateMemoryFiles(cfg *config.Config) ([]FileEntry, error) {
	root := cfg.Workspace.Root
	var entries []FileEntry
	seen := make(map[string]struct{})

	for _, rel := range cfg.MemoryPaths() {
		abs := filepath.Join(root, rel)
		info, err := os.Lstat(abs)
		if err != nil {
			continue // not present; memory paths are all optional
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if info.IsDir() {
			dirEntries, err := walkDir(root, abs)
			if err != nil {
				return nil, err
			}
			for _, e := range dirEntries {
				addEntry(&entries, seen, e)
			}
			continue
		}
		addEntry(&entries, seen, FileEntry{
			RelPath: filepath.ToSlash(rel),
			AbsPath: abs,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return entries, nil
}

// EnumerateSessionFiles lists session transcripts under the agent's
// session directory.
func EnumerateSessionFiles(cfg *config.Config) ([]FileEntry, error) {
	root := cfg.Workspace.Root
	dir := filepath.Join(root, cfg.Workspace.SessionsDir)
	info, err := os.Lstat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil // no sessions yet
	}
	return walkDir(root, dir)
}

// walkDir recursively collects indexable regular files under dir,
// skipping symlinks and dotfiles.
func walkDir(root, dir string) ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !indexableExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{
			RelPath: filepath.ToSlash(rel),
			AbsPath: path,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	return entries, err
}

func addEntry(entries *[]FileEntry, seen map[string]struct{}, e FileEntry) {
	if _, dup := seen[e.RelPath]; dup {
		return
	}
	seen[e.RelPath] = struct{}{}
	*entries = append(*entries, e)
}
