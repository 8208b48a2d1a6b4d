package kb

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// acceptedExtensions are the file formats the KB importer understands.
var acceptedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// FileIngestOptions extends IngestOptions for directory walks.
type FileIngestOptions struct {
	IngestOptions
	// Recursive walks subdirectories. The config default is recursive.
	Recursive  bool
	Tags       []string
	Category   string
	ImportedBy string
}

// IngestFiles walks the given paths, reads .md and .txt files, and
// delegates to Ingest. Symlinks are skipped. Directories are walked
// recursively when opts.Recursive is set.
func (p *Pipeline) IngestFiles(ctx context.Context, paths []string, opts FileIngestOptions) (*IngestResult, error) {
	var docs []Document

	for _, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if !info.IsDir() {
			doc, err := readDocument(path, opts)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
			continue
		}

		err = filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if entry != path && !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type()&os.ModeSymlink != 0 {
				return nil
			}
			if !acceptedExtensions[strings.ToLower(filepath.Ext(entry))] {
				return nil
			}
			doc, err := readDocument(entry, opts)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	return p.Ingest(ctx, docs, opts.IngestOptions)
}

func readDocument(path string, opts FileIngestOptions) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Document{
		Title:      title,
		Content:    string(content),
		SourceType: "file",
		SourceRef:  path,
		ImportedBy: opts.ImportedBy,
		Tags:       opts.Tags,
		Category:   opts.Category,
	}, nil
}
