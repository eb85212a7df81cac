// Package local implements a filestore.Source over a plain directory.
// Useful for development and for deployments where recordings are synced
// to disk by an external tool.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/filestore"
)

// Source reads recordings from a single directory, non-recursive.
type Source struct {
	dir        string
	extensions map[string]struct{}
}

var _ filestore.Source = (*Source)(nil)

// New creates a directory source. extensions filters by file suffix
// (".ogg", ".mp3"); an empty list accepts every regular file.
func New(dir string, extensions ...string) (*Source, error) {
	if dir == "" {
		return nil, errors.New("local: directory must not be empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local: %s is not a directory", dir)
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Source{dir: dir, extensions: exts}, nil
}

// ListNew returns files modified after marker, oldest first.
func (s *Source) ListNew(ctx context.Context, marker string) ([]filestore.File, error) {
	var since time.Time
	if marker != "" {
		parsed, err := time.Parse(time.RFC3339, marker)
		if err != nil {
			return nil, pipeline.Fatal(fmt.Errorf("local: invalid marker %q: %w", marker, err))
		}
		since = parsed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("local: read %s: %w", s.dir, err)
	}

	var files []filestore.File
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !s.accepts(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("local: stat %s: %w", entry.Name(), err)
		}
		if !info.ModTime().After(since) {
			continue
		}
		files = append(files, filestore.File{
			Ref:        filepath.Join(s.dir, entry.Name()),
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.Before(files[j].ModifiedAt)
	})
	return files, nil
}

// Fetch opens the file for reading. The caller must close the reader.
func (s *Source) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("local: open %s: %w", ref, pipeline.ErrNotFound)
		}
		return nil, fmt.Errorf("local: open %s: %w", ref, err)
	}
	return f, nil
}

func (s *Source) accepts(name string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	_, ok := s.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
