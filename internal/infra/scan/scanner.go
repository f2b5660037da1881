// Package scan discovers eligible prompt files in the input directory.
package scan

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/prompttick/prompttick/internal/pkg/natsort"
)

// Ordering values accepted by Scan.
const (
	OrderByName  = "name"
	OrderByMtime = "mtime"
)

// inProgressSuffixes mark files another process is still writing.
var inProgressSuffixes = []string{".part", ".lock", ".tmp"}

// PromptFile describes one candidate input file. The path doubles as the
// identifier recorded in the processed state.
type PromptFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Scanner lists prompt files. It only reads the directory; content is
// loaded later, one file at a time, by the dispatcher.
type Scanner struct {
	fsys afero.Fs
}

// New returns a Scanner over fsys.
func New(fsys afero.Fs) *Scanner {
	return &Scanner{fsys: fsys}
}

// Scan returns the eligible files of dir in processing order.
// Files are kept when their extension is in extensions (case-insensitive)
// and their name does not carry an in-progress suffix; entries for which
// exclude returns true (already processed) are dropped.
func (s *Scanner) Scan(dir string, extensions []string, ordering string, exclude func(path string) bool) ([]PromptFile, error) {
	if ordering != OrderByName && ordering != OrderByMtime {
		return nil, fmt.Errorf("unknown ordering %q (want %q or %q)", ordering, OrderByName, OrderByMtime)
	}

	entries, err := afero.ReadDir(s.fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input directory %s: %w", dir, err)
	}

	wantExt := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		wantExt[ext] = struct{}{}
	}

	var files []PromptFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if inProgress(name) {
			continue
		}
		if _, ok := wantExt[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		path := filepath.Join(dir, name)
		if exclude != nil && exclude(path) {
			continue
		}
		files = append(files, PromptFile{
			Path:    path,
			ModTime: entry.ModTime(),
			Size:    entry.Size(),
		})
	}

	switch ordering {
	case OrderByName:
		sort.Slice(files, func(i, j int) bool {
			return natsort.Less(filepath.Base(files[i].Path), filepath.Base(files[j].Path))
		})
	case OrderByMtime:
		sort.Slice(files, func(i, j int) bool {
			if !files[i].ModTime.Equal(files[j].ModTime) {
				return files[i].ModTime.Before(files[j].ModTime)
			}
			// Tie-break by name for a deterministic order.
			return natsort.Less(filepath.Base(files[i].Path), filepath.Base(files[j].Path))
		})
	}
	return files, nil
}

func inProgress(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range inProgressSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
