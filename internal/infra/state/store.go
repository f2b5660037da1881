// Package state persists the set of already-processed input files.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/spf13/afero"

	infrafs "github.com/prompttick/prompttick/internal/infra/fs"
)

// document is the on-disk shape of the state file.
type document struct {
	Processed []string `json:"processed"`
}

// Store tracks which input identifiers (absolute paths) have already been
// handled. A path is present iff the file was successfully processed —
// failed files stay out so the next pass retries them.
//
// One Store owns one state file. Cross-process exclusion is the run lock's
// job (see infra/fs.AcquireLock), not the Store's.
type Store struct {
	fsys afero.Fs
	path string

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewStore returns a Store bound to path. Call Load before use.
func NewStore(fsys afero.Fs, path string) *Store {
	return &Store{
		fsys:      fsys,
		path:      path,
		processed: make(map[string]struct{}),
	}
}

// Load reads the state document. A missing file yields an empty set; a
// corrupt file is an error, because silently starting empty would cause
// every input to be reprocessed.
func (s *Store) Load() error {
	data, err := afero.ReadFile(s.fsys, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{}, len(doc.Processed))
	for _, p := range doc.Processed {
		s.processed[p] = struct{}{}
	}
	return nil
}

// Contains reports whether path has already been processed.
func (s *Store) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[path]
	return ok
}

// Mark records path as processed. Durable only after Save.
func (s *Store) Mark(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[path] = struct{}{}
}

// Clear empties the processed set (the --rescan path).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{})
}

// Len returns the number of processed identifiers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// Save rewrites the state document atomically, entries sorted for stable
// diffs.
func (s *Store) Save() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.processed))
	for p := range s.processed {
		paths = append(paths, p)
	}
	s.mu.Unlock()
	sort.Strings(paths)

	doc := document{Processed: paths}
	if err := infrafs.WriteJSONAtomic(s.fsys, s.path, doc); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
