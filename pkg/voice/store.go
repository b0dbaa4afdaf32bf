package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultExtension is the file suffix of stored embeddings.
const DefaultExtension = ".vpk"

// suggestThreshold is the minimum Jaro-Winkler similarity for [Store.Suggest]
// to propose a voice.
const suggestThreshold = 0.8

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithExtension overrides the embedding file suffix. A missing leading dot is
// added.
func WithExtension(ext string) StoreOption {
	return func(s *Store) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.ext = ext
	}
}

// Store is a directory of named voice embeddings, one file per voice. It holds
// no in-memory state beyond its configuration and is safe for concurrent use;
// caching is layered on top by the caller.
type Store struct {
	dir string
	ext string
}

// NewStore returns a Store rooted at dir. The directory must exist.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("voice: open store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("voice: open store: %q is not a directory", dir)
	}
	s := &Store{dir: dir, ext: DefaultExtension}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Extension returns the embedding file suffix, including the dot.
func (s *Store) Extension() string { return s.ext }

// Path resolves name to its embedding file. ok is false when name is not a
// valid voice name or no such file exists.
func (s *Store) Path(name string) (path string, ok bool) {
	path, err := s.pathFor(name)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return path, false
	}
	return path, true
}

// pathFor maps a name to a file path without touching the file system.
func (s *Store) pathFor(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+s.ext), nil
}

// ValidateName rejects names that are empty or would escape the store
// directory.
func ValidateName(name string) error {
	switch {
	case name == "", strings.TrimSpace(name) != name:
		return fmt.Errorf("voice: invalid name %q", name)
	case name == "." || name == "..", strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("voice: invalid name %q", name)
	}
	return nil
}

// List returns the names of all stored voices in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("voice: list %q: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), s.ext)
		if !ok || name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Load reads the named voice directly from disk, bypassing any cache.
func (s *Store) Load(name string) (*Embedding, error) {
	path, err := s.pathFor(name)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// Save writes emb under name, replacing any existing voice of that name. It
// returns the written path.
func (s *Store) Save(name string, emb *Embedding) (string, error) {
	path, err := s.pathFor(name)
	if err != nil {
		return "", err
	}
	if err := SaveFile(path, emb); err != nil {
		return "", err
	}
	return path, nil
}

// Suggest returns the stored voice whose name is most similar to name, or ""
// if none is similar enough. It is meant for "did you mean" hints.
func (s *Store) Suggest(ctx context.Context, name string) string {
	names, err := s.List(ctx)
	if err != nil {
		return ""
	}
	return closest(name, names)
}

func closest(name string, candidates []string) string {
	best, bestScore := "", suggestThreshold
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if score := matchr.JaroWinkler(lower, strings.ToLower(c), false); score >= bestScore {
			best, bestScore = c, score
		}
	}
	return best
}
