// Package snapshot stores event images on disk under
// <root>/<device>/<date>/<subject>-<seq>.jpg.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// UndatedDir holds images of events that carried no usable timestamp.
const UndatedDir = "undated"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// SanitizeName makes s safe as a single path element.
func SanitizeName(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// Store is a directory tree of snapshot files. Paths handed in and out are
// slash-separated and relative to the root.
type Store struct {
	root string
}

// New returns a store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// RelPath builds the relative path for one event's image. An empty date
// files the image under UndatedDir.
func RelPath(device, date, subject string, seq int64) string {
	if date == "" {
		date = UndatedDir
	}
	name := SanitizeName(subject) + "-" + strconv.FormatInt(seq, 10) + ".jpg"
	return SanitizeName(device) + "/" + date + "/" + name
}

func (s *Store) abs(rel string) (string, error) {
	p := filepath.FromSlash(rel)
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("snapshot path %q escapes the store", rel)
	}
	return filepath.Join(s.root, p), nil
}

// Save writes data to rel, creating directories as needed. The file is
// written under a temporary name and renamed into place.
func (s *Store) Save(rel string, data []byte) error {
	path, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snap-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Read returns the image at rel. A missing file yields an error matching
// fs.ErrNotExist.
func (s *Store) Read(rel string) ([]byte, error) {
	if rel == "" {
		return nil, fs.ErrNotExist
	}
	path, err := s.abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Remove deletes the image at rel and then prunes its date and device
// directories if they became empty. The root itself is never removed.
// A file that is already gone is not an error.
func (s *Store) Remove(rel string) error {
	if rel == "" {
		return nil
	}
	path, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	s.pruneEmpty(filepath.Dir(path))
	return nil
}

func (s *Store) pruneEmpty(dir string) {
	root := filepath.Clean(s.root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// PruneEmptyDirs removes every empty directory below the root, deepest
// first, and returns how many it removed.
func (s *Store) PruneEmptyDirs() (int, error) {
	root := filepath.Clean(s.root)
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk snapshots: %w", err)
	}

	removed := 0
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		if os.Remove(dirs[i]) == nil {
			removed++
		}
	}
	return removed, nil
}
