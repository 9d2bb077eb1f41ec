// Package local implements the local-filesystem storage realm.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store serves files under a single root directory. Keys are
// slash-separated paths relative to the root.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating the directory when absent.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("root directory is required")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create root directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("root directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{root: filepath.Clean(dir)}, nil
}

// resolve maps a key onto the filesystem and rejects escapes from the root.
func (s *Store) resolve(key string) (string, error) {
	full := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(key)))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for %q", key)
	}
	return full, nil
}

// rel converts an absolute path under the root back into a key.
func (s *Store) rel(full string) string {
	r, err := filepath.Rel(s.root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(r)
}

// Exists reports whether key names an existing file or directory.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return true, nil
}

// ModTime returns the modification time of key.
func (s *Store) ModTime(_ context.Context, key string) (time.Time, error) {
	full, err := s.resolve(key)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return info.ModTime(), nil
}

// Glob returns the keys of regular files matching pattern.
func (s *Store) Glob(_ context.Context, pattern string) ([]string, error) {
	full, err := s.resolve(pattern)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
	}
	var keys []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		keys = append(keys, s.rel(m))
	}
	return keys, nil
}

// Find returns every file key below root, sorted. A missing root yields
// an empty list, matching object-store prefix listings.
func (s *Store) Find(_ context.Context, root string) ([]string, error) {
	full, err := s.resolve(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return nil, nil
	}
	var keys []string
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			keys = append(keys, s.rel(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %q: %w", root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Open opens key for reading.
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", key, err)
	}
	return f, nil
}

// Create opens key for writing, truncating any existing file and creating
// parent directories as needed.
func (s *Store) Create(_ context.Context, key string) (io.WriteCloser, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("key is required")
	}
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", key, err)
	}
	return f, nil
}
