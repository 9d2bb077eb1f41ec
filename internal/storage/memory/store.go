// Package memory stores file content in-memory for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type entry struct {
	data    []byte
	modTime time.Time
}

// Store keeps files in a map. It implements the full storage.Store
// interface, including object-store prefix semantics for Exists and Find.
type Store struct {
	mu    sync.RWMutex
	files map[string]entry
	now   func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		files: make(map[string]entry),
		now:   time.Now,
	}
}

// Put seeds a file directly with an explicit modification time.
func (s *Store) Put(key string, data []byte, mod time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = entry{data: append([]byte(nil), data...), modTime: mod}
}

// Bytes returns a copy of a file's content, if present.
func (s *Store) Bytes(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Exists reports whether key names a file or a prefix with files under it.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.files[key]; ok {
		return true, nil
	}
	prefix := key + "/"
	for k := range s.files {
		if strings.HasPrefix(k, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// ModTime returns the modification time of key.
func (s *Store) ModTime(_ context.Context, key string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[key]
	if !ok {
		return time.Time{}, fmt.Errorf("no such key %q", key)
	}
	return e.modTime, nil
}

// Glob returns the keys matching pattern, in map order.
func (s *Store) Glob(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.files {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Find returns every key under root, sorted.
func (s *Store) Find(_ context.Context, root string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := root + "/"
	var keys []string
	for k := range s.files {
		if root == "" || k == root || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Open returns a reader over a copy of the file content.
func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.Bytes(key)
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create returns a writer that commits the file when closed.
func (s *Store) Create(_ context.Context, key string) (io.WriteCloser, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("key is required")
	}
	return &writer{store: s, key: key}, nil
}

type writer struct {
	store  *Store
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed writer for %q", w.key)
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.Put(w.key, w.buf.Bytes(), w.store.now())
	return nil
}
