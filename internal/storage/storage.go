// Package storage defines the two-realm file layer the coordinator works
// through: a remote object store and the local filesystem, addressed by
// realm-qualified paths so callers never re-parse URI prefixes.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// RemoteScheme marks a raw path as living in the remote realm.
const RemoteScheme = "s3://"

// Realm says which side of the remote/local divide a path lives on.
type Realm int

// The two storage realms.
const (
	RealmLocal Realm = iota
	RealmRemote
)

func (r Realm) String() string {
	if r == RealmRemote {
		return "remote"
	}
	return "local"
}

// Path is a realm-qualified storage location. The realm is fixed at
// construction; the key is a clean slash-separated path relative to the
// realm root (bucket included for remote keys, home root implied for
// local ones).
type Path struct {
	realm Realm
	key   string
}

// NewPath builds a Path in the given realm from a raw key. Duplicate and
// trailing separators are collapsed.
func NewPath(realm Realm, key string) Path {
	return Path{realm: realm, key: cleanKey(key)}
}

// RemotePath builds a remote-realm Path.
func RemotePath(key string) Path { return NewPath(RealmRemote, key) }

// LocalPath builds a local-realm Path.
func LocalPath(key string) Path { return NewPath(RealmLocal, key) }

func cleanKey(key string) string {
	cleaned := path.Clean(strings.Trim(key, "/"))
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// Realm reports the realm fixed at construction.
func (p Path) Realm() Realm { return p.realm }

// Key returns the realm-relative key.
func (p Path) Key() string { return p.key }

// Join appends path elements, keeping the realm.
func (p Path) Join(elems ...string) Path {
	return Path{realm: p.realm, key: path.Join(append([]string{p.key}, elems...)...)}
}

// Dir returns the parent path in the same realm.
func (p Path) Dir() Path {
	return Path{realm: p.realm, key: cleanKey(path.Dir(p.key))}
}

// Base returns the last element of the key.
func (p Path) Base() string { return path.Base(p.key) }

// String renders the path for logs and CLI output, restoring the remote
// scheme where it applies.
func (p Path) String() string {
	if p.realm == RealmRemote {
		return RemoteScheme + p.key
	}
	return p.key
}

// Store is the realm-independent file interface. Keys follow Path.Key
// semantics. Glob patterns use path.Match syntax and match whole keys;
// Find enumerates every file below root recursively.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	ModTime(ctx context.Context, key string) (time.Time, error)
	Glob(ctx context.Context, pattern string) ([]string, error)
	Find(ctx context.Context, root string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Create(ctx context.Context, key string) (io.WriteCloser, error)
}

// CacheInvalidator is implemented by stores that cache listings and need
// them dropped before re-reading state another writer changed.
type CacheInvalidator interface {
	InvalidateCache()
}

// PathScopeError means a local path falls outside the configured home
// root and is refused.
type PathScopeError struct {
	Path string
	Root string
}

func (e *PathScopeError) Error() string {
	return fmt.Sprintf("path %q is outside the storage root %q", e.Path, e.Root)
}

// Stores pairs the two realm implementations and parses raw user paths
// into realm-qualified ones.
type Stores struct {
	remote    Store
	local     Store
	localRoot string
}

// NewStores wires the remote and local stores together. localRoot is the
// absolute directory local keys resolve against.
func NewStores(remote, local Store, localRoot string) *Stores {
	return &Stores{remote: remote, local: local, localRoot: filepath.Clean(localRoot)}
}

// For returns the store serving p's realm.
func (s *Stores) For(p Path) Store {
	if p.Realm() == RealmRemote {
		return s.remote
	}
	return s.local
}

// Remote returns the remote-realm store.
func (s *Stores) Remote() Store { return s.remote }

// Local returns the local-realm store.
func (s *Stores) Local() Store { return s.local }

// LocalRoot returns the absolute directory local keys resolve against.
func (s *Stores) LocalRoot() string { return s.localRoot }

// Parse classifies a raw path into its realm. Remote paths keep the
// bucket as the leading key segment. Local paths may be absolute or
// relative to the home root, and must resolve inside it.
func (s *Stores) Parse(raw string) (Path, error) {
	if strings.HasPrefix(raw, RemoteScheme) {
		key := cleanKey(strings.TrimPrefix(raw, RemoteScheme))
		if key == "" {
			return Path{}, fmt.Errorf("remote path %q names no bucket", raw)
		}
		return Path{realm: RealmRemote, key: key}, nil
	}
	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.localRoot, abs)
	} else {
		abs = filepath.Clean(abs)
	}
	rel, err := filepath.Rel(s.localRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Path{}, &PathScopeError{Path: raw, Root: s.localRoot}
	}
	return Path{realm: RealmLocal, key: cleanKey(filepath.ToSlash(rel))}, nil
}
