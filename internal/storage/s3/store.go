// Package s3 implements the remote storage realm on an S3-compatible
// object store. Keys carry the bucket as their leading segment, so one
// store serves any bucket the credentials can reach.
package s3

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config captures the connection parameters for the object store.
type Config struct {
	// Endpoint defaults to AWS S3 when empty.
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Store reads and writes objects through a minio client and caches
// listings until the next write or explicit invalidation.
type Store struct {
	client *minio.Client
	logger *zap.Logger
	cache  *listCache
}

// New connects to the object store. Static credentials win when provided;
// otherwise the ambient AWS chain (env, shared config, IAM role) is used.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Store{client: client, logger: logger, cache: newListCache()}, nil
}

// CheckBucket verifies the bucket exists and is reachable.
func (s *Store) CheckBucket(ctx context.Context, bucket string) error {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	return nil
}

// InvalidateCache drops every cached listing so the next discovery sees
// objects written by other processes.
func (s *Store) InvalidateCache() {
	n := s.cache.len()
	s.cache.invalidate()
	s.logger.Debug("invalidated listing cache", zap.Int("entries", n))
}

// splitKey separates the bucket segment from the object key.
func splitKey(key string) (bucket, object string) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket"
}

// Exists reports whether key names an object, or a prefix at least one
// object lives under.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	bucket, object := splitKey(key)
	if object == "" {
		ok, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return false, fmt.Errorf("failed to check bucket %q: %w", bucket, err)
		}
		return ok, nil
	}
	_, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	// Fall back to a prefix probe so folder-style keys report existence.
	opts := minio.ListObjectsOptions{Prefix: object + "/", Recursive: true, MaxKeys: 1}
	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return false, fmt.Errorf("failed to list under %q: %w", key, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

// ModTime returns the object's last-modified time.
func (s *Store) ModTime(ctx context.Context, key string) (time.Time, error) {
	bucket, object := splitKey(key)
	info, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %q: %w", key, err)
	}
	return info.LastModified, nil
}

// staticPrefix returns the pattern text before the first glob metacharacter.
func staticPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// Glob returns the keys matching pattern. Listings are served from the
// cache when a previous call populated it.
func (s *Store) Glob(ctx context.Context, pattern string) ([]string, error) {
	cacheKey := "glob:" + pattern
	if keys, ok := s.cache.get(cacheKey); ok {
		return keys, nil
	}
	bucket, objPattern := splitKey(pattern)
	keys := []string{}
	opts := minio.ListObjectsOptions{Prefix: staticPrefix(objPattern), Recursive: true}
	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", pattern, obj.Err)
		}
		ok, err := path.Match(objPattern, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
		}
		if ok {
			keys = append(keys, bucket+"/"+obj.Key)
		}
	}
	s.cache.put(cacheKey, keys)
	return keys, nil
}

// Find returns every object key under root, sorted. Listings are served
// from the cache when a previous call populated it.
func (s *Store) Find(ctx context.Context, root string) ([]string, error) {
	cacheKey := "find:" + root
	if keys, ok := s.cache.get(cacheKey); ok {
		return keys, nil
	}
	bucket, object := splitKey(root)
	keys := []string{}
	opts := minio.ListObjectsOptions{Prefix: object, Recursive: true}
	for obj := range s.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list under %q: %w", root, obj.Err)
		}
		// Prefix listing also matches sibling keys sharing the text prefix;
		// keep only the object itself and keys below it.
		if object != "" && obj.Key != object && !strings.HasPrefix(obj.Key, object+"/") {
			continue
		}
		keys = append(keys, bucket+"/"+obj.Key)
	}
	sort.Strings(keys)
	s.cache.put(cacheKey, keys)
	return keys, nil
}

// Open starts reading an object, failing fast when it is absent.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket, object := splitKey(key)
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to open %q: %w", key, err)
	}
	return obj, nil
}

func contentTypeFor(object string) string {
	switch path.Ext(object) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Create streams a new object. The upload runs while the caller writes;
// Close finishes it and reports the upload error. A successful write
// invalidates cached listings.
func (s *Store) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	bucket, object := splitKey(key)
	if object == "" {
		return nil, fmt.Errorf("key %q names no object", key)
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		opts := minio.PutObjectOptions{ContentType: contentTypeFor(object)}
		_, err := s.client.PutObject(ctx, bucket, object, pr, -1, opts)
		if err != nil {
			// Unblock a writer mid-Write.
			pr.CloseWithError(err)
		}
		done <- err
	}()
	return &remoteWriter{store: s, key: key, pw: pw, done: done}, nil
}

type remoteWriter struct {
	store  *Store
	key    string
	pw     *io.PipeWriter
	done   chan error
	closed bool
	err    error
}

func (w *remoteWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *remoteWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	w.pw.Close()
	w.err = <-w.done
	if w.err != nil {
		return fmt.Errorf("failed to upload %q: %w", w.key, w.err)
	}
	w.store.cache.invalidate()
	return nil
}
