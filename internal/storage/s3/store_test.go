package s3

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citydatalab/courtbatch/internal/logging"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key    string
		bucket string
		object string
	}{
		{"bucket/results/d/file.json", "bucket", "results/d/file.json"},
		{"bucket/file.json", "bucket", "file.json"},
		{"bucket", "bucket", ""},
	}
	for _, tt := range tests {
		bucket, object := splitKey(tt.key)
		assert.Equal(t, tt.bucket, bucket, tt.key)
		assert.Equal(t, tt.object, object, tt.key)
	}
}

func TestStaticPrefix(t *testing.T) {
	assert.Equal(t, "chunks/portal_results", staticPrefix("chunks/portal_results*.json"))
	assert.Equal(t, "chunks/", staticPrefix("chunks/?.json"))
	assert.Equal(t, "a/", staticPrefix("a/[bc]/d"))
	assert.Equal(t, "chunks/exact.json", staticPrefix("chunks/exact.json"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchBucket"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("dial tcp: connection refused")))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeFor("chunks/a.json"))
	assert.Equal(t, "text/csv", contentTypeFor("chunks/a.csv"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("chunks/a.parquet"))
}

func TestListCache(t *testing.T) {
	cache := newListCache()

	_, ok := cache.get("glob:x")
	assert.False(t, ok)

	cache.put("glob:x", []string{"a", "b"})
	vals, ok := cache.get("glob:x")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, vals)

	// Cached slices are copies in both directions.
	vals[0] = "mutated"
	again, ok := cache.get("glob:x")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, again)

	assert.Equal(t, 1, cache.len())
	cache.invalidate()
	assert.Equal(t, 0, cache.len())
	_, ok = cache.get("glob:x")
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	logger, err := logging.New(true)
	require.NoError(t, err)

	t.Run("StaticCredentials", func(t *testing.T) {
		store, err := New(Config{
			Endpoint:  "localhost:9000",
			AccessKey: "minio",
			SecretKey: "minio123",
		}, logger)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("DefaultEndpoint", func(t *testing.T) {
		store, err := New(Config{AccessKey: "k", SecretKey: "s", UseSSL: true}, logger)
		require.NoError(t, err)
		assert.Equal(t, "s3.amazonaws.com", store.client.EndpointURL().Host)
	})
}
