// Package local_test tests the local filesystem store.
package local_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citydatalab/courtbatch/internal/storage/local"
)

func newStore(t *testing.T) (*local.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(dir)
	require.NoError(t, err)
	return store, dir
}

func write(t *testing.T, store *local.Store, key, data string) {
	t.Helper()
	w, err := store.Create(context.Background(), key)
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestNew(t *testing.T) {
	t.Run("ExistingDir", func(t *testing.T) {
		store, err := local.New(t.TempDir())
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "home")
		store, err := local.New(dir)
		require.NoError(t, err)
		assert.NotNil(t, store)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("EmptyDir", func(t *testing.T) {
		_, err := local.New("  ")
		assert.Error(t, err)
	})

	t.Run("RootIsAFile", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "not-a-dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		_, err := local.New(file)
		assert.Error(t, err)
	})

	t.Run("RootNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permission bits")
		}
		dir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(dir, 0o500))

		_, err := local.New(dir)
		assert.Error(t, err)

		// Change back to writable so cleanup can happen.
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(dir, 0o700))
	})
}

func TestCreateAndOpen(t *testing.T) {
	store, dir := newStore(t)

	t.Run("RoundTrip", func(t *testing.T) {
		write(t, store, "results/d/chunks/file.json", `[1]`)

		r, err := store.Open(context.Background(), "results/d/chunks/file.json")
		require.NoError(t, err)
		defer r.Close()

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, `[1]`, string(data))

		// The file lands under the root on disk.
		_, err = os.Stat(filepath.Join(dir, "results", "d", "chunks", "file.json"))
		assert.NoError(t, err)
	})

	t.Run("CreateEmptyKey", func(t *testing.T) {
		_, err := store.Create(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("CreateTruncates", func(t *testing.T) {
		write(t, store, "a.txt", "first version")
		write(t, store, "a.txt", "second")

		r, err := store.Open(context.Background(), "a.txt")
		require.NoError(t, err)
		defer r.Close()

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
	})

	t.Run("OpenMissing", func(t *testing.T) {
		_, err := store.Open(context.Background(), "absent.txt")
		assert.Error(t, err)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.Create(context.Background(), "../escape.txt")
		assert.Error(t, err)

		_, err = store.Open(context.Background(), "../../etc/passwd")
		assert.Error(t, err)
	})
}

func TestExists(t *testing.T) {
	store, _ := newStore(t)
	write(t, store, "results/d/file.json", "{}")

	ok, err := store.Exists(context.Background(), "results/d/file.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "results/d")
	require.NoError(t, err)
	assert.True(t, ok, "directories count as existing")

	ok, err = store.Exists(context.Background(), "results/missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModTime(t *testing.T) {
	store, _ := newStore(t)
	write(t, store, "file.json", "{}")

	mod, err := store.ModTime(context.Background(), "file.json")
	require.NoError(t, err)
	assert.False(t, mod.IsZero())

	_, err = store.ModTime(context.Background(), "missing.json")
	assert.Error(t, err)
}

func TestGlob(t *testing.T) {
	store, _ := newStore(t)
	write(t, store, "chunks/court_summary_results_0.json", "[]")
	write(t, store, "chunks/court_summary_results_1.json", "[]")
	write(t, store, "chunks/court_summary_input_0.csv", "a,b")
	write(t, store, "chunks/nested/court_summary_results_2.json", "[]")

	t.Run("MatchesFilesOnly", func(t *testing.T) {
		keys, err := store.Glob(context.Background(), "chunks/court_summary_results*.json")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"chunks/court_summary_results_0.json",
			"chunks/court_summary_results_1.json",
		}, keys)
	})

	t.Run("NoMatches", func(t *testing.T) {
		keys, err := store.Glob(context.Background(), "chunks/bail*.json")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("DirectoriesExcluded", func(t *testing.T) {
		keys, err := store.Glob(context.Background(), "chunks/*")
		require.NoError(t, err)
		assert.NotContains(t, keys, "chunks/nested")
	})
}

func TestFind(t *testing.T) {
	store, _ := newStore(t)
	write(t, store, "results/d/b.json", "[]")
	write(t, store, "results/d/a.json", "[]")
	write(t, store, "results/d/chunks/c.json", "[]")

	t.Run("RecursiveSorted", func(t *testing.T) {
		keys, err := store.Find(context.Background(), "results/d")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"results/d/a.json",
			"results/d/b.json",
			"results/d/chunks/c.json",
		}, keys)
	})

	t.Run("MissingRoot", func(t *testing.T) {
		keys, err := store.Find(context.Background(), "results/missing")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
