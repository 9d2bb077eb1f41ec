// Package syncer mirrors files one way between the remote object store
// and the local filesystem. Files are copied when the destination lacks
// them or holds an older version; nothing is ever deleted.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/metrics"
	"github.com/citydatalab/courtbatch/internal/storage"
)

// Summary counts what one sync pass did. In a dry run Copied counts the
// files that would have been copied.
type Summary struct {
	Copied  int
	Skipped int
	Failed  int
}

// Syncer copies missing or newer files from a source tree to a
// destination tree.
type Syncer struct {
	stores *storage.Stores
	logger *zap.Logger
}

// New creates a Syncer over the given realm pair.
func New(stores *storage.Stores, logger *zap.Logger) *Syncer {
	return &Syncer{stores: stores, logger: logger}
}

// Sync mirrors source into dest. Exactly one side must be remote; the
// copy direction follows from which one. Each file's destination is the
// source key with its leading segment (the bucket, or the tree's top
// folder) replaced by the destination root, so both sides agree on layout
// below their roots.
//
// Copy failures are isolated per file: the rest of the tree still syncs
// and the failures come back joined into one error. With dryRun set every
// would-be copy is logged and counted but no data moves.
func (s *Syncer) Sync(ctx context.Context, source, dest string, dryRun bool) (Summary, error) {
	src, err := s.stores.Parse(source)
	if err != nil {
		return Summary{}, err
	}
	dst, err := s.stores.Parse(dest)
	if err != nil {
		return Summary{}, err
	}
	if (src.Realm() == storage.RealmRemote) == (dst.Realm() == storage.RealmRemote) {
		return Summary{}, fmt.Errorf("exactly one of source and dest must start with %s", storage.RemoteScheme)
	}
	direction := "download"
	if dst.Realm() == storage.RealmRemote {
		direction = "upload"
	}

	srcStore := s.stores.For(src)
	dstStore := s.stores.For(dst)
	if inv, ok := srcStore.(storage.CacheInvalidator); ok {
		inv.InvalidateCache()
	}

	files, err := srcStore.Find(ctx, src.Key())
	if err != nil {
		return Summary{}, fmt.Errorf("failed to enumerate %s: %w", src, err)
	}
	s.logger.Info("Starting sync",
		zap.String("source", src.String()),
		zap.String("dest", dst.String()),
		zap.Int("files", len(files)),
		zap.Bool("dry_run", dryRun))

	var sum Summary
	var copyErrs []error
	for _, f := range files {
		destKey := path.Join(dst.Key(), stripRoot(f))

		need, err := s.needsCopy(ctx, srcStore, dstStore, f, destKey)
		if err != nil {
			sum.Failed++
			metrics.ObserveSyncFailure(direction)
			s.logger.Error("Failed to compare file", zap.String("file", f), zap.Error(err))
			copyErrs = append(copyErrs, err)
			continue
		}
		if !need {
			sum.Skipped++
			metrics.ObserveSyncSkip(direction)
			continue
		}

		s.logger.Info("Syncing file",
			zap.String("from", storage.NewPath(src.Realm(), f).String()),
			zap.String("to", storage.NewPath(dst.Realm(), destKey).String()))
		if dryRun {
			sum.Copied++
			continue
		}
		if err := copyFile(ctx, srcStore, dstStore, f, destKey); err != nil {
			sum.Failed++
			metrics.ObserveSyncFailure(direction)
			s.logger.Error("Failed to copy file", zap.String("file", f), zap.Error(err))
			copyErrs = append(copyErrs, err)
			continue
		}
		sum.Copied++
		metrics.ObserveSyncCopy(direction)
	}

	s.logger.Info("Sync finished",
		zap.Int("copied", sum.Copied),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, errors.Join(copyErrs...)
}

// stripRoot drops the leading key segment.
func stripRoot(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// needsCopy reports whether the source file is missing at the destination
// or strictly newer than the destination's copy.
func (s *Syncer) needsCopy(ctx context.Context, srcStore, dstStore storage.Store, srcKey, destKey string) (bool, error) {
	exists, err := dstStore.Exists(ctx, destKey)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", destKey, err)
	}
	if !exists {
		return true, nil
	}
	srcMod, err := srcStore.ModTime(ctx, srcKey)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", srcKey, err)
	}
	dstMod, err := dstStore.ModTime(ctx, destKey)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", destKey, err)
	}
	return srcMod.After(dstMod), nil
}

func copyFile(ctx context.Context, srcStore, dstStore storage.Store, srcKey, destKey string) error {
	rc, err := srcStore.Open(ctx, srcKey)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcKey, err)
	}
	defer rc.Close()
	wc, err := dstStore.Create(ctx, destKey)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destKey, err)
	}
	if _, err := io.Copy(wc, rc); err != nil {
		wc.Close()
		return fmt.Errorf("failed to copy %s: %w", srcKey, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to copy %s: %w", srcKey, err)
	}
	return nil
}
