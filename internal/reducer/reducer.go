// Package reducer combines partitioned scrape outputs into single
// artifacts: partition JSON payloads concatenate into one record array,
// partition CSV files stack row-wise.
package reducer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/metrics"
	"github.com/citydatalab/courtbatch/internal/storage"
)

// Every flavor leaves two families of partition files behind: the scraped
// records and the input rows that produced them.
var outputs = []struct {
	suffix string
	ext    string
}{
	{suffix: "_results", ext: ".json"},
	{suffix: "_input", ext: ".csv"},
}

// NoPartitionFilesError means discovery matched nothing for a tag, usually
// because every partition died before writing output.
type NoPartitionFilesError struct {
	Dataset string
	Flavor  string
	Tag     string
	Folder  string
}

func (e *NoPartitionFilesError) Error() string {
	return fmt.Sprintf("no files found for dataset %q and flavor %q under %s", e.Dataset, e.Flavor, e.Folder)
}

// OutputFolderMissingError means reduction was asked for a folder that
// does not exist in its realm.
type OutputFolderMissingError struct {
	Folder string
}

func (e *OutputFolderMissingError) Error() string {
	return fmt.Sprintf("output folder %s does not exist", e.Folder)
}

// Reducer merges partition files into combined artifacts.
type Reducer struct {
	stores *storage.Stores
	logger *zap.Logger
}

// New creates a Reducer over the given realm pair.
func New(stores *storage.Stores, logger *zap.Logger) *Reducer {
	return &Reducer{stores: stores, logger: logger}
}

// Combine merges every partition file for flavor under folder, one
// artifact per output family, written to the folder's parent. Merge order
// is the lexicographic filename order, which sorts by partition index for
// the zero-padded names workers write. The combined records artifact path
// is returned.
//
// Cached listings are invalidated first so files written by cluster tasks
// since the last listing are seen.
func (r *Reducer) Combine(ctx context.Context, flavor batch.Flavor, dataset string, folder storage.Path) (storage.Path, error) {
	store := r.stores.For(folder)
	if inv, ok := store.(storage.CacheInvalidator); ok {
		inv.InvalidateCache()
	}

	exists, err := store.Exists(ctx, folder.Key())
	if err != nil {
		return storage.Path{}, fmt.Errorf("failed to check output folder %s: %w", folder, err)
	}
	if !exists {
		return storage.Path{}, &OutputFolderMissingError{Folder: folder.String()}
	}

	var artifact storage.Path
	for i, out := range outputs {
		tag := string(flavor) + out.suffix
		started := time.Now()

		pattern := folder.Key() + "/" + tag + "*" + out.ext
		files, err := store.Glob(ctx, pattern)
		if err != nil {
			return storage.Path{}, fmt.Errorf("failed to list partition files for %s: %w", tag, err)
		}
		if len(files) == 0 {
			return storage.Path{}, &NoPartitionFilesError{
				Dataset: dataset,
				Flavor:  string(flavor),
				Tag:     tag,
				Folder:  folder.String(),
			}
		}
		sort.Strings(files)

		target := folder.Dir().Join(tag + out.ext)
		switch out.ext {
		case ".json":
			err = r.combineJSON(ctx, store, files, target)
		case ".csv":
			err = r.combineCSV(ctx, store, files, target)
		}
		if err != nil {
			return storage.Path{}, err
		}

		metrics.ObserveReduce(tag, len(files), time.Since(started))
		r.logger.Info("Combined partition files",
			zap.String("tag", tag),
			zap.Int("partitions", len(files)),
			zap.String("artifact", target.String()))
		if i == 0 {
			artifact = target
		}
	}
	return artifact, nil
}

// combineJSON concatenates the record sequences of each partition payload
// and writes them as one array.
func (r *Reducer) combineJSON(ctx context.Context, store storage.Store, files []string, target storage.Path) error {
	records := []json.RawMessage{}
	for _, f := range files {
		data, err := readAll(ctx, store, f)
		if err != nil {
			return err
		}
		recs, err := decodeRecords(data)
		if err != nil {
			return fmt.Errorf("bad partition payload %s: %w", f, err)
		}
		records = append(records, recs...)
	}
	combined, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode combined records: %w", err)
	}
	return writeAll(ctx, store, target, combined)
}

// combineCSV stacks the headerless rows of each partition file, streaming
// straight into the artifact.
func (r *Reducer) combineCSV(ctx context.Context, store storage.Store, files []string, target storage.Path) error {
	wc, err := store.Create(ctx, target.Key())
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", target, err)
	}
	w := csv.NewWriter(wc)
	for _, f := range files {
		if err := appendRows(ctx, store, f, w); err != nil {
			wc.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write artifact %s: %w", target, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", target, err)
	}
	return nil
}

func appendRows(ctx context.Context, store storage.Store, file string, w *csv.Writer) error {
	rc, err := store.Open(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to open partition %s: %w", file, err)
	}
	defer rc.Close()
	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bad csv row in %s: %w", file, err)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
}

func readAll(ctx context.Context, store storage.Store, key string) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", key, err)
	}
	return data, nil
}

func writeAll(ctx context.Context, store storage.Store, target storage.Path, data []byte) error {
	wc, err := store.Create(ctx, target.Key())
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", target, err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write artifact %s: %w", target, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", target, err)
	}
	return nil
}
