package launcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/storage"
)

// WriteManifest records a submission as config.json inside its output
// folder so later reductions and audits can see exactly what ran. It
// returns the manifest's path.
func WriteManifest(ctx context.Context, store storage.Store, folder storage.Path, sub batch.Submission) (storage.Path, error) {
	target := folder.Join("config.json")
	data, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		return storage.Path{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	wc, err := store.Create(ctx, target.Key())
	if err != nil {
		return storage.Path{}, fmt.Errorf("failed to create manifest: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return storage.Path{}, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := wc.Close(); err != nil {
		return storage.Path{}, fmt.Errorf("failed to write manifest: %w", err)
	}
	return target, nil
}
