// Package waiter holds a submission at the completion barrier: it rolls
// back partially provisioned runs, waits for every task to stop, audits
// exit codes, and hands the partition outputs to the reducer.
package waiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/logging"
	"github.com/citydatalab/courtbatch/internal/metrics"
	"github.com/citydatalab/courtbatch/internal/storage"
)

// ResultCombiner reduces partition outputs under folder into one artifact.
type ResultCombiner interface {
	Combine(ctx context.Context, flavor batch.Flavor, dataset string, folder storage.Path) (storage.Path, error)
}

// Config bounds the barrier and locates partition outputs.
type Config struct {
	// Bucket is the remote bucket partition outputs are written under.
	Bucket string
	// Delay is the barrier poll interval.
	Delay time.Duration
	// MaxAttempts caps the number of polls before giving up.
	MaxAttempts int
}

// Waiter drives a submission from launched to reduced.
type Waiter struct {
	backend  batch.ClusterBackend
	combiner ResultCombiner
	cfg      Config
	logger   *zap.Logger
}

// New creates a Waiter.
func New(backend batch.ClusterBackend, combiner ResultCombiner, cfg Config, logger *zap.Logger) *Waiter {
	return &Waiter{backend: backend, combiner: combiner, cfg: cfg, logger: logger}
}

// Await blocks until every task of the submission has stopped, then
// reduces the partition outputs and returns the combined artifact path.
//
// If any partition failed to provision, every task that did start is
// stopped and a ProvisioningError is returned. A barrier that outlasts
// the attempt budget returns a TimeoutError with the tasks left running.
// Non-zero exit codes are logged and counted but do not block reduction;
// partitions that wrote nothing surface later as NoPartitionFilesError.
func (w *Waiter) Await(ctx context.Context, sub batch.Submission) (storage.Path, error) {
	logger := logging.WithRun(w.logger, sub.RunID)

	var failedParts []int
	var failures []batch.LaunchFailure
	var handles []string
	for _, r := range sub.Results {
		if r.Failed() {
			failedParts = append(failedParts, r.Partition)
			failures = append(failures, r.Failures...)
			continue
		}
		handles = append(handles, r.Handles...)
	}

	if len(failedParts) > 0 {
		logger.Error("Provisioning failed; stopping all started tasks",
			zap.Ints("partitions", failedParts),
			zap.Int("started", len(handles)))
		for _, h := range handles {
			if err := w.backend.Stop(ctx, h, "sibling partition failed to provision"); err != nil {
				logger.Warn("Failed to stop task during rollback",
					zap.String("handle", h), zap.Error(err))
				continue
			}
			metrics.ObserveRollbackStop()
		}
		return storage.Path{}, &batch.ProvisioningError{Partitions: failedParts, Failures: failures}
	}

	logger.Info("Waiting for tasks to finish",
		zap.Int("tasks", len(handles)),
		zap.Duration("poll_delay", w.cfg.Delay),
		zap.Int("max_attempts", w.cfg.MaxAttempts))
	started := time.Now()
	if err := w.backend.WaitUntilStopped(ctx, handles, w.cfg.Delay, w.cfg.MaxAttempts); err != nil {
		return storage.Path{}, fmt.Errorf("completion barrier: %w", err)
	}
	metrics.ObserveWait(time.Since(started))
	logger.Info("All tasks finished", zap.Duration("waited", time.Since(started)))

	descs, err := w.backend.Describe(ctx, handles)
	if err != nil {
		return storage.Path{}, fmt.Errorf("failed to describe finished tasks: %w", err)
	}
	for _, d := range descs {
		code := -1
		if d.ExitCode != nil {
			code = *d.ExitCode
		}
		if code != 0 {
			metrics.ObserveNonzeroExit(string(sub.Spec.Flavor))
			logger.Warn("Task finished with a failure exit code",
				zap.String("handle", d.Handle),
				zap.Int("exit_code", code),
				zap.String("stop_reason", d.StopReason))
		}
	}

	chunks := storage.RemotePath(w.cfg.Bucket).Join(batch.ChunkFolder(sub.OutputFolder))
	return w.combiner.Combine(ctx, sub.Spec.Flavor, sub.Spec.Dataset, chunks)
}
