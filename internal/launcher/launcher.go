// Package launcher fans a job out across cluster tasks, one per partition.
package launcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/logging"
	"github.com/citydatalab/courtbatch/internal/metrics"
)

// Launcher submits one cluster task per partition of a job spec.
type Launcher struct {
	backend batch.ClusterBackend
	clock   batch.Clock
	logger  *zap.Logger
}

// New creates a Launcher on the given cluster backend.
func New(backend batch.ClusterBackend, clock batch.Clock, logger *zap.Logger) *Launcher {
	return &Launcher{backend: backend, clock: clock, logger: logger}
}

// Launch validates the spec, resolves the output folder when the caller
// left it empty, and submits one task per partition in index order. Every
// partition shares the same base command and differs only in its partition
// flag. A failed launch request aborts the fan-out; placement failures are
// recorded in the result for the waiter to act on.
func (l *Launcher) Launch(ctx context.Context, profile batch.Profile, spec batch.JobSpec) (batch.Submission, error) {
	if err := spec.Validate(); err != nil {
		return batch.Submission{}, fmt.Errorf("invalid job spec: %w", err)
	}
	if spec.OutputFolder == "" {
		spec.OutputFolder = batch.DeriveOutputFolder(spec.Dataset, l.clock.Now())
	}

	runID := uuid.NewString()
	logger := logging.WithRun(l.logger, runID)
	logger.Info("Submitting batch job",
		zap.String("flavor", string(spec.Flavor)),
		zap.String("dataset", spec.Dataset),
		zap.Int("partitions", spec.Partitions),
		zap.String("output_folder", spec.OutputFolder))

	base := batch.BuildBaseCommand(spec)
	results := make([]batch.LaunchResult, 0, spec.Partitions)
	for i := 0; i < spec.Partitions; i++ {
		logger.Info("Submitting partition task", zap.Int("partition", i))
		result, err := l.backend.Launch(ctx, profile, batch.PartitionCommand(base, i))
		if err != nil {
			return batch.Submission{}, fmt.Errorf("failed to launch partition %d: %w", i, err)
		}
		result.Partition = i
		if result.Failed() {
			metrics.ObserveLaunchFailure(string(spec.Flavor))
			logger.Warn("Cluster could not place partition task",
				zap.Int("partition", i),
				zap.Int("failures", len(result.Failures)),
				zap.String("reason", result.Failures[0].Reason))
		} else {
			metrics.ObserveLaunch(string(spec.Flavor))
		}
		results = append(results, result)
	}

	return batch.Submission{
		RunID:        runID,
		Spec:         spec,
		OutputFolder: spec.OutputFolder,
		Results:      results,
	}, nil
}
