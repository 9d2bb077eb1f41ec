package waiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/metrics"
	"github.com/citydatalab/courtbatch/internal/storage"
	"github.com/citydatalab/courtbatch/internal/waiter"
)

// --- fakes ---

type stopCall struct {
	handle string
	reason string
}

type fakeBackend struct {
	stops     []stopCall
	stopErr   error
	waitErr   error
	waited    [][]string
	waitDelay time.Duration
	waitMax   int
	descs     []batch.TaskDescription
	descErr   error
}

func (f *fakeBackend) ResolveProfile(context.Context) (batch.Profile, error) {
	return batch.Profile{}, nil
}

func (f *fakeBackend) Launch(context.Context, batch.Profile, []string) (batch.LaunchResult, error) {
	return batch.LaunchResult{}, nil
}

func (f *fakeBackend) Stop(_ context.Context, handle, reason string) error {
	f.stops = append(f.stops, stopCall{handle: handle, reason: reason})
	return f.stopErr
}

func (f *fakeBackend) WaitUntilStopped(_ context.Context, handles []string, delay time.Duration, maxAttempts int) error {
	f.waited = append(f.waited, handles)
	f.waitDelay = delay
	f.waitMax = maxAttempts
	return f.waitErr
}

func (f *fakeBackend) Describe(context.Context, []string) ([]batch.TaskDescription, error) {
	return f.descs, f.descErr
}

type combineCall struct {
	flavor  batch.Flavor
	dataset string
	folder  storage.Path
}

type fakeCombiner struct {
	calls    []combineCall
	artifact storage.Path
	err      error
}

func (f *fakeCombiner) Combine(_ context.Context, flavor batch.Flavor, dataset string, folder storage.Path) (storage.Path, error) {
	f.calls = append(f.calls, combineCall{flavor: flavor, dataset: dataset, folder: folder})
	return f.artifact, f.err
}

// --- tests ---

func intPtr(v int) *int { return &v }

func testSubmission() batch.Submission {
	return batch.Submission{
		RunID: "run-123",
		Spec: batch.JobSpec{
			Flavor:     batch.FlavorBail,
			Dataset:    "bail-2022",
			Partitions: 2,
			Errors:     batch.ErrorsIgnore,
		},
		OutputFolder: "results/bail-2022/2026-08-21",
		Results: []batch.LaunchResult{
			{Partition: 0, Handles: []string{"task-a"}},
			{Partition: 1, Handles: []string{"task-b"}},
		},
	}
}

func testConfig() waiter.Config {
	return waiter.Config{Bucket: "courtbatch", Delay: time.Minute, MaxAttempts: 500}
}

func TestAwaitSuccess(t *testing.T) {
	metrics.Init()

	backend := &fakeBackend{
		descs: []batch.TaskDescription{
			{Handle: "task-a", LastStatus: "STOPPED", ExitCode: intPtr(0)},
			{Handle: "task-b", LastStatus: "STOPPED", ExitCode: intPtr(0)},
		},
	}
	combiner := &fakeCombiner{artifact: storage.RemotePath("courtbatch/results/bail-2022/2026-08-21/bail_results.json")}
	w := waiter.New(backend, combiner, testConfig(), zap.NewNop())

	artifact, err := w.Await(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Equal(t, "courtbatch/results/bail-2022/2026-08-21/bail_results.json", artifact.Key())

	// The barrier saw every handle with the configured bounds.
	require.Len(t, backend.waited, 1)
	assert.Equal(t, []string{"task-a", "task-b"}, backend.waited[0])
	assert.Equal(t, time.Minute, backend.waitDelay)
	assert.Equal(t, 500, backend.waitMax)

	// Reduction ran against the chunks folder in the remote bucket.
	require.Len(t, combiner.calls, 1)
	call := combiner.calls[0]
	assert.Equal(t, batch.FlavorBail, call.flavor)
	assert.Equal(t, "bail-2022", call.dataset)
	assert.Equal(t, storage.RealmRemote, call.folder.Realm())
	assert.Equal(t, "courtbatch/results/bail-2022/2026-08-21/chunks", call.folder.Key())
}

func TestAwaitProvisioningRollback(t *testing.T) {
	metrics.Init()

	sub := testSubmission()
	sub.Results = []batch.LaunchResult{
		{Partition: 0, Handles: []string{"task-a"}},
		{Partition: 1, Failures: []batch.LaunchFailure{{Reason: "RESOURCE:MEMORY"}}},
		{Partition: 2, Handles: []string{"task-c"}},
	}

	backend := &fakeBackend{}
	combiner := &fakeCombiner{}
	w := waiter.New(backend, combiner, testConfig(), zap.NewNop())

	_, err := w.Await(context.Background(), sub)

	var provErr *batch.ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "Error provisioning some tasks; all tasks stopped.", provErr.Error())
	assert.Equal(t, []int{1}, provErr.Partitions)
	require.Len(t, provErr.Failures, 1)
	assert.Equal(t, "RESOURCE:MEMORY", provErr.Failures[0].Reason)

	// Every started task was stopped; nothing was waited on or reduced.
	require.Len(t, backend.stops, 2)
	assert.Equal(t, "task-a", backend.stops[0].handle)
	assert.Equal(t, "task-c", backend.stops[1].handle)
	assert.Equal(t, "sibling partition failed to provision", backend.stops[0].reason)
	assert.Empty(t, backend.waited)
	assert.Empty(t, combiner.calls)
}

func TestAwaitRollbackStopErrorsAreNotFatal(t *testing.T) {
	metrics.Init()

	sub := testSubmission()
	sub.Results = []batch.LaunchResult{
		{Partition: 0, Handles: []string{"task-a"}},
		{Partition: 1, Failures: []batch.LaunchFailure{{Reason: "RESOURCE:CPU"}}},
	}

	backend := &fakeBackend{stopErr: errors.New("already stopped")}
	w := waiter.New(backend, &fakeCombiner{}, testConfig(), zap.NewNop())

	_, err := w.Await(context.Background(), sub)

	var provErr *batch.ProvisioningError
	assert.ErrorAs(t, err, &provErr, "stop failures must not mask the provisioning error")
	assert.Len(t, backend.stops, 1)
}

func TestAwaitTimeoutPropagates(t *testing.T) {
	metrics.Init()

	backend := &fakeBackend{
		waitErr: &batch.TimeoutError{Attempts: 500, Delay: time.Minute, Pending: []string{"task-b"}},
	}
	combiner := &fakeCombiner{}
	w := waiter.New(backend, combiner, testConfig(), zap.NewNop())

	_, err := w.Await(context.Background(), testSubmission())

	var timeoutErr *batch.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []string{"task-b"}, timeoutErr.Pending)
	assert.Empty(t, combiner.calls, "no reduction after a timeout")
}

func TestAwaitNonzeroExitsDoNotBlockReduction(t *testing.T) {
	metrics.Init()

	backend := &fakeBackend{
		descs: []batch.TaskDescription{
			{Handle: "task-a", LastStatus: "STOPPED", ExitCode: intPtr(1), StopReason: "Essential container in task exited"},
			// A nil exit code means the container never ran.
			{Handle: "task-b", LastStatus: "STOPPED"},
		},
	}
	combiner := &fakeCombiner{artifact: storage.RemotePath("courtbatch/results/bail-2022/2026-08-21/bail_results.json")}
	w := waiter.New(backend, combiner, testConfig(), zap.NewNop())

	_, err := w.Await(context.Background(), testSubmission())
	require.NoError(t, err)
	assert.Len(t, combiner.calls, 1)
}

func TestAwaitDescribeError(t *testing.T) {
	metrics.Init()

	backend := &fakeBackend{descErr: errors.New("throttled")}
	combiner := &fakeCombiner{}
	w := waiter.New(backend, combiner, testConfig(), zap.NewNop())

	_, err := w.Await(context.Background(), testSubmission())
	assert.ErrorContains(t, err, "failed to describe finished tasks")
	assert.Empty(t, combiner.calls)
}

func TestAwaitCombineErrorPropagates(t *testing.T) {
	metrics.Init()

	backend := &fakeBackend{descs: []batch.TaskDescription{
		{Handle: "task-a", LastStatus: "STOPPED", ExitCode: intPtr(0)},
	}}
	combiner := &fakeCombiner{err: errors.New("no files found")}
	w := waiter.New(backend, combiner, testConfig(), zap.NewNop())

	_, err := w.Await(context.Background(), testSubmission())
	assert.ErrorContains(t, err, "no files found")
}
