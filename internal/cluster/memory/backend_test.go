// Package memory_test tests the in-process cluster backend.
package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/cluster/memory"
)

func TestResolveProfile(t *testing.T) {
	backend := memory.New(zap.NewNop())

	profile, err := backend.ResolveProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", profile.Cluster)
	assert.NotEmpty(t, profile.TaskDefinition)
	assert.NotEmpty(t, profile.Subnets)
}

func TestLaunchRecordsCommands(t *testing.T) {
	backend := memory.New(zap.NewNop())
	profile := batch.Profile{Cluster: "memory"}

	first, err := backend.Launch(context.Background(), profile, []string{"scrape", "bail", "d", "--partition=0"})
	require.NoError(t, err)
	second, err := backend.Launch(context.Background(), profile, []string{"scrape", "bail", "d", "--partition=1"})
	require.NoError(t, err)

	require.Len(t, first.Handles, 1)
	require.Len(t, second.Handles, 1)
	assert.NotEqual(t, first.Handles[0], second.Handles[0])
	assert.False(t, first.Failed())

	cmds := backend.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "--partition=0", cmds[0][len(cmds[0])-1])
	assert.Equal(t, "--partition=1", cmds[1][len(cmds[1])-1])
}

func TestStop(t *testing.T) {
	backend := memory.New(zap.NewNop())
	result, err := backend.Launch(context.Background(), batch.Profile{}, []string{"scrape"})
	require.NoError(t, err)
	handle := result.Handles[0]

	require.NoError(t, backend.Stop(context.Background(), handle, "test stop"))

	descs, err := backend.Describe(context.Background(), []string{handle})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "test stop", descs[0].StopReason)

	assert.Error(t, backend.Stop(context.Background(), "memory-task-9999", "r"))
}

func TestWaitUntilStoppedReturnsImmediately(t *testing.T) {
	backend := memory.New(zap.NewNop())

	start := time.Now()
	err := backend.WaitUntilStopped(context.Background(), []string{"memory-task-0001"}, time.Hour, 500)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDescribe(t *testing.T) {
	backend := memory.New(zap.NewNop())
	result, err := backend.Launch(context.Background(), batch.Profile{}, []string{"scrape"})
	require.NoError(t, err)

	descs, err := backend.Describe(context.Background(), result.Handles)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "STOPPED", descs[0].LastStatus)
	require.NotNil(t, descs[0].ExitCode)
	assert.Equal(t, 0, *descs[0].ExitCode)

	_, err = backend.Describe(context.Background(), []string{"memory-task-9999"})
	assert.Error(t, err)
}
