package batch

import (
	"context"
	"time"
)

// ClusterBackend adapts a remote compute cluster to the launch/wait/stop
// lifecycle the coordinator needs. Handles are opaque task identifiers
// scoped to the backend.
type ClusterBackend interface {
	// ResolveProfile discovers the cluster, subnets, and newest task
	// definition a submission will run against. Resolution failures are
	// fatal and happen before any launch.
	ResolveProfile(ctx context.Context) (Profile, error)

	// Launch starts one task running command against the resolved profile.
	// A LaunchResult with failures and no handles means the cluster could
	// not place the task; an error means the request itself failed.
	Launch(ctx context.Context, profile Profile, command []string) (LaunchResult, error)

	// Stop terminates a running task. Used to roll back partial launches.
	Stop(ctx context.Context, handle string, reason string) error

	// WaitUntilStopped blocks until every handle reaches a terminal state,
	// polling with a fixed delay up to maxAttempts times. Exceeding the
	// attempt budget returns a TimeoutError with the tasks still running.
	WaitUntilStopped(ctx context.Context, handles []string, delay time.Duration, maxAttempts int) error

	// Describe reports the terminal state of each handle.
	Describe(ctx context.Context, handles []string) ([]TaskDescription, error)
}
