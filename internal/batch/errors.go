package batch

import (
	"fmt"
	"time"
)

// ConfigurationError means a cluster resource the submission depends on
// could not be resolved: the named cluster is absent, no task definition is
// registered, or no subnets are visible.
type ConfigurationError struct {
	Resource string
	Detail   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cluster configuration: %s: %s", e.Resource, e.Detail)
}

// ProvisioningError means at least one partition produced no runnable task.
// Every task that did start has already been stopped when this is returned.
type ProvisioningError struct {
	Partitions []int
	Failures   []LaunchFailure
}

func (e *ProvisioningError) Error() string {
	return "Error provisioning some tasks; all tasks stopped."
}

// TimeoutError means the completion barrier gave up before every task
// reached a terminal state. The remaining tasks are left running.
type TimeoutError struct {
	Attempts int
	Delay    time.Duration
	Pending  []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %d task(s) to stop after %d attempts (delay %s)",
		len(e.Pending), e.Attempts, e.Delay)
}
