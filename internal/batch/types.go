// Package batch defines core types shared across the job submission,
// wait, and reduce subsystems.
package batch

import (
	"fmt"
	"time"
)

// Flavor identifies one of the scrapers a job can run.
type Flavor string

// Scrape flavors understood by the remote worker image.
const (
	FlavorCourtSummary Flavor = "court_summary"
	FlavorPortal       Flavor = "portal"
	FlavorBail         Flavor = "bail"
)

// KnownFlavors lists every flavor accepted by JobSpec.Validate.
var KnownFlavors = []Flavor{FlavorCourtSummary, FlavorPortal, FlavorBail}

// KnownFlavor reports whether f is one of the flavors workers implement.
func KnownFlavor(f Flavor) bool {
	for _, k := range KnownFlavors {
		if f == k {
			return true
		}
	}
	return false
}

// ErrorsPolicy controls how the remote worker treats per-record scrape
// failures.
type ErrorsPolicy string

// Errors policy values forwarded on the worker command line.
const (
	ErrorsIgnore ErrorsPolicy = "ignore"
	ErrorsRaise  ErrorsPolicy = "raise"
)

// JobSpec captures one batch submission: which scraper to run, over which
// dataset, and how to split and pace the work.
type JobSpec struct {
	Flavor       Flavor       `json:"flavor"`
	Dataset      string       `json:"dataset"`
	SearchBy     string       `json:"search_by,omitempty"`
	Sample       int          `json:"sample,omitempty"`
	Tag          string       `json:"tag,omitempty"`
	Errors       ErrorsPolicy `json:"errors"`
	Sleep        int          `json:"sleep"`
	LogFreq      int          `json:"log_freq"`
	Seed         int          `json:"seed"`
	Interval     int          `json:"interval"`
	TimeLimit    int          `json:"time_limit"`
	Partitions   int          `json:"partitions"`
	OutputFolder string       `json:"output_folder,omitempty"`
	DryRun       bool         `json:"dry_run,omitempty"`
	Debug        bool         `json:"debug,omitempty"`
}

// Validate reports the first structural problem with the spec.
func (s JobSpec) Validate() error {
	if s.Dataset == "" {
		return fmt.Errorf("dataset is required")
	}
	if !KnownFlavor(s.Flavor) {
		return fmt.Errorf("unknown flavor %q", s.Flavor)
	}
	if s.Flavor == FlavorPortal && s.SearchBy == "" {
		return fmt.Errorf("flavor %q requires search-by", FlavorPortal)
	}
	if s.Partitions < 1 {
		return fmt.Errorf("partitions must be at least 1, got %d", s.Partitions)
	}
	if s.Errors != ErrorsIgnore && s.Errors != ErrorsRaise {
		return fmt.Errorf("errors must be %q or %q, got %q", ErrorsIgnore, ErrorsRaise, s.Errors)
	}
	if s.Sample < 0 {
		return fmt.Errorf("sample must not be negative, got %d", s.Sample)
	}
	return nil
}

// Profile is the resolved compute-cluster coordinates a launch runs
// against. It is produced once by ClusterBackend.ResolveProfile and passed
// explicitly to every launch.
type Profile struct {
	Cluster        string   `json:"cluster"`
	TaskDefinition string   `json:"task_definition"`
	Subnets        []string `json:"subnets"`
}

// LaunchFailure is one provisioning failure reported by the cluster for a
// single launch request.
type LaunchFailure struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// LaunchResult records the cluster's response to launching one partition.
type LaunchResult struct {
	Partition int             `json:"partition"`
	Handles   []string        `json:"handles"`
	Failures  []LaunchFailure `json:"failures,omitempty"`
}

// Failed reports whether the launch produced no runnable task: the cluster
// returned zero handles and at least one failure entry.
func (r LaunchResult) Failed() bool {
	return len(r.Handles) == 0 && len(r.Failures) > 0
}

// Submission is the outcome of fanning a job out: one LaunchResult per
// partition, in partition order, plus the resolved output folder the
// partitions write under.
type Submission struct {
	RunID        string         `json:"run_id"`
	Spec         JobSpec        `json:"spec"`
	OutputFolder string         `json:"output_folder"`
	Results      []LaunchResult `json:"results"`
}

// Handles flattens every task handle across all partitions.
func (s Submission) Handles() []string {
	var handles []string
	for _, r := range s.Results {
		handles = append(handles, r.Handles...)
	}
	return handles
}

// TaskDescription is the terminal state of one cluster task.
type TaskDescription struct {
	Handle     string `json:"handle"`
	LastStatus string `json:"last_status"`
	StopReason string `json:"stop_reason,omitempty"`
	// ExitCode is nil when the container never ran.
	ExitCode *int `json:"exit_code,omitempty"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// DeriveOutputFolder returns the default output location for a dataset,
// stamped with the submission date: results/<dataset>/<YYYY-MM-DD>.
func DeriveOutputFolder(dataset string, now time.Time) string {
	return fmt.Sprintf("results/%s/%s", dataset, now.Format("2006-01-02"))
}

// ChunkFolder returns the subfolder partition outputs are written to.
func ChunkFolder(outputFolder string) string {
	return outputFolder + "/chunks"
}
