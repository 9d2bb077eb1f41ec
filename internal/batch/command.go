package batch

import (
	"fmt"
	"strconv"
)

// BuildBaseCommand returns the worker argument vector shared by every
// partition of a job. The spec's OutputFolder must already be resolved.
// Optional flags appear only when set, so two specs differing only in
// unset options produce identical commands.
func BuildBaseCommand(spec JobSpec) []string {
	cmd := []string{
		"scrape", string(spec.Flavor), spec.Dataset,
		"--partitions", strconv.Itoa(spec.Partitions),
		"--sleep", strconv.Itoa(spec.Sleep),
		"--errors", string(spec.Errors),
		"--log-freq", strconv.Itoa(spec.LogFreq),
		"--seed", strconv.Itoa(spec.Seed),
		"--interval", strconv.Itoa(spec.Interval),
		"--time-limit", strconv.Itoa(spec.TimeLimit),
	}
	if spec.SearchBy != "" {
		cmd = append(cmd, "--search-by", spec.SearchBy)
	}
	if spec.Sample > 0 {
		cmd = append(cmd, "--sample", strconv.Itoa(spec.Sample))
	}
	if spec.Tag != "" {
		cmd = append(cmd, "--tag", spec.Tag)
	}
	if spec.DryRun {
		cmd = append(cmd, "--dry-run")
	}
	if spec.Debug {
		cmd = append(cmd, "--debug")
	}
	return append(cmd, "--output-folder", spec.OutputFolder)
}

// PartitionCommand extends base with the flag selecting one partition
// index. The base slice is left untouched.
func PartitionCommand(base []string, partition int) []string {
	cmd := make([]string, len(base), len(base)+1)
	copy(cmd, base)
	return append(cmd, fmt.Sprintf("--partition=%d", partition))
}
