// Package ecs adapts an AWS ECS Fargate cluster to the batch.ClusterBackend
// interface. Task handles are task ARNs.
package ecs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
)

// ecsAPI is the slice of the ECS client the backend uses.
type ecsAPI interface {
	ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	ListTaskDefinitions(ctx context.Context, params *ecs.ListTaskDefinitionsInput, optFns ...func(*ecs.Options)) (*ecs.ListTaskDefinitionsOutput, error)
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// ec2API is the slice of the EC2 client the backend uses.
type ec2API interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// Config selects the cluster resources submissions run against.
type Config struct {
	// Cluster is the ECS cluster name tasks are placed on.
	Cluster string `mapstructure:"name"`
	// TaskFamily selects the task definition family; the newest revision
	// is used.
	TaskFamily string `mapstructure:"task_family"`
	// Container is the container name the command override targets.
	Container string `mapstructure:"container"`
	// Subnets overrides subnet discovery when set.
	Subnets        []string `mapstructure:"subnets"`
	AssignPublicIP bool     `mapstructure:"assign_public_ip"`
}

// Backend implements batch.ClusterBackend on ECS.
type Backend struct {
	ecs    ecsAPI
	ec2    ec2API
	cfg    Config
	logger *zap.Logger
}

// New builds a Backend from an AWS SDK config.
func New(awsCfg aws.Config, cfg Config, logger *zap.Logger) *Backend {
	return &Backend{
		ecs:    ecs.NewFromConfig(awsCfg),
		ec2:    ec2.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger,
	}
}

// arnName returns the resource name at the end of an ARN.
func arnName(arn string) string {
	parts := strings.Split(arn, "/")
	return parts[len(parts)-1]
}

// ResolveProfile verifies the configured cluster exists, discovers the
// subnets tasks attach to, and picks the newest task definition revision.
func (b *Backend) ResolveProfile(ctx context.Context) (batch.Profile, error) {
	clusters, err := b.ecs.ListClusters(ctx, &ecs.ListClustersInput{})
	if err != nil {
		return batch.Profile{}, fmt.Errorf("failed to list clusters: %w", err)
	}
	found := false
	for _, arn := range clusters.ClusterArns {
		if arnName(arn) == b.cfg.Cluster {
			found = true
			break
		}
	}
	if !found {
		return batch.Profile{}, &batch.ConfigurationError{
			Resource: "cluster",
			Detail:   fmt.Sprintf("cluster %q not found", b.cfg.Cluster),
		}
	}

	subnets := b.cfg.Subnets
	if len(subnets) == 0 {
		out, err := b.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{})
		if err != nil {
			return batch.Profile{}, fmt.Errorf("failed to describe subnets: %w", err)
		}
		for _, sn := range out.Subnets {
			subnets = append(subnets, aws.ToString(sn.SubnetId))
		}
	}
	if len(subnets) == 0 {
		return batch.Profile{}, &batch.ConfigurationError{
			Resource: "subnets",
			Detail:   "no subnets visible to place tasks on",
		}
	}

	defs, err := b.ecs.ListTaskDefinitions(ctx, &ecs.ListTaskDefinitionsInput{
		FamilyPrefix: aws.String(b.cfg.TaskFamily),
		Sort:         ecstypes.SortOrderAsc,
	})
	if err != nil {
		return batch.Profile{}, fmt.Errorf("failed to list task definitions: %w", err)
	}
	if len(defs.TaskDefinitionArns) == 0 {
		return batch.Profile{}, &batch.ConfigurationError{
			Resource: "task definition",
			Detail:   fmt.Sprintf("no revisions registered for family %q", b.cfg.TaskFamily),
		}
	}
	latest := defs.TaskDefinitionArns[len(defs.TaskDefinitionArns)-1]

	b.logger.Debug("resolved cluster profile",
		zap.String("cluster", b.cfg.Cluster),
		zap.String("task_definition", latest),
		zap.Int("subnets", len(subnets)))

	return batch.Profile{
		Cluster:        b.cfg.Cluster,
		TaskDefinition: latest,
		Subnets:        subnets,
	}, nil
}

// Launch starts one Fargate task running command.
func (b *Backend) Launch(ctx context.Context, profile batch.Profile, command []string) (batch.LaunchResult, error) {
	assign := ecstypes.AssignPublicIpDisabled
	if b.cfg.AssignPublicIP {
		assign = ecstypes.AssignPublicIpEnabled
	}
	out, err := b.ecs.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(profile.Cluster),
		TaskDefinition: aws.String(profile.TaskDefinition),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        profile.Subnets,
				AssignPublicIp: assign,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{{
				Name:    aws.String(b.cfg.Container),
				Command: command,
			}},
		},
	})
	if err != nil {
		return batch.LaunchResult{}, fmt.Errorf("failed to run task: %w", err)
	}
	var result batch.LaunchResult
	for _, t := range out.Tasks {
		result.Handles = append(result.Handles, aws.ToString(t.TaskArn))
	}
	for _, f := range out.Failures {
		result.Failures = append(result.Failures, batch.LaunchFailure{
			Reason: aws.ToString(f.Reason),
			Detail: aws.ToString(f.Arn),
		})
	}
	return result, nil
}

// Stop terminates one task.
func (b *Backend) Stop(ctx context.Context, handle string, reason string) error {
	_, err := b.ecs.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(b.cfg.Cluster),
		Task:    aws.String(handle),
		Reason:  aws.String(reason),
	})
	if err != nil {
		return fmt.Errorf("failed to stop task %s: %w", handle, err)
	}
	return nil
}

type stillRunningError struct {
	pending []string
}

func (e *stillRunningError) Error() string {
	return fmt.Sprintf("%d task(s) not yet stopped", len(e.pending))
}

// WaitUntilStopped polls DescribeTasks with a constant delay until every
// handle reports STOPPED, giving up after maxAttempts polls.
func (b *Backend) WaitUntilStopped(ctx context.Context, handles []string, delay time.Duration, maxAttempts int) error {
	if len(handles) == 0 {
		return nil
	}
	attempt := 0
	operation := func() error {
		attempt++
		out, err := b.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(b.cfg.Cluster),
			Tasks:   handles,
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to describe tasks: %w", err))
		}
		var pending []string
		for _, t := range out.Tasks {
			if aws.ToString(t.LastStatus) != "STOPPED" {
				pending = append(pending, aws.ToString(t.TaskArn))
			}
		}
		if len(pending) == 0 {
			return nil
		}
		b.logger.Debug("tasks still running",
			zap.Int("pending", len(pending)),
			zap.Int("attempt", attempt))
		return &stillRunningError{pending: pending}
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1))
	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}
	var sre *stillRunningError
	if errors.As(err, &sre) {
		return &batch.TimeoutError{Attempts: maxAttempts, Delay: delay, Pending: sre.pending}
	}
	return err
}

// Describe reports the terminal state of each handle, using the first
// container's exit code as the task's.
func (b *Backend) Describe(ctx context.Context, handles []string) ([]batch.TaskDescription, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	out, err := b.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(b.cfg.Cluster),
		Tasks:   handles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe tasks: %w", err)
	}
	descs := make([]batch.TaskDescription, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		d := batch.TaskDescription{
			Handle:     aws.ToString(t.TaskArn),
			LastStatus: aws.ToString(t.LastStatus),
			StopReason: aws.ToString(t.StoppedReason),
		}
		if len(t.Containers) > 0 && t.Containers[0].ExitCode != nil {
			code := int(*t.Containers[0].ExitCode)
			d.ExitCode = &code
		}
		descs = append(descs, d)
	}
	return descs, nil
}
