// Package memory provides an in-process cluster backend for development.
// Launched tasks complete immediately with exit code zero.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
)

type task struct {
	command    []string
	stopReason string
}

// Backend records launches and reports every task as stopped.
type Backend struct {
	mu     sync.Mutex
	logger *zap.Logger
	tasks  map[string]*task
	seq    int
}

// New creates an empty Backend.
func New(logger *zap.Logger) *Backend {
	return &Backend{logger: logger, tasks: make(map[string]*task)}
}

// ResolveProfile returns a fixed synthetic profile.
func (b *Backend) ResolveProfile(_ context.Context) (batch.Profile, error) {
	return batch.Profile{
		Cluster:        "memory",
		TaskDefinition: "memory:1",
		Subnets:        []string{"local"},
	}, nil
}

// Launch records the command and returns a synthetic handle.
func (b *Backend) Launch(_ context.Context, _ batch.Profile, command []string) (batch.LaunchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	handle := fmt.Sprintf("memory-task-%04d", b.seq)
	b.tasks[handle] = &task{command: append([]string(nil), command...)}
	b.logger.Debug("launched in-memory task",
		zap.String("handle", handle),
		zap.Strings("command", command))
	return batch.LaunchResult{Handles: []string{handle}}, nil
}

// Stop records the stop reason.
func (b *Backend) Stop(_ context.Context, handle string, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[handle]
	if !ok {
		return fmt.Errorf("no such task %q", handle)
	}
	t.stopReason = reason
	return nil
}

// WaitUntilStopped returns immediately: in-memory tasks never run.
func (b *Backend) WaitUntilStopped(_ context.Context, _ []string, _ time.Duration, _ int) error {
	return nil
}

// Describe reports every handle as stopped with exit code zero.
func (b *Backend) Describe(_ context.Context, handles []string) ([]batch.TaskDescription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	descs := make([]batch.TaskDescription, 0, len(handles))
	for _, h := range handles {
		t, ok := b.tasks[h]
		if !ok {
			return nil, fmt.Errorf("no such task %q", h)
		}
		code := 0
		descs = append(descs, batch.TaskDescription{
			Handle:     h,
			LastStatus: "STOPPED",
			StopReason: t.stopReason,
			ExitCode:   &code,
		})
	}
	return descs, nil
}

// Commands returns the recorded launch commands in launch order.
func (b *Backend) Commands() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds := make([][]string, 0, b.seq)
	for i := 1; i <= b.seq; i++ {
		handle := fmt.Sprintf("memory-task-%04d", i)
		if t, ok := b.tasks[handle]; ok {
			cmds = append(cmds, append([]string(nil), t.command...))
		}
	}
	return cmds
}
