// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/lsdvr/internal/metrics"
)

// Process is a started command running in its own process group.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	stopOnce sync.Once
	stopErr  error
}

// Start puts cmd in a new process group and starts it.
func Start(cmd *exec.Cmd) (*Process, error) {
	if cmd == nil {
		return nil, ErrNotStarted
	}
	isolate(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotStarted, cmd.Path, err)
	}
	p := &Process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Pid of the group leader.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until exit and returns the exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Stop sends SIGTERM to the group, escalating to SIGKILL after grace.
// It returns once the process has exited. Repeated calls are no-ops.
func (p *Process) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		metrics.IncProcTerminate("SIGTERM", signalResult(signalGroup(p.cmd.Process, syscall.SIGTERM)))
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-p.done:
			metrics.IncProcWait(waitResult(p.err, false))
		case <-timer.C:
			err := signalGroup(p.cmd.Process, syscall.SIGKILL)
			metrics.IncProcTerminate("SIGKILL", signalResult(err))
			<-p.done
			metrics.IncProcWait(waitResult(p.err, true))
			if err != nil && !errors.Is(err, syscall.ESRCH) {
				p.stopErr = fmt.Errorf("kill process group: %w", err)
			}
		}
	})
	return p.stopErr
}

func waitResult(err error, forced bool) string {
	switch {
	case forced && err == nil:
		return "forced_exit0"
	case forced:
		return "forced_error"
	case err == nil:
		return "exit0"
	default:
		return "exit_nonzero"
	}
}

// Run starts cmd and waits for it. Cancelling ctx stops the whole group.
func Run(ctx context.Context, cmd *exec.Cmd, grace time.Duration) error {
	p, err := Start(cmd)
	if err != nil {
		return err
	}
	select {
	case <-p.Done():
		return p.Wait()
	case <-ctx.Done():
		_ = p.Stop(grace)
		return ctx.Err()
	}
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, syscall.ESRCH):
		return "esrch"
	default:
		return "error"
	}
}
