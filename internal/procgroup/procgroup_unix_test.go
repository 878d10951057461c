// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopTerminatesWholeGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	p, err := Start(exec.Command("sh", "-c", `sleep 100 & echo $! > "$1"; wait`, "sh", pidFile))
	require.NoError(t, err)

	pgid, err := syscall.Getpgid(p.Pid())
	require.NoError(t, err)
	require.Equal(t, p.Pid(), pgid, "PID should be PGID leader")

	var child int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		child, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "background child should report its pid")

	require.NoError(t, p.Stop(2*time.Second))
	require.Error(t, p.Wait(), "SIGTERM exit is reported")

	require.Eventually(t, func() bool { return !running(child) },
		2*time.Second, 20*time.Millisecond, "background child should be gone")
}

// running reports whether pid exists and is not a zombie. Orphans are
// reparented to PID 1, which may never reap them.
func running(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 || i+2 >= len(data) {
		return false
	}
	state := data[i+2]
	return state != 'Z' && state != 'X'
}

func TestStopEscalatesToSIGKILL(t *testing.T) {
	p, err := Start(exec.Command("sh", "-c", "trap '' TERM; sleep 100"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Stop(100*time.Millisecond))
	require.Error(t, p.Wait())
	require.Less(t, time.Since(start), 5*time.Second)

	// Second Stop is a no-op.
	require.NoError(t, p.Stop(time.Millisecond))
}

func TestStopAfterExit(t *testing.T) {
	p, err := Start(exec.Command("true"))
	require.NoError(t, err)
	require.NoError(t, p.Wait())
	require.NoError(t, p.Stop(time.Second))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Run(ctx, exec.Command("sleep", "100"), time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunExitCode(t *testing.T) {
	require.NoError(t, Run(context.Background(), exec.Command("true"), time.Second))
	err := Run(context.Background(), exec.Command("false"), time.Second)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(exec.Command("/nonexistent/lsdvr-tool"))
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = Start(nil)
	require.ErrorIs(t, err, ErrNotStarted)
}
